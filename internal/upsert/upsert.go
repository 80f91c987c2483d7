// Package upsert ties chunking, enrichment, embedding, the document/chunk
// store, and the vector index together into one idempotent upsert
// pipeline: hash the normalized text, skip unchanged documents, chunk
// and enrich changed ones, embed the result, and write chunks and index
// entries transactionally.
package upsert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"ragindex/internal/apperr"
	"ragindex/internal/chunk"
	"ragindex/internal/enrich"
	"ragindex/internal/metrics"
	"ragindex/internal/model"
	"ragindex/internal/status"
	"ragindex/internal/vectorindex"
)

// Store is the subset of *store.Store the coordinator depends on.
type Store interface {
	GetDocument(ctx context.Context, docID string) (*model.Document, error)
	PutDocument(ctx context.Context, d *model.Document) error
	InsertChunks(ctx context.Context, chunks []*model.Chunk) error
	MarkChunksDeleted(ctx context.Context, docID string) error
	MarkDocumentDeleted(ctx context.Context, docID string) (int64, error)
	GetOrCreateIndexMetadata(ctx context.Context, key model.IndexKey, defaultPath string, defaultDim int) (*model.IndexMetadata, error)
	UpdateIndexMetadata(ctx context.Context, key model.IndexKey, ntotal int64, dirty bool) error
	MarkIndexDirty(ctx context.Context, key model.IndexKey) error
	SetFaissID(ctx context.Context, chunkID string, faissID int64) error
	// SetEmbeddingShadow writes an operator-recovery shadow copy of the
	// vector alongside the FAISS index; it is best-effort and never
	// authoritative.
	SetEmbeddingShadow(ctx context.Context, chunkID string, vector []float32) error
}

// Embedder embeds a batch of texts into L2-normalized vectors, in input
// order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Coordinator runs the upsert and delete operations against a Store, a
// chunk Registry, and an Embedder.
type Coordinator struct {
	store            Store
	registry         *chunk.Registry
	embedder         Embedder
	enricher         *enrich.Enricher
	reporter         *status.Reporter
	indexDir         string
	embeddingModelID string
	embeddingVersion string
	log              *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithEnricher(e *enrich.Enricher) Option { return func(c *Coordinator) { c.enricher = e } }
func WithReporter(r *status.Reporter) Option { return func(c *Coordinator) { c.reporter = r } }

func New(store Store, registry *chunk.Registry, embedder Embedder, indexDir, embeddingModelID, embeddingVersion string, log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:            store,
		registry:         registry,
		embedder:         embedder,
		indexDir:         indexDir,
		embeddingModelID: embeddingModelID,
		embeddingVersion: embeddingVersion,
		log:              log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request is the upsert input.
type Request struct {
	TenantID      string
	Namespace     string
	DocID         string
	Text          string
	Source        string
	Metadata      model.JSON
	PolicyID      string
	ChunkStrategy string
	ChunkOverlap  int
	EnrichContext bool
}

// Result is the upsert output.
type Result struct {
	ChunksCreated int
	WasUpdate     bool
	Skipped       bool
	Strategy      string
}

var whitespaceRunRE = regexp.MustCompile(`\s+`)

// NormalizeText applies Unicode NFC then collapses whitespace runs; the
// result is what gets hashed to detect unchanged documents.
func NormalizeText(text string) string {
	nfc := norm.NFC.String(text)
	collapsed := whitespaceRunRE.ReplaceAllString(nfc, " ")
	return strings.TrimSpace(collapsed)
}

func hashText(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

var chunkTagRE = regexp.MustCompile(`^\[([^\]]+)\]`)

// linkParentChunks sets model.Chunk.ParentChunkID for the legal and
// financial_tables strategies' structured output, by reading the leading
// "[TAG]" marker each of those strategies prints:
//   - legal sub-articles tag themselves "[ARTIKEL N.M]"; they group under
//     article number N regardless of whether a plain "[ARTIKEL N]" chunk
//     exists (the legal strategy omits it when it had to split).
//   - financial_tables table splits repeat the same section tag verbatim
//     across several chunks; those form their own group.
// Within each group the first chunk encountered is the anchor and is left
// unlinked; every later chunk in the same group points ParentChunkID at
// the anchor's ChunkID. Untagged chunks, and groups of size one, are left
// untouched.
func linkParentChunks(chunks []*model.Chunk) {
	anchorByGroup := make(map[string]string, len(chunks))
	for _, ch := range chunks {
		m := chunkTagRE.FindStringSubmatch(ch.Text)
		if m == nil {
			continue
		}
		group := legalGroupKey(m[1])

		if anchor, ok := anchorByGroup[group]; ok {
			ch.ParentChunkID = anchor
		} else {
			anchorByGroup[group] = ch.ChunkID
		}
	}
}

// legalGroupKey folds a legal sub-article tag ("ARTIKEL 5.2") down to its
// article-level group key ("ARTIKEL 5"); any other tag groups on itself.
func legalGroupKey(tag string) string {
	const prefix = "ARTIKEL "
	if !strings.HasPrefix(tag, prefix) {
		return tag
	}
	num := tag[len(prefix):]
	if dot := strings.IndexByte(num, '.'); dot >= 0 {
		return prefix + num[:dot]
	}
	return tag
}

// Upsert runs the hash-then-skip upsert pipeline, recording pipeline
// latency and outcome counters for the /metrics surface.
func (c *Coordinator) Upsert(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	result, err := c.upsert(ctx, req)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case result.Skipped:
		outcome = "skipped"
	case result.WasUpdate:
		outcome = "updated"
	}
	metrics.DocumentsUpserted.WithLabelValues(outcome).Inc()
	metrics.UpsertDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if result.ChunksCreated > 0 {
		metrics.ChunksPersisted.WithLabelValues(result.Strategy).Add(float64(result.ChunksCreated))
	}
	return result, err
}

func (c *Coordinator) upsert(ctx context.Context, req Request) (Result, error) {
	if req.TenantID == "" || req.Namespace == "" || req.DocID == "" {
		return Result{}, apperr.Validationf("upsert", "tenant_id, namespace, and doc_id are required")
	}
	c.report(req.DocID, status.StageReceived, req.Source)

	normalized := NormalizeText(req.Text)
	docHash := hashText(normalized)

	existing, err := c.store.GetDocument(ctx, req.DocID)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return Result{}, err
	}

	wasUpdate := false
	if existing != nil {
		if existing.Live() && existing.DocHash == docHash {
			return Result{Skipped: true}, nil
		}
		if existing.Live() {
			if err := c.store.MarkChunksDeleted(ctx, req.DocID); err != nil {
				return Result{}, err
			}
			key := model.IndexKey{TenantID: req.TenantID, Namespace: req.Namespace, EmbeddingVersion: c.embeddingVersion}
			if err := c.store.MarkIndexDirty(ctx, key); err != nil {
				return Result{}, err
			}
			wasUpdate = true
		}
	}

	now := time.Now()
	doc := &model.Document{
		DocID:            req.DocID,
		TenantID:         req.TenantID,
		Namespace:        req.Namespace,
		Source:           req.Source,
		DocHash:          docHash,
		Metadata:         req.Metadata,
		PolicyID:         req.PolicyID,
		EmbeddingModelID: c.embeddingModelID,
		EmbeddingVersion: c.embeddingVersion,
		UpdatedAt:        now,
	}
	if existing != nil {
		doc.CreatedAt = existing.CreatedAt
	} else {
		doc.CreatedAt = now
	}
	if err := c.store.PutDocument(ctx, doc); err != nil {
		return Result{}, err
	}

	c.report(req.DocID, status.StageChunking, req.ChunkStrategy)
	meta := chunk.Metadata{}
	if req.Metadata != nil {
		for k, v := range req.Metadata {
			meta[k] = v
		}
	}
	texts, strategyUsed, err := c.registry.ChunkText(req.Text, req.ChunkStrategy, map[string]any{"overlap": req.ChunkOverlap}, meta)
	if err != nil {
		return Result{}, apperr.Fatal("upsert.chunk", err)
	}
	if len(texts) == 0 {
		return Result{WasUpdate: wasUpdate, Strategy: strategyUsed}, nil
	}

	chunks := make([]*model.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = &model.Chunk{
			ChunkID:          fmt.Sprintf("%s#c%04d", req.DocID, i),
			DocID:            req.DocID,
			TenantID:         req.TenantID,
			Namespace:        req.Namespace,
			ChunkHash:        hashText(t),
			Text:             t,
			PolicyID:         req.PolicyID,
			EmbeddingModelID: c.embeddingModelID,
			EmbeddingVersion: c.embeddingVersion,
			CreatedAt:        now,
		}
	}
	linkParentChunks(chunks)

	if req.EnrichContext && c.enricher != nil {
		c.report(req.DocID, status.StageEnriching, "")
		docMeta := enrich.DocMetadata{Filename: req.Source}
		raw := make([]string, len(chunks))
		for i, ch := range chunks {
			raw[i] = ch.Text
		}
		enriched := c.enricher.EnrichBatch(ctx, raw, docMeta)
		enrich.ApplyToChunks(chunks, enriched)
	}

	embedTexts := make([]string, len(chunks))
	for i, ch := range chunks {
		embedTexts[i] = ch.EmbeddingInput()
	}

	c.report(req.DocID, status.StageEmbedding, "")
	vectors, err := c.embedder.Embed(ctx, embedTexts)
	if err != nil {
		return Result{}, apperr.Dependency("upsert.embed", err)
	}
	if len(vectors) != len(chunks) {
		return Result{}, apperr.Fatal("upsert.embed", fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	dim := len(vectors[0])

	indexKey := model.IndexKey{TenantID: req.TenantID, Namespace: req.Namespace, EmbeddingVersion: c.embeddingVersion}
	indexPath := c.indexPath(req.TenantID, req.Namespace, c.embeddingVersion)
	indexMeta, err := c.store.GetOrCreateIndexMetadata(ctx, indexKey, indexPath, dim)
	if err != nil {
		return Result{}, err
	}
	if indexMeta.Dimension != dim {
		return Result{}, apperr.Conflict("upsert.index", fmt.Errorf(
			"index dimension %d does not match embedding dimension %d for tenant=%s namespace=%s version=%s; rebuild with a new embedding_version",
			indexMeta.Dimension, dim, indexKey.TenantID, indexKey.Namespace, indexKey.EmbeddingVersion))
	}

	index, err := vectorindex.Load(indexPath, dim)
	if err != nil {
		return Result{}, err
	}

	c.report(req.DocID, status.StageStoring, "")
	if err := c.store.InsertChunks(ctx, chunks); err != nil {
		return Result{}, err
	}

	faissIDs, err := index.Add(vectors)
	if err != nil {
		return Result{}, err
	}
	for i, ch := range chunks {
		ch.FaissID = &faissIDs[i]
		if err := c.store.SetFaissID(ctx, ch.ChunkID, faissIDs[i]); err != nil {
			return Result{}, err
		}
		if err := c.store.SetEmbeddingShadow(ctx, ch.ChunkID, vectors[i]); err != nil && c.log != nil {
			c.log.Warn("shadow embedding write failed, continuing (non-authoritative)",
				zap.String("chunk_id", ch.ChunkID), zap.Error(err))
		}
	}

	if err := vectorindex.Save(index, indexPath); err != nil {
		return Result{}, err
	}
	if err := c.store.UpdateIndexMetadata(ctx, indexKey, index.Ntotal(), false); err != nil {
		return Result{}, err
	}

	c.report(req.DocID, status.StageCompleted, "")
	return Result{ChunksCreated: len(chunks), WasUpdate: wasUpdate, Strategy: strategyUsed}, nil
}

// indexPath names the vector index file as
// {tenant}_{namespace}_{version}.faiss, path-sanitized.
func (c *Coordinator) indexPath(tenant, namespace, version string) string {
	sanitize := func(s string) string {
		return strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
				return r
			}
			return '_'
		}, s)
	}
	name := fmt.Sprintf("%s_%s_%s.faiss", sanitize(tenant), sanitize(namespace), sanitize(version))
	return filepath.Join(c.indexDir, name)
}

func (c *Coordinator) report(docID string, stage status.Stage, message string) {
	if c.reporter != nil {
		c.reporter.Report(docID, stage, nil, message, nil, "")
	}
}

// Delete soft-deletes a document and its chunks, marking the index dirty
// for the owning key so the rebuild engine picks it up. Returns the
// number of chunks it soft-deleted.
func (c *Coordinator) Delete(ctx context.Context, docID, tenantID, namespace string) (int64, error) {
	doc, err := c.store.GetDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	if !doc.Live() {
		return 0, apperr.NotFoundf("upsert.delete", "document %q already deleted", docID)
	}

	chunksDeleted, err := c.store.MarkDocumentDeleted(ctx, docID)
	if err != nil {
		return 0, err
	}

	key := model.IndexKey{TenantID: tenantID, Namespace: namespace, EmbeddingVersion: c.embeddingVersion}
	if err := c.store.MarkIndexDirty(ctx, key); err != nil {
		return chunksDeleted, err
	}
	metrics.DocumentsDeleted.Inc()
	return chunksDeleted, nil
}
