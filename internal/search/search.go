// Package search runs dense vector retrieval over the vector index
// manager, with optional BM25 sparse fusion (combined by reciprocal rank
// fusion) and cross-encoder reranking. The embedding, rerank, and LLM
// backends are narrow interfaces so they stay external collaborators
// the engine never constructs itself.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragindex/internal/apperr"
	"ragindex/internal/metrics"
	"ragindex/internal/model"
	"ragindex/internal/status"
	"ragindex/internal/vectorindex"
)

// Store is the subset of *store.Store the search engine depends on.
type Store interface {
	GetOrCreateIndexMetadata(ctx context.Context, key model.IndexKey, defaultPath string, defaultDim int) (*model.IndexMetadata, error)
	FindChunksByFaissIDs(ctx context.Context, tenant, namespace, embeddingVersion string, faissIDs []int64) (map[int64]*model.Chunk, error)
	LiveChunks(ctx context.Context, tenant, namespace, embeddingVersion string) ([]*model.Chunk, error)
}

// Embedder embeds the query text (the same contract as internal/embedder
// and internal/upsert, narrowed to this package's needs).
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryRewriter optionally rewrites a user query before it is embedded,
// e.g. a HyDE-style expansion that generates a hypothetical answer and
// embeds that instead. Off by default; when configured, only the
// embedding uses the rewritten text — the response envelope always
// carries the literal query.
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string) (string, error)
}

// RerankItem is one candidate passed to a Reranker.
type RerankItem struct {
	ChunkID string
	Text    string
}

// RerankedItem is a candidate with its cross-encoder score.
type RerankedItem struct {
	ChunkID string
	Score   float32
}

// Reranker cross-encodes (query, candidate) pairs and returns fresh
// scores from a cross-encoder model.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []RerankItem) ([]RerankedItem, error)
}

// Hit is one search result.
type Hit struct {
	ChunkID  string
	DocID    string
	Text     string
	Score    float32
	Metadata model.JSON
	Reranked bool
}

// Request is a search call.
type Request struct {
	TenantID         string
	Namespace        string
	Query            string
	TopK             int
	EmbeddingVersion string
	Hybrid           bool
	Rerank           bool
}

// Result is the search output.
type Result struct {
	Hits       []Hit
	TotalFound int
}

// Config tunes the optional hybrid/rerank stages.
type Config struct {
	DefaultEmbeddingVersion string
	DenseWeight             float64
	SparseWeight            float64
	RRFk                    int
	RerankCandidates        int
}

func (c *Config) setDefaults() {
	if c.DenseWeight == 0 && c.SparseWeight == 0 {
		c.DenseWeight, c.SparseWeight = 0.7, 0.3
	}
	if c.RRFk <= 0 {
		c.RRFk = 60
	}
	if c.RerankCandidates <= 0 {
		c.RerankCandidates = 20
	}
}

// Engine runs search requests against a Store and Embedder, with
// optional query rewriting and reranking.
type Engine struct {
	store    Store
	embedder Embedder
	indexDir string
	cfg      Config
	rewriter QueryRewriter
	reranker Reranker
	reporter *status.Reporter
	log      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithQueryRewriter(r QueryRewriter) Option { return func(e *Engine) { e.rewriter = r } }
func WithReranker(r Reranker) Option           { return func(e *Engine) { e.reranker = r } }
func WithReporter(r *status.Reporter) Option   { return func(e *Engine) { e.reporter = r } }

func New(store Store, embedder Embedder, indexDir string, cfg Config, log *zap.Logger, opts ...Option) *Engine {
	cfg.setDefaults()
	e := &Engine{store: store, embedder: embedder, indexDir: indexDir, cfg: cfg, log: log}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Search runs the retrieval pipeline, plus the optional hybrid/rerank
// stages, recording request-count and latency metrics for the /metrics
// surface.
func (e *Engine) Search(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	result, err := e.search(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SearchRequests.WithLabelValues(outcome).Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	return result, err
}

func (e *Engine) search(ctx context.Context, req Request) (Result, error) {
	if req.TenantID == "" || req.Namespace == "" || req.Query == "" {
		return Result{}, apperr.Validationf("search", "tenant_id, namespace, and query are required")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	version := req.EmbeddingVersion
	if version == "" {
		version = e.cfg.DefaultEmbeddingVersion
	}
	key := model.IndexKey{TenantID: req.TenantID, Namespace: req.Namespace, EmbeddingVersion: version}

	if e.reporter != nil {
		e.reporter.Searching(req.Namespace, req.Query)
	}

	meta, err := e.store.GetOrCreateIndexMetadata(ctx, key, indexFilePath(e.indexDir, req.TenantID, req.Namespace, version), 0)
	if err != nil {
		return Result{}, err
	}
	if meta.Ntotal == 0 {
		return Result{}, nil
	}

	index, err := vectorindex.Load(meta.FaissPath, meta.Dimension)
	if err != nil {
		return Result{}, err
	}

	embedQuery := req.Query
	if e.rewriter != nil {
		if rewritten, err := e.rewriter.Rewrite(ctx, req.Query); err == nil && rewritten != "" {
			embedQuery = rewritten
		} else if err != nil && e.log != nil {
			e.log.Warn("query rewrite failed, using literal query", zap.Error(err))
		}
	}
	vecs, err := e.embedder.Embed(ctx, []string{embedQuery})
	if err != nil {
		return Result{}, apperr.Dependency("search.embed", err)
	}
	if len(vecs) != 1 {
		return Result{}, apperr.Fatal("search.embed", fmt.Errorf("embedder returned no vector for the query"))
	}

	kPrime := topK * 3
	if int64(kPrime) > index.Ntotal() {
		kPrime = int(index.Ntotal())
	}
	dense, err := index.Search(vecs[0], kPrime)
	if err != nil {
		return Result{}, err
	}

	faissIDs := make([]int64, len(dense))
	for i, h := range dense {
		faissIDs[i] = h.FaissID
	}
	chunksByFaissID, err := e.store.FindChunksByFaissIDs(ctx, req.TenantID, req.Namespace, version, faissIDs)
	if err != nil {
		return Result{}, err
	}

	denseOrdered := make([]candidate, 0, len(dense))
	for _, h := range dense {
		c, ok := chunksByFaissID[h.FaissID]
		if !ok {
			continue
		}
		denseOrdered = append(denseOrdered, candidate{chunk: c, score: h.Score})
	}

	var ranked []candidate
	if req.Hybrid {
		ranked, err = e.fuseHybrid(ctx, key, req.Query, denseOrdered)
		if err != nil {
			return Result{}, err
		}
	} else {
		ranked = denseOrdered
	}

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	reranked := false
	if req.Rerank && e.reranker != nil && len(ranked) > 0 {
		ranked, err = e.applyRerank(ctx, req.Query, ranked, topK)
		if err != nil {
			return Result{}, err
		}
		reranked = true
	}

	hits := make([]Hit, len(ranked))
	for i, c := range ranked {
		hits[i] = Hit{
			ChunkID:  c.chunk.ChunkID,
			DocID:    c.chunk.DocID,
			Text:     c.chunk.Text,
			Score:    c.score,
			Metadata: c.chunk.Metadata,
			Reranked: reranked,
		}
	}
	return Result{Hits: hits, TotalFound: len(hits)}, nil
}

type candidate struct {
	chunk *model.Chunk
	score float32
}

func (e *Engine) applyRerank(ctx context.Context, query string, ranked []candidate, topK int) ([]candidate, error) {
	n := e.cfg.RerankCandidates
	if n > len(ranked) {
		n = len(ranked)
	}
	items := make([]RerankItem, n)
	for i := 0; i < n; i++ {
		items[i] = RerankItem{ChunkID: ranked[i].chunk.ChunkID, Text: ranked[i].chunk.Text}
	}
	scored, err := e.reranker.Rerank(ctx, query, items)
	if err != nil {
		metrics.RerankRequests.WithLabelValues("error").Inc()
		return nil, apperr.Dependency("search.rerank", err)
	}
	metrics.RerankRequests.WithLabelValues("ok").Inc()

	scoreByID := map[string]float32{}
	for _, s := range scored {
		scoreByID[s.ChunkID] = s.Score
	}

	head := make([]candidate, n)
	copy(head, ranked[:n])
	for i := range head {
		if s, ok := scoreByID[head[i].chunk.ChunkID]; ok {
			head[i].score = s
		}
	}
	sort.SliceStable(head, func(i, j int) bool { return head[i].score > head[j].score })

	out := append(head, ranked[n:]...)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// fuseHybrid combines dense ranking with a freshly built BM25 index over
// the key's live chunks by reciprocal rank fusion.
func (e *Engine) fuseHybrid(ctx context.Context, key model.IndexKey, query string, dense []candidate) ([]candidate, error) {
	idx, err := e.bm25For(ctx, key)
	if err != nil {
		return nil, err
	}
	if idx == nil || idx.empty() {
		return dense, nil
	}
	sparse := idx.scores(query)

	denseRank := map[string]int{}
	byID := map[string]*model.Chunk{}
	for i, c := range dense {
		denseRank[c.chunk.ChunkID] = i
		byID[c.chunk.ChunkID] = c.chunk
	}
	sparseRank := map[string]int{}
	for i, s := range sparse {
		sparseRank[s.chunkID] = i
		if byID[s.chunkID] == nil {
			byID[s.chunkID] = s.chunk
		}
	}

	allIDs := map[string]struct{}{}
	for id := range denseRank {
		allIDs[id] = struct{}{}
	}
	for id := range sparseRank {
		allIDs[id] = struct{}{}
	}

	k := float64(e.cfg.RRFk)
	combined := make([]candidate, 0, len(allIDs))
	for id := range allIDs {
		dr, ok := denseRank[id]
		if !ok {
			dr = len(dense)
		}
		sr, ok := sparseRank[id]
		if !ok {
			sr = len(sparse)
		}
		score := e.cfg.DenseWeight/(k+float64(dr)+1) + e.cfg.SparseWeight/(k+float64(sr)+1)
		combined = append(combined, candidate{chunk: byID[id], score: float32(score)})
	}
	sort.SliceStable(combined, func(i, j int) bool { return combined[i].score > combined[j].score })
	return combined, nil
}

func (e *Engine) bm25For(ctx context.Context, key model.IndexKey) (*bm25Index, error) {
	chunks, err := e.store.LiveChunks(ctx, key.TenantID, key.Namespace, key.EmbeddingVersion)
	if err != nil {
		return nil, err
	}
	return newBM25Index(chunks), nil
}

func indexFilePath(dir, tenant, namespace, version string) string {
	sanitize := func(s string) string {
		return strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
				return r
			}
			return '_'
		}, s)
	}
	return dir + "/" + sanitize(tenant) + "_" + sanitize(namespace) + "_" + sanitize(version) + ".faiss"
}

// bm25Index is an in-memory Okapi BM25 index over one key's live chunks,
// rebuilt per search call. No third-party BM25 implementation is wired
// into this module, so the scoring is hand-rolled.
type bm25Index struct {
	docs   []*model.Chunk
	terms  []map[string]int
	docLen []int
	avgLen float64
	df     map[string]int
}

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

func newBM25Index(chunks []*model.Chunk) *bm25Index {
	idx := &bm25Index{df: map[string]int{}}
	var totalLen int
	for _, c := range chunks {
		toks := tokenize(c.Text)
		tf := map[string]int{}
		for _, t := range toks {
			tf[t]++
		}
		idx.docs = append(idx.docs, c)
		idx.terms = append(idx.terms, tf)
		idx.docLen = append(idx.docLen, len(toks))
		totalLen += len(toks)
		for t := range tf {
			idx.df[t]++
		}
	}
	if len(idx.docs) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(idx.docs))
	}
	return idx
}

func (idx *bm25Index) empty() bool { return len(idx.docs) == 0 }

type scoredChunk struct {
	chunkID string
	chunk   *model.Chunk
	score   float64
}

func (idx *bm25Index) scores(query string) []scoredChunk {
	n := float64(len(idx.docs))
	qterms := tokenize(query)

	out := make([]scoredChunk, 0, len(idx.docs))
	for i, doc := range idx.docs {
		var score float64
		for _, t := range qterms {
			tf, ok := idx.terms[i][t]
			if !ok {
				continue
			}
			df := float64(idx.df[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*float64(idx.docLen[i])/nonZero(idx.avgLen))
			score += idf * (float64(tf) * (bm25K1 + 1)) / denom
		}
		if score > 0 {
			out = append(out, scoredChunk{chunkID: doc.ChunkID, chunk: doc, score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}
