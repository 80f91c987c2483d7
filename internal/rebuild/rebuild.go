// Package rebuild rebuilds a (tenant, namespace, embedding_version)
// vector index from its live chunks, optionally re-embedding the chunks
// under a new embedding_version in the process. It is invoked
// exclusively through the job worker, never directly from the HTTP
// surface, since a full-key rebuild can take long enough to exceed a
// request timeout.
package rebuild

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"ragindex/internal/apperr"
	"ragindex/internal/model"
	"ragindex/internal/vectorindex"
)

// Store is the subset of *store.Store the rebuild engine depends on.
type Store interface {
	LiveChunks(ctx context.Context, tenant, namespace, embeddingVersion string) ([]*model.Chunk, error)
	GetOrCreateIndexMetadata(ctx context.Context, key model.IndexKey, defaultPath string, defaultDim int) (*model.IndexMetadata, error)
	UpdateIndexMetadata(ctx context.Context, key model.IndexKey, ntotal int64, dirty bool) error
	SetFaissID(ctx context.Context, chunkID string, faissID int64) error
	UpdateChunkEmbeddingVersion(ctx context.Context, chunkID, embeddingVersion, embeddingModelID string, faissID int64) error
}

// Embedder embeds a batch of texts into L2-normalized vectors, in input
// order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Request is a rebuild_index job payload.
type Request struct {
	TenantID            string
	Namespace           string
	EmbeddingVersion    string
	Reembed             bool
	NewEmbeddingVersion string
}

// Engine rebuilds a vector index file and its chunk-level bookkeeping
// from the Store's live chunks.
type Engine struct {
	store            Store
	embedder         Embedder
	indexDir         string
	embeddingModelID string
	log              *zap.Logger
}

func New(store Store, embedder Embedder, indexDir string, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{store: store, embedder: embedder, indexDir: indexDir, log: log}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmbeddingModelID records the model id a re-embed should stamp onto
// chunks moved to a new embedding version.
func WithEmbeddingModelID(id string) Option {
	return func(e *Engine) { e.embeddingModelID = id }
}

// Result reports what the rebuild did.
type Result struct {
	ChunksIndexed int64
}

// Rebuild embeds every live chunk in a (tenant, namespace,
// embedding_version) key again (moving the chunks to
// NewEmbeddingVersion when Reembed is set) and re-indexes them, writing
// a fresh FAISS index file and updating index metadata and per-chunk
// bookkeeping to match.
func (e *Engine) Rebuild(ctx context.Context, req Request) (Result, error) {
	chunks, err := e.store.LiveChunks(ctx, req.TenantID, req.Namespace, req.EmbeddingVersion)
	if err != nil {
		return Result{}, err
	}

	targetVersion := req.EmbeddingVersion
	if req.Reembed && req.NewEmbeddingVersion != "" {
		targetVersion = req.NewEmbeddingVersion
	}
	key := model.IndexKey{TenantID: req.TenantID, Namespace: req.Namespace, EmbeddingVersion: targetVersion}
	indexPath := indexFilePath(e.indexDir, req.TenantID, req.Namespace, targetVersion)

	if len(chunks) == 0 {
		dim := 1
		if meta, err := e.store.GetOrCreateIndexMetadata(ctx, key, indexPath, dim); err == nil {
			dim = meta.Dimension
		}
		empty := vectorindex.New(dim)
		if err := vectorindex.Save(empty, indexPath); err != nil {
			return Result{}, err
		}
		if err := e.store.UpdateIndexMetadata(ctx, key, 0, false); err != nil {
			return Result{}, err
		}
		return Result{}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		if req.Reembed {
			texts[i] = c.Text
		} else {
			texts[i] = c.EmbeddingInput()
		}
	}

	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return Result{}, apperr.Dependency("rebuild.embed", err)
	}
	if len(vectors) != len(chunks) {
		return Result{}, apperr.Fatal("rebuild.embed", fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	dim := len(vectors[0])

	if _, err := e.store.GetOrCreateIndexMetadata(ctx, key, indexPath, dim); err != nil {
		return Result{}, err
	}

	index := vectorindex.New(dim)
	faissIDs, err := index.Add(vectors)
	if err != nil {
		return Result{}, err
	}

	movingVersion := req.Reembed && req.NewEmbeddingVersion != ""
	for i, c := range chunks {
		id := faissIDs[i]
		if movingVersion {
			if err := e.store.UpdateChunkEmbeddingVersion(ctx, c.ChunkID, req.NewEmbeddingVersion, e.embeddingModelID, id); err != nil {
				return Result{}, err
			}
			continue
		}
		if err := e.store.SetFaissID(ctx, c.ChunkID, id); err != nil {
			return Result{}, err
		}
	}

	if err := vectorindex.Save(index, indexPath); err != nil {
		return Result{}, err
	}
	if err := e.store.UpdateIndexMetadata(ctx, key, index.Ntotal(), false); err != nil {
		return Result{}, err
	}

	if e.log != nil {
		e.log.Info("rebuild complete",
			zap.String("tenant", req.TenantID), zap.String("namespace", req.Namespace),
			zap.String("embedding_version", targetVersion), zap.Int("chunks", len(chunks)))
	}
	return Result{ChunksIndexed: int64(len(chunks))}, nil
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
	return filepath.Join(dir, sanitize(tenant)+"_"+sanitize(namespace)+"_"+sanitize(version)+".faiss")
}
