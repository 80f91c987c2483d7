// Package enrich prepends a short LLM-generated context to each chunk
// before embedding, fanning batches out over a bounded
// golang.org/x/sync/errgroup with a semaphore and falling back to a
// metadata-only prefix on a per-chunk failure.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ragindex/internal/model"
)

// DocMetadata is the subset of document context passed to the enricher.
type DocMetadata struct {
	Filename     string
	DocumentType string
	MainTopics   []string
	MainEntities []string
}

// Generator produces a short context description for one chunk. The
// concrete implementation (an LLM chat endpoint) is an external
// collaborator; this package only owns batching, concurrency, and
// fallback.
type Generator interface {
	GenerateContext(ctx context.Context, chunkText string, meta DocMetadata, workerID int) (string, error)
}

// Enricher enriches chunk batches.
type Enricher struct {
	gen        Generator
	enabled    bool
	maxWorkers int
	log        *zap.Logger
}

func New(gen Generator, enabled bool, maxWorkers int, log *zap.Logger) *Enricher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Enricher{gen: gen, enabled: enabled, maxWorkers: maxWorkers, log: log}
}

// EnrichBatch returns one enriched text per input chunk, in the same
// order, never failing the batch on a per-chunk error
// (contextual_enricher.py's enrich_chunks_batch).
func (e *Enricher) EnrichBatch(ctx context.Context, chunks []string, meta DocMetadata) []string {
	out := make([]string, len(chunks))

	if !e.enabled || e.gen == nil || len(chunks) == 0 {
		for i, c := range chunks {
			out[i] = withPrefix(c, "", meta)
		}
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, e.maxWorkers)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			genCtx, cancel := context.WithCancel(gctx)
			defer cancel()

			contextStr, err := e.gen.GenerateContext(genCtx, chunk, meta, i)
			if err != nil {
				if e.log != nil {
					e.log.Warn("chunk enrichment failed, using metadata-only prefix", zap.Int("chunk_index", i), zap.Error(err))
				}
				out[i] = withPrefix(chunk, "", meta)
				return nil
			}
			out[i] = withPrefix(chunk, contextStr, meta)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// withPrefix combines chunk text with document/context headers the way
// contextual_enricher.py's enrich_chunk_with_context does.
func withPrefix(chunk, contextStr string, meta DocMetadata) string {
	var b strings.Builder
	if meta.Filename != "" {
		fmt.Fprintf(&b, "[Document: %s]\n", meta.Filename)
	}
	if meta.DocumentType != "" {
		fmt.Fprintf(&b, "[Type: %s]\n", meta.DocumentType)
	}
	if contextStr != "" {
		fmt.Fprintf(&b, "[Context: %s]\n", contextStr)
	}
	b.WriteString("\n")
	b.WriteString(chunk)
	return b.String()
}

// ApplyToChunks sets EmbedText on each chunk from its enriched text,
// leaving raw Text untouched (model.Chunk.EmbeddingInput prefers
// EmbedText when present).
func ApplyToChunks(chunks []*model.Chunk, enriched []string) {
	for i, c := range chunks {
		if i < len(enriched) {
			c.EmbedText = enriched[i]
		}
	}
}
