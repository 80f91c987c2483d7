package enrich

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragindex/internal/model"
)

type fakeGenerator struct {
	fail map[int]bool
}

func (g *fakeGenerator) GenerateContext(ctx context.Context, chunkText string, meta DocMetadata, workerID int) (string, error) {
	if g.fail != nil && g.fail[workerID] {
		return "", fmt.Errorf("generation failed")
	}
	return "context for " + chunkText, nil
}

func TestEnrichBatchDisabledReturnsMetadataPrefixOnly(t *testing.T) {
	t.Parallel()
	e := New(&fakeGenerator{}, false, 4, nil)
	out := e.EnrichBatch(context.Background(), []string{"alpha", "beta"}, DocMetadata{Filename: "f.txt"})
	require.Len(t, out, 2)
	assert.Contains(t, out[0], "[Document: f.txt]")
	assert.Contains(t, out[0], "alpha")
	assert.NotContains(t, out[0], "[Context:")
}

func TestEnrichBatchAppendsGeneratedContext(t *testing.T) {
	t.Parallel()
	e := New(&fakeGenerator{}, true, 4, nil)
	out := e.EnrichBatch(context.Background(), []string{"alpha"}, DocMetadata{Filename: "f.txt", DocumentType: "legal"})
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "[Document: f.txt]")
	assert.Contains(t, out[0], "[Type: legal]")
	assert.Contains(t, out[0], "[Context: context for alpha]")
	assert.Contains(t, out[0], "alpha")
}

func TestEnrichBatchFallsBackOnPerChunkFailure(t *testing.T) {
	t.Parallel()
	e := New(&fakeGenerator{fail: map[int]bool{1: true}}, true, 4, nil)
	out := e.EnrichBatch(context.Background(), []string{"a", "b", "c"}, DocMetadata{})
	require.Len(t, out, 3)
	assert.Contains(t, out[0], "[Context: context for a]")
	assert.NotContains(t, out[1], "[Context:")
	assert.Contains(t, out[2], "[Context: context for c]")
}

func TestEnrichBatchEmptyInputReturnsEmptySlice(t *testing.T) {
	t.Parallel()
	e := New(&fakeGenerator{}, true, 4, nil)
	out := e.EnrichBatch(context.Background(), nil, DocMetadata{})
	assert.Empty(t, out)
}

func TestEnrichBatchPreservesOrderUnderConcurrency(t *testing.T) {
	t.Parallel()
	e := New(&fakeGenerator{}, true, 2, nil)
	chunks := []string{"one", "two", "three", "four", "five"}
	out := e.EnrichBatch(context.Background(), chunks, DocMetadata{})
	require.Len(t, out, 5)
	for i, c := range chunks {
		assert.Contains(t, out[i], "context for "+c)
	}
}

func TestApplyToChunksSetsEmbedText(t *testing.T) {
	t.Parallel()
	chunks := []*model.Chunk{{ChunkID: "a", Text: "raw a"}, {ChunkID: "b", Text: "raw b"}}
	ApplyToChunks(chunks, []string{"enriched a", "enriched b"})
	assert.Equal(t, "enriched a", chunks[0].EmbedText)
	assert.Equal(t, "raw a", chunks[0].Text)
	assert.Equal(t, "enriched b", chunks[1].EmbedText)
}

func TestApplyToChunksIgnoresShorterEnrichedSlice(t *testing.T) {
	t.Parallel()
	chunks := []*model.Chunk{{ChunkID: "a"}, {ChunkID: "b"}}
	ApplyToChunks(chunks, []string{"only one"})
	assert.Equal(t, "only one", chunks[0].EmbedText)
	assert.Empty(t, chunks[1].EmbedText)
}
