package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragindex/internal/model"
	"ragindex/internal/vectorindex"
)

type fakeStore struct {
	meta   *model.IndexMetadata
	chunks map[int64]*model.Chunk
	live   []*model.Chunk
}

func (s *fakeStore) GetOrCreateIndexMetadata(ctx context.Context, key model.IndexKey, defaultPath string, defaultDim int) (*model.IndexMetadata, error) {
	return s.meta, nil
}

func (s *fakeStore) FindChunksByFaissIDs(ctx context.Context, tenant, namespace, embeddingVersion string, faissIDs []int64) (map[int64]*model.Chunk, error) {
	out := make(map[int64]*model.Chunk, len(faissIDs))
	for _, id := range faissIDs {
		if c, ok := s.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (s *fakeStore) LiveChunks(ctx context.Context, tenant, namespace, embeddingVersion string) ([]*model.Chunk, error) {
	return s.live, nil
}

type fakeEmbedder struct {
	vector []float32
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func buildTestIndex(t *testing.T, vectors [][]float32) (*model.IndexMetadata, map[int64]*model.Chunk) {
	t.Helper()
	ix := vectorindex.New(len(vectors[0]))
	ids, err := ix.Add(vectors)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "idx.bin")
	require.NoError(t, vectorindex.Save(ix, path))

	chunks := make(map[int64]*model.Chunk, len(ids))
	for i, id := range ids {
		chunks[id] = &model.Chunk{
			ChunkID: "chunk-" + string(rune('a'+i)),
			DocID:   "doc-1",
			Text:    "text for chunk",
		}
	}
	meta := &model.IndexMetadata{
		TenantID: "acme", Namespace: "default", EmbeddingVersion: "v1",
		FaissPath: path, Ntotal: int64(len(vectors)), Dimension: len(vectors[0]),
	}
	return meta, chunks
}

func TestSearchValidatesRequiredFields(t *testing.T) {
	t.Parallel()
	e := New(&fakeStore{}, &fakeEmbedder{}, t.TempDir(), Config{}, nil)
	_, err := e.Search(context.Background(), Request{})
	require.Error(t, err)
}

func TestSearchReturnsEmptyWhenIndexHasNoVectors(t *testing.T) {
	t.Parallel()
	store := &fakeStore{meta: &model.IndexMetadata{Ntotal: 0}}
	e := New(store, &fakeEmbedder{}, t.TempDir(), Config{}, nil)

	result, err := e.Search(context.Background(), Request{TenantID: "acme", Namespace: "default", Query: "hello"})
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
}

func TestSearchReturnsDenseHitsInScoreOrder(t *testing.T) {
	t.Parallel()
	meta, chunks := buildTestIndex(t, [][]float32{{1, 0}, {0, 1}, {0.7, 0.7}})
	store := &fakeStore{meta: meta, chunks: chunks}
	e := New(store, &fakeEmbedder{vector: []float32{1, 0}}, t.TempDir(), Config{}, nil)

	result, err := e.Search(context.Background(), Request{
		TenantID: "acme", Namespace: "default", Query: "hello", TopK: 2,
	})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	assert.GreaterOrEqual(t, result.Hits[0].Score, result.Hits[1].Score)
	assert.False(t, result.Hits[0].Reranked)
}

type fakeReranker struct {
	flip bool
}

func (r *fakeReranker) Rerank(ctx context.Context, query string, items []RerankItem) ([]RerankedItem, error) {
	out := make([]RerankedItem, len(items))
	for i, it := range items {
		score := float32(len(items) - i)
		if r.flip {
			score = float32(i + 1)
		}
		out[i] = RerankedItem{ChunkID: it.ChunkID, Score: score}
	}
	return out, nil
}

func TestSearchAppliesRerankWhenRequested(t *testing.T) {
	t.Parallel()
	meta, chunks := buildTestIndex(t, [][]float32{{1, 0}, {0, 1}})
	store := &fakeStore{meta: meta, chunks: chunks}
	e := New(store, &fakeEmbedder{vector: []float32{1, 0}}, t.TempDir(), Config{}, nil,
		WithReranker(&fakeReranker{flip: true}))

	result, err := e.Search(context.Background(), Request{
		TenantID: "acme", Namespace: "default", Query: "hello", TopK: 2, Rerank: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	assert.True(t, result.Hits[0].Reranked)
}

type fakeRewriter struct {
	rewritten string
}

func (r *fakeRewriter) Rewrite(ctx context.Context, query string) (string, error) {
	return r.rewritten, nil
}

func TestSearchUsesRewrittenQueryForEmbeddingOnly(t *testing.T) {
	t.Parallel()
	meta, chunks := buildTestIndex(t, [][]float32{{1, 0}})
	store := &fakeStore{meta: meta, chunks: chunks}

	var embeddedText string
	embedder := embedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		embeddedText = texts[0]
		return [][]float32{{1, 0}}, nil
	})

	e := New(store, embedder, t.TempDir(), Config{}, nil, WithQueryRewriter(&fakeRewriter{rewritten: "expanded query"}))
	_, err := e.Search(context.Background(), Request{TenantID: "acme", Namespace: "default", Query: "literal query"})
	require.NoError(t, err)
	assert.Equal(t, "expanded query", embeddedText)
}

type embedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f embedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
