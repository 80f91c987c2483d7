package rebuild

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragindex/internal/model"
)

type fakeStore struct {
	chunks           []*model.Chunk
	meta             *model.IndexMetadata
	faissIDs         map[string]int64
	updatedNtotal    int64
	updatedDirty     bool
	movedVersions    map[string]string
	movedModelIDs    map[string]string
	movedFaissIDs    map[string]int64
}

func (s *fakeStore) LiveChunks(ctx context.Context, tenant, namespace, embeddingVersion string) ([]*model.Chunk, error) {
	return s.chunks, nil
}

func (s *fakeStore) GetOrCreateIndexMetadata(ctx context.Context, key model.IndexKey, defaultPath string, defaultDim int) (*model.IndexMetadata, error) {
	if s.meta != nil {
		return s.meta, nil
	}
	return &model.IndexMetadata{TenantID: key.TenantID, Namespace: key.Namespace, EmbeddingVersion: key.EmbeddingVersion, Dimension: defaultDim, FaissPath: defaultPath}, nil
}

func (s *fakeStore) UpdateIndexMetadata(ctx context.Context, key model.IndexKey, ntotal int64, dirty bool) error {
	s.updatedNtotal = ntotal
	s.updatedDirty = dirty
	return nil
}

func (s *fakeStore) SetFaissID(ctx context.Context, chunkID string, faissID int64) error {
	if s.faissIDs == nil {
		s.faissIDs = map[string]int64{}
	}
	s.faissIDs[chunkID] = faissID
	return nil
}

func (s *fakeStore) UpdateChunkEmbeddingVersion(ctx context.Context, chunkID, embeddingVersion, embeddingModelID string, faissID int64) error {
	if s.movedVersions == nil {
		s.movedVersions = map[string]string{}
		s.movedModelIDs = map[string]string{}
		s.movedFaissIDs = map[string]int64{}
	}
	s.movedVersions[chunkID] = embeddingVersion
	s.movedModelIDs[chunkID] = embeddingModelID
	s.movedFaissIDs[chunkID] = faissID
	return nil
}

type fakeEmbedder struct {
	dim int
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func TestRebuildEmptyChunksWritesEmptyIndex(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	e := New(store, &fakeEmbedder{dim: 4}, t.TempDir(), nil)

	result, err := e.Rebuild(context.Background(), Request{TenantID: "acme", Namespace: "default", EmbeddingVersion: "v1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.ChunksIndexed)
	assert.Equal(t, int64(0), store.updatedNtotal)
}

func TestRebuildIndexesLiveChunks(t *testing.T) {
	t.Parallel()
	store := &fakeStore{chunks: []*model.Chunk{
		{ChunkID: "c1", Text: "one"},
		{ChunkID: "c2", Text: "two"},
	}}
	e := New(store, &fakeEmbedder{dim: 4}, t.TempDir(), nil)

	result, err := e.Rebuild(context.Background(), Request{TenantID: "acme", Namespace: "default", EmbeddingVersion: "v1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.ChunksIndexed)
	assert.Equal(t, int64(2), store.updatedNtotal)
	assert.Len(t, store.faissIDs, 2)
}

func TestRebuildWithReembedUsesNewEmbeddingVersion(t *testing.T) {
	t.Parallel()
	store := &fakeStore{chunks: []*model.Chunk{{ChunkID: "c1", Text: "one", EmbeddingVersion: "v1"}}}
	e := New(store, &fakeEmbedder{dim: 4}, t.TempDir(), nil, WithEmbeddingModelID("bge-m3"))

	_, err := e.Rebuild(context.Background(), Request{
		TenantID: "acme", Namespace: "default", EmbeddingVersion: "v1",
		Reembed: true, NewEmbeddingVersion: "v2",
	})
	require.NoError(t, err)
	assert.Equal(t, "v2", store.movedVersions["c1"])
	assert.Equal(t, "bge-m3", store.movedModelIDs["c1"])
	assert.Empty(t, store.faissIDs, "reembed to a new version must not fall back to the faiss-id-only update path")
}

func TestRebuildErrorsWhenEmbedderReturnsMismatchedCount(t *testing.T) {
	t.Parallel()
	store := &fakeStore{chunks: []*model.Chunk{{ChunkID: "c1", Text: "one"}, {ChunkID: "c2", Text: "two"}}}
	e := New(store, mismatchedEmbedder{}, t.TempDir(), nil)

	_, err := e.Rebuild(context.Background(), Request{TenantID: "acme", Namespace: "default", EmbeddingVersion: "v1"})
	require.Error(t, err)
}

type mismatchedEmbedder struct{}

func (mismatchedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1, 2, 3}}, nil
}

func TestIndexFilePathSanitizesUnsafeCharacters(t *testing.T) {
	t.Parallel()
	got := indexFilePath("/data", "acme/corp", "default ns", "v1.0")
	assert.Equal(t, filepath.Join("/data", "acme_corp_default_ns_v1_0.faiss"), got)
}
