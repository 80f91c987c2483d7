package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragindex/internal/apperr"
	"ragindex/internal/chunk/builtin"
	"ragindex/internal/config"
	"ragindex/internal/jobpayload"
	"ragindex/internal/model"
	"ragindex/internal/rebuild"
	"ragindex/internal/upsert"
)

type fakeUpsertStore struct {
	docs map[string]*model.Document
}

func newFakeUpsertStore() *fakeUpsertStore { return &fakeUpsertStore{docs: map[string]*model.Document{}} }

func (s *fakeUpsertStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	return nil, apperr.NotFoundf("store", "document %q not found", docID)
}
func (s *fakeUpsertStore) PutDocument(ctx context.Context, d *model.Document) error {
	s.docs[d.DocID] = d
	return nil
}
func (s *fakeUpsertStore) InsertChunks(ctx context.Context, chunks []*model.Chunk) error { return nil }
func (s *fakeUpsertStore) MarkChunksDeleted(ctx context.Context, docID string) error      { return nil }
func (s *fakeUpsertStore) MarkDocumentDeleted(ctx context.Context, docID string) (int64, error) {
	return 0, nil
}
func (s *fakeUpsertStore) GetOrCreateIndexMetadata(ctx context.Context, key model.IndexKey, defaultPath string, defaultDim int) (*model.IndexMetadata, error) {
	return &model.IndexMetadata{Dimension: defaultDim, FaissPath: defaultPath}, nil
}
func (s *fakeUpsertStore) UpdateIndexMetadata(ctx context.Context, key model.IndexKey, ntotal int64, dirty bool) error {
	return nil
}
func (s *fakeUpsertStore) MarkIndexDirty(ctx context.Context, key model.IndexKey) error { return nil }
func (s *fakeUpsertStore) SetFaissID(ctx context.Context, chunkID string, faissID int64) error {
	return nil
}
func (s *fakeUpsertStore) SetEmbeddingShadow(ctx context.Context, chunkID string, vector []float32) error {
	return nil
}

type fakeUpsertEmbedder struct{ dim int }

func (e *fakeUpsertEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func TestIngestDocsHandlerUpsertsEachDocument(t *testing.T) {
	t.Parallel()
	store := newFakeUpsertStore()
	coordinator := upsert.New(store, builtin.NewRegistry(), &fakeUpsertEmbedder{dim: 4}, t.TempDir(), "bge-m3", "v1", nil)
	handler := ingestDocsHandler(coordinator)

	payload, err := jobpayload.Encode(jobpayload.IngestDocs{Docs: []jobpayload.UpsertDoc{
		{TenantID: "acme", Namespace: "default", DocID: "doc-1", Text: "hello world"},
		{TenantID: "acme", Namespace: "default", DocID: "doc-2", Text: "goodbye world"},
	}})
	require.NoError(t, err)

	err = handler(context.Background(), &model.Job{Payload: payload})
	require.NoError(t, err)
	assert.Len(t, store.docs, 2)
}

func TestIngestDocsHandlerAggregatesPerDocFailures(t *testing.T) {
	t.Parallel()
	store := newFakeUpsertStore()
	coordinator := upsert.New(store, builtin.NewRegistry(), &fakeUpsertEmbedder{dim: 4}, t.TempDir(), "bge-m3", "v1", nil)
	handler := ingestDocsHandler(coordinator)

	payload, err := jobpayload.Encode(jobpayload.IngestDocs{Docs: []jobpayload.UpsertDoc{
		{TenantID: "", Namespace: "default", DocID: "doc-1", Text: "missing tenant id"},
	}})
	require.NoError(t, err)

	err = handler(context.Background(), &model.Job{Payload: payload})
	require.Error(t, err)
}

type fakeRebuildStore struct {
	chunks []*model.Chunk
}

func (s *fakeRebuildStore) LiveChunks(ctx context.Context, tenant, namespace, embeddingVersion string) ([]*model.Chunk, error) {
	return s.chunks, nil
}
func (s *fakeRebuildStore) GetOrCreateIndexMetadata(ctx context.Context, key model.IndexKey, defaultPath string, defaultDim int) (*model.IndexMetadata, error) {
	return &model.IndexMetadata{Dimension: defaultDim, FaissPath: defaultPath}, nil
}
func (s *fakeRebuildStore) UpdateIndexMetadata(ctx context.Context, key model.IndexKey, ntotal int64, dirty bool) error {
	return nil
}
func (s *fakeRebuildStore) SetFaissID(ctx context.Context, chunkID string, faissID int64) error {
	return nil
}
func (s *fakeRebuildStore) UpdateChunkEmbeddingVersion(ctx context.Context, chunkID, embeddingVersion, embeddingModelID string, faissID int64) error {
	return nil
}

type fakeRebuildEmbedder struct{ dim int }

func (e *fakeRebuildEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func TestRebuildIndexHandlerRunsEngineWithDecodedPayload(t *testing.T) {
	t.Parallel()
	store := &fakeRebuildStore{chunks: []*model.Chunk{{ChunkID: "c1", Text: "one"}}}
	engine := rebuild.New(store, &fakeRebuildEmbedder{dim: 4}, t.TempDir(), nil)
	handler := rebuildIndexHandler(engine)

	payload, err := jobpayload.Encode(jobpayload.RebuildIndex{TenantID: "acme", Namespace: "default", EmbeddingVersion: "v1"})
	require.NoError(t, err)

	err = handler(context.Background(), &model.Job{Payload: payload})
	require.NoError(t, err)
}

func TestOllamaBaseURLsSingleInstanceByDefault(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{OllamaMultiGPU: false, OllamaNumInstances: 1, OllamaBasePort: 11434}
	urls := ollamaBaseURLs(cfg)
	require.Len(t, urls, 1)
	assert.Equal(t, "http://localhost:11434", urls[0])
}

func TestOllamaBaseURLsMultiGPUFansOutByInstanceCount(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{OllamaMultiGPU: true, OllamaNumInstances: 2, OllamaBasePort: 11500}
	urls := ollamaBaseURLs(cfg)
	require.Len(t, urls, 2)
	assert.Equal(t, "http://localhost:11500", urls[0])
	assert.Equal(t, "http://localhost:11501", urls[1])
}
