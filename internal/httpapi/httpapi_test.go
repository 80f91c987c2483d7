package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ragindex/internal/apperr"
	"ragindex/internal/model"
	"ragindex/internal/queue"
	"ragindex/internal/search"
	"ragindex/internal/upsert"
)

type fakeStore struct {
	metas   []*model.IndexMetadata
	metaErr error
	pingErr error
}

func (f *fakeStore) ListIndexMetadata(ctx context.Context) ([]*model.IndexMetadata, error) {
	return f.metas, f.metaErr
}
func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

type fakeQueue struct {
	createdJobID string
	createErr    error
	job          *model.Job
	getErr       error
	stats        queue.Stats
	statsErr     error
}

func (f *fakeQueue) Create(ctx context.Context, jobID string, jobType model.JobType, payload model.JSON) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if jobID != "" {
		return jobID, nil
	}
	return f.createdJobID, nil
}
func (f *fakeQueue) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return f.job, f.getErr
}
func (f *fakeQueue) Stats(ctx context.Context) (queue.Stats, error) { return f.stats, f.statsErr }

type fakeCoordinator struct {
	result    upsert.Result
	upsertErr error
	deleted   int64
	deleteErr error
}

func (f *fakeCoordinator) Upsert(ctx context.Context, req upsert.Request) (upsert.Result, error) {
	return f.result, f.upsertErr
}
func (f *fakeCoordinator) Delete(ctx context.Context, docID, tenantID, namespace string) (int64, error) {
	return f.deleted, f.deleteErr
}

type fakeSearcher struct {
	result    search.Result
	searchErr error
}

func (f *fakeSearcher) Search(ctx context.Context, req search.Request) (search.Result, error) {
	return f.result, f.searchErr
}

func newTestServer(t *testing.T) (*Server, *fakeStore, *fakeQueue, *fakeCoordinator, *fakeSearcher) {
	t.Helper()
	st := &fakeStore{}
	q := &fakeQueue{createdJobID: "job-1"}
	co := &fakeCoordinator{}
	se := &fakeSearcher{}
	s := New(st, q, co, se, t.TempDir(), "v1", zap.NewNop())
	return s, st, q, co, se
}

func doRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUpsertOneReturnsChunkCounts(t *testing.T) {
	t.Parallel()
	s, _, _, co, _ := newTestServer(t)
	co.result = upsert.Result{ChunksCreated: 3, Strategy: "legal"}

	w := doRequest(s.Router(), http.MethodPost, "/v1/docs/upsert", map[string]any{
		"tenant_id": "t1", "namespace": "ns1", "doc_id": "d1", "text": "hello world",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["upserted_docs"])
	assert.Equal(t, float64(3), body["chunks_created"])
	assert.Equal(t, "legal", body["chunk_strategy"])
}

func TestUpsertOneReportsSkippedDoc(t *testing.T) {
	t.Parallel()
	s, _, _, co, _ := newTestServer(t)
	co.result = upsert.Result{Skipped: true, Strategy: "legal"}

	w := doRequest(s.Router(), http.MethodPost, "/v1/docs/upsert", map[string]any{
		"tenant_id": "t1", "namespace": "ns1", "doc_id": "d1", "text": "hello world",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["skipped_docs"])
	assert.Equal(t, float64(0), body["upserted_docs"])
}

func TestUpsertOneBadJSONReturns400(t *testing.T) {
	t.Parallel()
	s, _, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/docs/upsert", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpsertOneMapsValidationErrorTo400(t *testing.T) {
	t.Parallel()
	s, _, _, co, _ := newTestServer(t)
	co.upsertErr = apperr.Validation("upsert", assertError("bad doc"))

	w := doRequest(s.Router(), http.MethodPost, "/v1/docs/upsert", map[string]any{
		"tenant_id": "t1", "namespace": "ns1", "doc_id": "d1", "text": "x",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpsertBatchSyncAggregatesAcrossDocs(t *testing.T) {
	t.Parallel()
	s, _, _, co, _ := newTestServer(t)
	co.result = upsert.Result{ChunksCreated: 2, Strategy: "default"}

	w := doRequest(s.Router(), http.MethodPost, "/v1/docs/upsert/batch", map[string]any{
		"docs": []map[string]any{
			{"tenant_id": "t1", "namespace": "ns1", "doc_id": "d1", "text": "a"},
			{"tenant_id": "t1", "namespace": "ns1", "doc_id": "d2", "text": "b"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["upserted_docs"])
	assert.Equal(t, float64(4), body["chunks_created"])
}

func TestUpsertBatchAsyncModeEnqueuesJob(t *testing.T) {
	t.Parallel()
	s, _, q, _, _ := newTestServer(t)
	q.createdJobID = "job-async-1"

	w := doRequest(s.Router(), http.MethodPost, "/v1/docs/upsert/batch", map[string]any{
		"async_mode": true,
		"docs": []map[string]any{
			{"tenant_id": "t1", "namespace": "ns1", "doc_id": "d1", "text": "a"},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "job-async-1", body["job_id"])
	assert.Equal(t, float64(1), body["accepted"])
}

func TestDeleteDocEnqueuesRebuildJob(t *testing.T) {
	t.Parallel()
	s, _, q, co, _ := newTestServer(t)
	co.deleted = 5
	q.createdJobID = "rebuild-job-1"

	w := doRequest(s.Router(), http.MethodDelete, "/v1/docs/d1?tenant_id=t1&namespace=ns1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(5), body["chunks_deleted"])
	assert.Equal(t, "rebuild-job-1", body["job_id"])
}

func TestDeleteDocMapsNotFoundTo404(t *testing.T) {
	t.Parallel()
	s, _, _, co, _ := newTestServer(t)
	co.deleteErr = apperr.NotFound("delete", assertError("no such doc"))

	w := doRequest(s.Router(), http.MethodDelete, "/v1/docs/missing?tenant_id=t1&namespace=ns1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRebuildIndexUsesDefaultEmbeddingVersionWhenUnset(t *testing.T) {
	t.Parallel()
	s, _, q, _, _ := newTestServer(t)
	q.createdJobID = "rebuild-1"

	w := doRequest(s.Router(), http.MethodPost, "/v1/index/rebuild", map[string]any{
		"tenant_id": "t1", "namespace": "ns1",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rebuild-1", body["job_id"])
}

func TestJobStatusReturnsJob(t *testing.T) {
	t.Parallel()
	s, _, q, _, _ := newTestServer(t)
	q.job = &model.Job{JobID: "job-1", Status: model.JobRunning, Progress: 42}

	w := doRequest(s.Router(), http.MethodGet, "/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, 42, job.Progress)
}

func TestJobStatusUnknownJobMapsToNotFound(t *testing.T) {
	t.Parallel()
	s, _, q, _, _ := newTestServer(t)
	q.getErr = apperr.NotFound("job", assertError("no such job"))

	w := doRequest(s.Router(), http.MethodGet, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchReturnsHits(t *testing.T) {
	t.Parallel()
	s, _, _, _, se := newTestServer(t)
	se.result = search.Result{
		Hits: []search.Hit{
			{ChunkID: "c1", DocID: "d1", Text: "hello", Score: 0.9, Reranked: true},
		},
		TotalFound: 1,
	}

	w := doRequest(s.Router(), http.MethodPost, "/v1/search", map[string]any{
		"tenant": "t1", "namespace": "ns1", "query": "hello",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["total_found"])
	chunks := body["chunks"].([]any)
	require.Len(t, chunks, 1)
	first := chunks[0].(map[string]any)
	assert.Equal(t, "c1", first["chunk_id"])
	assert.Equal(t, true, first["reranked"])
}

func TestSearchMissingRequiredFieldReturns400(t *testing.T) {
	t.Parallel()
	s, _, _, _, _ := newTestServer(t)
	w := doRequest(s.Router(), http.MethodPost, "/v1/search", map[string]any{
		"tenant": "t1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthHealthyWhenStoreAndIndexDirOK(t *testing.T) {
	t.Parallel()
	s, _, _, _, _ := newTestServer(t)
	w := doRequest(s.Router(), http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthUnhealthyWhenStorePingFails(t *testing.T) {
	t.Parallel()
	s, st, _, _, _ := newTestServer(t)
	st.pingErr = assertError("connection refused")

	w := doRequest(s.Router(), http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
}

func TestIndexStatsReturnsIndices(t *testing.T) {
	t.Parallel()
	s, st, _, _, _ := newTestServer(t)
	st.metas = []*model.IndexMetadata{
		{TenantID: "t1", Namespace: "ns1", EmbeddingVersion: "v1", Ntotal: 100, Dimension: 768},
	}

	w := doRequest(s.Router(), http.MethodGet, "/v1/index/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	indices := body["indices"].([]any)
	require.Len(t, indices, 1)
	assert.Equal(t, "t1", indices[0].(map[string]any)["tenant_id"])
}

func TestQueueStatsReturnsCounts(t *testing.T) {
	t.Parallel()
	s, _, q, _, _ := newTestServer(t)
	q.stats = queue.Stats{Total: 10, Pending: 2, Running: 1, Completed: 6, Failed: 1}

	w := doRequest(s.Router(), http.MethodGet, "/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(10), body["total"])
	assert.Equal(t, float64(1), body["failed"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	t.Parallel()
	s, _, _, _, _ := newTestServer(t)
	w := doRequest(s.Router(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

type assertErrorString string

func (e assertErrorString) Error() string { return string(e) }

func assertError(msg string) error { return assertErrorString(msg) }
