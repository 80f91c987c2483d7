package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ragindex/internal/analyzer"
	"ragindex/internal/analyzerjobs"
	"ragindex/internal/config"
	"ragindex/internal/gpulock"
	"ragindex/internal/gputask"
)

type fakeBatchClient struct{}

func (c *fakeBatchClient) Generate(ctx context.Context, prompt string) (string, error) {
	return `{"domain": "legal", "document_type": "contract", "main_topics": ["x"], "main_entities": [], "has_tables": false}`, nil
}

func newTestServerForAnalyzer(t *testing.T) *server {
	t.Helper()
	t.Setenv(gpulock.EnvLockPath, filepath.Join(t.TempDir(), "gpu.lock"))
	log := zap.NewNop()
	gtm := gputask.New(log)
	az := analyzer.New(gtm, []analyzer.BatchClient{&fakeBatchClient{}}, analyzer.Config{PagesPerBatch: 1}, log)
	jobs := analyzerjobs.New(az, 24*time.Hour, log)
	return &server{analyzer: az, jobs: jobs, log: log}
}

func doJSONRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf []byte
	if body != nil {
		buf, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthReturnsOK(t *testing.T) {
	t.Parallel()
	s := newTestServerForAnalyzer(t)
	w := doJSONRequest(s.router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAnalyzeSyncReturnsAggregatedResult(t *testing.T) {
	s := newTestServerForAnalyzer(t)
	w := doJSONRequest(s.router(), http.MethodPost, "/analyze", map[string]any{
		"doc_id": "doc-1", "document": "some contract text",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "doc-1", body["doc_id"])
	assert.Equal(t, "legal", body["domain"])
	assert.Equal(t, false, body["forced_parallel"])
}

func TestAnalyzeSyncMissingDocumentReturns400(t *testing.T) {
	s := newTestServerForAnalyzer(t)
	w := doJSONRequest(s.router(), http.MethodPost, "/analyze", map[string]any{"doc_id": "doc-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeAsyncJobLifecycle(t *testing.T) {
	s := newTestServerForAnalyzer(t)

	w := doJSONRequest(s.router(), http.MethodPost, "/analyze/async", map[string]any{
		"doc_id": "doc-2", "document": "some contract text",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	jobID, _ := accepted["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		w := doJSONRequest(s.router(), http.MethodGet, "/analyze/status/"+jobID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var job map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &job)
		return job["status"] == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	w = doJSONRequest(s.router(), http.MethodGet, "/analyze/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	jobs := listed["jobs"].([]any)
	assert.GreaterOrEqual(t, len(jobs), 1)

	w = doJSONRequest(s.router(), http.MethodDelete, "/analyze/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSONRequest(s.router(), http.MethodGet, "/analyze/status/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobStatusUnknownJobReturns404(t *testing.T) {
	s := newTestServerForAnalyzer(t)
	w := doJSONRequest(s.router(), http.MethodGet, "/analyze/status/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGPUStatusMapsMissingNvidiaSMIToDependencyError(t *testing.T) {
	s := newTestServerForAnalyzer(t)
	w := doJSONRequest(s.router(), http.MethodGet, "/gpu/status", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
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
	cfg := &config.Config{OllamaMultiGPU: true, OllamaNumInstances: 3, OllamaBasePort: 11434}
	urls := ollamaBaseURLs(cfg)
	require.Len(t, urls, 3)
	assert.Equal(t, "http://localhost:11434", urls[0])
	assert.Equal(t, "http://localhost:11435", urls[1])
	assert.Equal(t, "http://localhost:11436", urls[2])
}

func TestNewDocIDIsUnique(t *testing.T) {
	t.Parallel()
	a := newDocID()
	b := newDocID()
	assert.NotEqual(t, a, b)
}

func TestJobToJSONIncludesResultWhenPresent(t *testing.T) {
	t.Parallel()
	now := time.Now()
	job := &analyzerjobs.Job{
		JobID:     "job-1",
		Filename:  "doc.txt",
		MimeType:  "text/plain",
		Status:    "completed",
		CreatedAt: now,
		UpdatedAt: now,
		Result:    &analyzer.Result{Domain: "legal", DocumentType: "contract"},
	}
	out := jobToJSON(job)
	assert.Equal(t, "job-1", out["job_id"])
	result, ok := out["result"].(gin.H)
	require.True(t, ok)
	assert.Equal(t, "legal", result["domain"])
}

func TestJobToJSONOmitsResultWhenAbsent(t *testing.T) {
	t.Parallel()
	job := &analyzerjobs.Job{JobID: "job-2", Status: "pending"}
	out := jobToJSON(job)
	_, present := out["result"]
	assert.False(t, present)
}
