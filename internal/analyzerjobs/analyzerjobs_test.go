package analyzerjobs

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragindex/internal/analyzer"
	"ragindex/internal/gpulock"
)

type fakeClient struct {
	fail bool
}

func (c *fakeClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.fail {
		return "", fmt.Errorf("boom")
	}
	return `{"domain": "legal", "document_type": "contract", "main_topics": [], "main_entities": [], "has_tables": false}`, nil
}

func newTestAnalyzer(t *testing.T, fail bool) *analyzer.Analyzer {
	t.Helper()
	t.Setenv(gpulock.EnvLockPath, filepath.Join(t.TempDir(), "gpu.lock"))
	return analyzer.New(nil, []analyzer.BatchClient{&fakeClient{fail: fail}}, analyzer.Config{}, nil)
}

func TestSubmitTracksJobThroughCompletion(t *testing.T) {
	a := newTestAnalyzer(t, false)
	s := New(a, time.Hour, nil)

	jobID := s.Submit(context.Background(), "some document text", "report.pdf", "application/pdf", false)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		job, err := s.Status(jobID)
		return err == nil && job.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	job, err := s.Status(jobID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", job.Filename)
	assert.Equal(t, 100, job.ProgressPct)
	require.NotNil(t, job.Result)
	assert.Equal(t, "legal", job.Result.Domain)
	assert.NotNil(t, job.CompletedAt)
}

func TestSubmitMarksFailedOnAnalyzeError(t *testing.T) {
	a := newTestAnalyzer(t, true)
	s := New(a, time.Hour, nil)

	jobID := s.Submit(context.Background(), "doc text", "f.txt", "text/plain", false)

	require.Eventually(t, func() bool {
		job, err := s.Status(jobID)
		return err == nil && job.Status == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	job, err := s.Status(jobID)
	require.NoError(t, err)
	assert.NotEmpty(t, job.Error)
}

func TestStatusUnknownJobIsNotFound(t *testing.T) {
	t.Parallel()
	s := New(nil, time.Hour, nil)
	_, err := s.Status("does-not-exist")
	require.Error(t, err)
}

func TestListReturnsAllTrackedJobs(t *testing.T) {
	t.Parallel()
	s := New(nil, time.Hour, nil)
	s.mu.Lock()
	s.jobs["a"] = &Job{JobID: "a", Status: StatusPending}
	s.jobs["b"] = &Job{JobID: "b", Status: StatusPending}
	s.mu.Unlock()

	list := s.List()
	assert.Len(t, list, 2)
}

func TestCancelDeletesJobRecord(t *testing.T) {
	t.Parallel()
	s := New(nil, time.Hour, nil)
	s.mu.Lock()
	s.jobs["a"] = &Job{JobID: "a", Status: StatusPending}
	s.mu.Unlock()

	require.NoError(t, s.Cancel("a"))
	_, err := s.Status("a")
	require.Error(t, err)
}

func TestCancelUnknownJobIsNotFound(t *testing.T) {
	t.Parallel()
	s := New(nil, time.Hour, nil)
	require.Error(t, s.Cancel("missing"))
}

func TestGCRemovesOnlyOldCompletedJobs(t *testing.T) {
	t.Parallel()
	s := New(nil, time.Minute, nil)
	old := time.Now().Add(-time.Hour)
	recent := time.Now()

	s.mu.Lock()
	s.jobs["old-done"] = &Job{JobID: "old-done", Status: StatusCompleted, CompletedAt: &old}
	s.jobs["recent-done"] = &Job{JobID: "recent-done", Status: StatusCompleted, CompletedAt: &recent}
	s.jobs["still-running"] = &Job{JobID: "still-running", Status: StatusProcessing}
	s.mu.Unlock()

	list := s.List()
	ids := make(map[string]bool, len(list))
	for _, j := range list {
		ids[j.JobID] = true
	}
	assert.False(t, ids["old-done"])
	assert.True(t, ids["recent-done"])
	assert.True(t, ids["still-running"])
}
