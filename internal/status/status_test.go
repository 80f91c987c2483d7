package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportDisabledNeverCallsWebhook(t *testing.T) {
	t.Parallel()
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	r := New(Config{URL: srv.URL, Enabled: false}, nil)
	defer r.Close()

	r.Received("doc-1", "file.txt")
	time.Sleep(20 * time.Millisecond)
	assert.False(t, called)
}

func TestReportEnabledDeliversUpdate(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var received Update
	done := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&received)
		mu.Unlock()
		assert.Equal(t, "supersecret", r.Header.Get("X-Webhook-Secret"))
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	r := New(Config{URL: srv.URL, Secret: "supersecret", Enabled: true}, nil)
	defer r.Close()

	r.Chunking("doc-1", "legal")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "doc-1", received.DocID)
	assert.Equal(t, StageChunking, received.Stage)
	assert.Equal(t, "ragindex", received.Source)
}

func TestReportDropsUpdatesWhenQueueFull(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(Config{URL: srv.URL, Enabled: true, QueueSize: 1, Timeout: time.Second}, nil)
	defer func() {
		close(block)
		r.Close()
	}()

	for i := 0; i < 10; i++ {
		r.Report("doc-1", StageEmbedding, nil, "tick", nil, "")
	}
	// Should not block or panic even though the single in-flight request
	// never completes until block is closed.
}

func TestProgressFractionClampsToZeroWhenTotalIsZero(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, progressFraction(5, 0, 20))
}

func TestTruncateHonorsRuneBoundaries(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "he", truncate("hello", 2))
}

func TestFailedReportOnDisabledReporterDoesNotPanic(t *testing.T) {
	t.Parallel()
	r := New(Config{Enabled: false}, nil)
	defer r.Close()
	require.NotPanics(t, func() { r.Failed("doc-1", "embedding", "gpu out of memory") })
}
