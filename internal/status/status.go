// Package status is a fire-and-forget webhook emitter notifying stage
// transitions during ingest/search. Updates are pushed onto a bounded
// channel drained by a single sender goroutine using one shared
// *http.Client, so a slow or unreachable webhook endpoint never blocks
// the pipeline — once the channel fills, further updates are dropped
// with a log line instead.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Stage is one pipeline transition.
type Stage string

const (
	StageReceived  Stage = "received"
	StageQueued    Stage = "queued"
	StageAnalyzing Stage = "analyzing"
	StageChunking  Stage = "chunking"
	StageEnriching Stage = "enriching"
	StageEmbedding Stage = "embedding"
	StageStoring   Stage = "storing"
	StageReranking Stage = "reranking"
	StageSearching Stage = "searching"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// Update is one status webhook payload.
type Update struct {
	Source      string         `json:"source"`
	Timestamp   string         `json:"timestamp"`
	DocID       string         `json:"doc_id"`
	Stage       Stage          `json:"stage"`
	ProgressPct *int           `json:"progress_pct,omitempty"`
	Message     string         `json:"message,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Reporter emits Updates to a configured webhook URL without ever
// blocking the caller.
type Reporter struct {
	url     string
	secret  string
	enabled bool
	client  *http.Client
	log     *zap.Logger
	queue   chan Update
}

// Config configures a Reporter.
type Config struct {
	URL     string
	Secret  string
	Enabled bool
	Timeout time.Duration
	// QueueSize bounds the in-process buffer; updates beyond this are
	// dropped with a log line rather than blocking the pipeline.
	QueueSize int
}

// New starts a Reporter with its sender goroutine. Call Close to drain
// and stop it on shutdown.
func New(cfg Config, log *zap.Logger) *Reporter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	r := &Reporter{
		url:     cfg.URL,
		secret:  cfg.Secret,
		enabled: cfg.Enabled,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
		queue:   make(chan Update, cfg.QueueSize),
	}
	go r.run()
	return r
}

func (r *Reporter) run() {
	for u := range r.queue {
		r.send(u)
	}
}

// Close closes the queue; the sender goroutine exits once it has sent
// the updates already queued. Close returns without waiting for those
// sends. It is safe to call at most once.
func (r *Reporter) Close() { close(r.queue) }

// Report enqueues an update, logging locally and dropping it with a
// warning if the queue is full — webhook delivery failures never affect
// the pipeline.
func (r *Reporter) Report(docID string, stage Stage, progressPct *int, message string, metadata map[string]any, errMsg string) {
	u := Update{
		Source:      "ragindex",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		DocID:       docID,
		Stage:       stage,
		ProgressPct: progressPct,
		Message:     message,
		Metadata:    metadata,
		Error:       errMsg,
	}

	if r.log != nil {
		if stage == StageFailed {
			r.log.Error("pipeline status", zap.String("doc_id", docID), zap.String("stage", string(stage)), zap.String("error", errMsg))
		} else {
			r.log.Info("pipeline status", zap.String("doc_id", docID), zap.String("stage", string(stage)), zap.String("message", message))
		}
	}

	if !r.enabled {
		return
	}

	select {
	case r.queue <- u:
	default:
		if r.log != nil {
			r.log.Warn("status webhook queue full, dropping update", zap.String("doc_id", docID), zap.String("stage", string(stage)))
		}
	}
}

func (r *Reporter) send(u Update) {
	body, err := json.Marshal(u)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source", "ragindex-pipeline")
	if r.secret != "" {
		req.Header.Set("X-Webhook-Secret", r.secret)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if r.log != nil {
			r.log.Warn("status webhook delivery failed", zap.Error(err))
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && r.log != nil {
		r.log.Warn("status webhook non-200 response", zap.Int("status", resp.StatusCode))
	}
}

func intPtr(v int) *int { return &v }

// Received, Analyzing, Chunking, Enriching, Embedding, Storing,
// Completed, Failed are per-stage convenience wrappers around Report.

func (r *Reporter) Received(docID, filename string) {
	r.Report(docID, StageReceived, intPtr(0), "document received: "+filename, map[string]any{"filename": filename}, "")
}

func (r *Reporter) Analyzing(docID, model string) {
	r.Report(docID, StageAnalyzing, intPtr(10), "analyzing document with "+model, map[string]any{"model": model}, "")
}

func (r *Reporter) Chunking(docID, strategy string) {
	r.Report(docID, StageChunking, intPtr(25), "chunking with strategy: "+strategy, map[string]any{"chunk_strategy": strategy}, "")
}

func (r *Reporter) Enriching(docID string, total, current int) {
	pct := 30 + progressFraction(current, total, 20)
	r.Report(docID, StageEnriching, intPtr(pct), "enriching chunk", map[string]any{"chunks_total": total, "chunks_done": current}, "")
}

func (r *Reporter) Embedding(docID string, total, current int, model string) {
	pct := 50 + progressFraction(current, total, 30)
	r.Report(docID, StageEmbedding, intPtr(pct), "embedding chunk", map[string]any{"chunks_total": total, "chunks_done": current, "model": model}, "")
}

func (r *Reporter) Storing(docID string, chunksCount int) {
	r.Report(docID, StageStoring, intPtr(85), "storing chunks in vector database", map[string]any{"chunks_count": chunksCount}, "")
}

func (r *Reporter) Completed(docID string, chunksStored int, duration time.Duration) {
	r.Report(docID, StageCompleted, intPtr(100), "completed", map[string]any{
		"chunks_stored": chunksStored,
		"duration_sec":  duration.Seconds(),
	}, "")
}

func (r *Reporter) Failed(docID, stage, errMsg string) {
	r.Report(docID, StageFailed, nil, "failed at "+stage, nil, errMsg)
}

func (r *Reporter) Searching(docID, query string) {
	r.Report(docID, StageSearching, nil, "searching vector database", map[string]any{"query_preview": truncate(query, 50)}, "")
}

func (r *Reporter) Reranking(docID string, candidates, topK int) {
	r.Report(docID, StageReranking, nil, "reranking candidates", map[string]any{"candidates": candidates, "top_k": topK}, "")
}

func progressFraction(current, total, span int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(current) / float64(total) * float64(span))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
