// Package analyzerjobs is an in-memory submit/status/list/cancel
// wrapper around the analyzer, tracking async analysis requests
// separately from the persistent ingestion/rebuild job queue
// (internal/queue). Completed and failed jobs are garbage-collected
// lazily on the next access past their max age, rather than by a
// background sweep.
package analyzerjobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"ragindex/internal/analyzer"
	"ragindex/internal/apperr"
)

// Status is one of the states in the analyzer job's own state machine:
// pending → processing → {completed, failed}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one tracked analysis request.
type Job struct {
	JobID       string
	Filename    string
	MimeType    string
	Status      Status
	ProgressPct int
	Message     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Result      *analyzer.Result
	Error       string
}

func (j *Job) snapshot() *Job {
	cp := *j
	return &cp
}

// Service tracks analyzer jobs in memory.
type Service struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	maxAge  time.Duration
	analyze *analyzer.Analyzer
	log     *zap.Logger
}

func New(a *analyzer.Analyzer, maxAge time.Duration, log *zap.Logger) *Service {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Service{jobs: map[string]*Job{}, maxAge: maxAge, analyze: a, log: log}
}

func newJobID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Submit registers a new job and runs the analysis in a background
// goroutine, returning the job_id immediately.
func (s *Service) Submit(ctx context.Context, document, filename, mimeType string, forceParallel bool) string {
	jobID := newJobID()
	now := time.Now()
	job := &Job{JobID: jobID, Filename: filename, MimeType: mimeType, Status: StatusPending, CreatedAt: now, UpdatedAt: now}

	s.mu.Lock()
	s.gcLocked()
	s.jobs[jobID] = job
	s.mu.Unlock()

	go s.run(context.WithoutCancel(ctx), jobID, document)
	return jobID
}

func (s *Service) run(ctx context.Context, jobID, document string) {
	s.setProcessing(jobID)

	result, err := s.analyze.Analyze(ctx, jobID, document)

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return
	}
	now := time.Now()
	job.UpdatedAt = now
	job.CompletedAt = &now
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		if s.log != nil {
			s.log.Error("analyzer job failed", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}
	job.Status = StatusCompleted
	job.ProgressPct = 100
	job.Result = &result
}

func (s *Service) setProcessing(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.Status = StatusProcessing
		job.UpdatedAt = time.Now()
	}
}

// Status returns a snapshot of jobID's current state.
func (s *Service) Status(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcLocked()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, apperr.NotFoundf("analyzerjobs.status", "job %q not found", jobID)
	}
	return job.snapshot(), nil
}

// List returns a snapshot of every tracked job.
func (s *Service) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcLocked()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// Cancel deletes the job record only; running work is not preempted.
func (s *Service) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return apperr.NotFoundf("analyzerjobs.cancel", "job %q not found", jobID)
	}
	delete(s.jobs, jobID)
	return nil
}

// gcLocked removes completed/failed jobs older than maxAge. Callers must
// hold s.mu.
func (s *Service) gcLocked() {
	cutoff := time.Now().Add(-s.maxAge)
	for id, j := range s.jobs {
		if (j.Status == StatusCompleted || j.Status == StatusFailed) && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}
