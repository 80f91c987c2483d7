package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ragindex/internal/metrics"
	"ragindex/internal/model"
)

// Handler processes one claimed job. Returning an error marks the job
// failed with that error's message; returning nil marks it completed.
type Handler func(ctx context.Context, job *model.Job) error

// Worker polls for pending jobs and dispatches them to registered
// handlers, the Go translation of job_queue.py's register_job_handler
// decorator + process_job + run_worker trio into an explicit map and
// method set.
type Worker struct {
	queue        *Queue
	handlers     map[model.JobType]Handler
	pollInterval time.Duration
	log          *zap.Logger
}

func NewWorker(q *Queue, log *zap.Logger, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{queue: q, handlers: map[model.JobType]Handler{}, pollInterval: pollInterval, log: log}
}

// Register binds jobType to handler, the Go equivalent of
// @register_job_handler(job_type).
func (w *Worker) Register(jobType model.JobType, handler Handler) {
	w.handlers[jobType] = handler
}

// Run polls until ctx is cancelled, claiming and dispatching one job per
// iteration and sleeping pollInterval when the queue is empty
// (job_queue.py's run_worker, with max_iterations replaced by ctx
// cancellation).
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("job worker starting", zap.Duration("poll_interval", w.pollInterval))
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("job worker stopping")
			return
		default:
		}

		job, err := w.queue.ClaimNextPending(ctx)
		if err != nil {
			w.log.Error("claim next pending job failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *model.Job) {
	w.log.Info("processing job", zap.String("job_id", job.JobID), zap.String("type", string(job.Type)))

	handler, ok := w.handlers[job.Type]
	if !ok {
		msg := fmt.Sprintf("no handler registered for job type %q", job.Type)
		w.log.Error("job failed", zap.String("job_id", job.JobID), zap.String("error", msg))
		_ = w.queue.UpdateStatus(ctx, job.JobID, model.JobFailed, nil, msg)
		metrics.QueueJobsCompleted.WithLabelValues(string(job.Type), "failed").Inc()
		return
	}

	if err := handler(ctx, job); err != nil {
		w.log.Error("job failed", zap.String("job_id", job.JobID), zap.Error(err))
		_ = w.queue.UpdateStatus(ctx, job.JobID, model.JobFailed, nil, err.Error())
		metrics.QueueJobsCompleted.WithLabelValues(string(job.Type), "failed").Inc()
		return
	}

	w.log.Info("job completed", zap.String("job_id", job.JobID))
	_ = w.queue.UpdateStatus(ctx, job.JobID, model.JobCompleted, nil, "")
	metrics.QueueJobsCompleted.WithLabelValues(string(job.Type), "completed").Inc()
}
