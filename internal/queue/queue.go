// Package queue is a pgx-backed persistent job queue with atomic
// claim-next-pending semantics: SELECT ... FOR UPDATE SKIP LOCKED lets
// several workers poll the same jobs table without claiming the same
// row twice.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragindex/internal/apperr"
	"ragindex/internal/metrics"
	"ragindex/internal/model"
)

// Queue is the persistent job queue.
type Queue struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Create inserts a pending job, generating a job_id if jobID is empty.
func (q *Queue) Create(ctx context.Context, jobID string, jobType model.JobType, payload model.JSON) (string, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	now := time.Now()
	_, err := q.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, type, payload, status, progress, created_at, updated_at)
		VALUES ($1,$2,$3,'pending',0,$4,$4)`, jobID, string(jobType), payload, now)
	if err != nil {
		return "", apperr.Transient("queue.create", err)
	}
	metrics.QueueJobsEnqueued.WithLabelValues(string(jobType)).Inc()
	return jobID, nil
}

// Get returns a job's current state, or a NotFound error.
func (q *Queue) Get(ctx context.Context, jobID string) (*model.Job, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT job_id, type, payload, status, progress, error, created_at, updated_at, started_at, completed_at
		FROM jobs WHERE job_id = $1`, jobID)

	j := &model.Job{}
	var jobType string
	if err := row.Scan(&j.JobID, &jobType, &j.Payload, &j.Status, &j.Progress, &j.Error,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("queue.get", "job %q not found", jobID)
		}
		return nil, apperr.Transient("queue.get", err)
	}
	j.Type = model.JobType(jobType)
	return j, nil
}

// UpdateStatus clamps progress to [0,100], stamps started_at on the
// first transition to running, and stamps completed_at (forcing
// progress to 100 on success) on a terminal status.
func (q *Queue) UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, progress *int, errMsg string) error {
	clamped := progress
	if progress != nil {
		p := *progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		clamped = &p
	}

	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET
			status = $2,
			progress = CASE WHEN $2 = 'completed' THEN 100 ELSE COALESCE($3, progress) END,
			error = CASE WHEN $4 <> '' THEN $4 ELSE error END,
			started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed','failed') THEN now() ELSE completed_at END,
			updated_at = now()
		WHERE job_id = $1`, jobID, string(status), clamped, errMsg)
	if err != nil {
		return apperr.Transient("queue.update_status", err)
	}
	return nil
}

// ClaimNextPending atomically claims the oldest pending job using
// SELECT ... FOR UPDATE SKIP LOCKED, so multiple workers never claim the
// same job.
func (q *Queue) ClaimNextPending(ctx context.Context) (*model.Job, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Transient("queue.claim_next_pending", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT job_id, type, payload, status, progress, error, created_at, updated_at, started_at, completed_at
		FROM jobs
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`)

	j := &model.Job{}
	var jobType string
	if err := row.Scan(&j.JobID, &jobType, &j.Payload, &j.Status, &j.Progress, &j.Error,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Transient("queue.claim_next_pending", err)
	}
	j.Type = model.JobType(jobType)

	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'running', started_at = $2, updated_at = $2 WHERE job_id = $1`,
		j.JobID, now); err != nil {
		return nil, apperr.Transient("queue.claim_next_pending", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Transient("queue.claim_next_pending", fmt.Errorf("commit: %w", err))
	}

	j.Status = model.JobRunning
	j.StartedAt = &now
	return j, nil
}

// Stats is the per-status job count.
type Stats struct {
	Total     int64
	Pending   int64
	Running   int64
	Completed int64
	Failed    int64
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.pool.Query(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return Stats{}, apperr.Transient("queue.stats", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, apperr.Transient("queue.stats", err)
		}
		s.Total += count
		switch model.JobStatus(status) {
		case model.JobPending:
			s.Pending = count
		case model.JobRunning:
			s.Running = count
		case model.JobCompleted:
			s.Completed = count
		case model.JobFailed:
			s.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	metrics.QueueDepth.Set(float64(s.Pending + s.Running))
	return s, nil
}
