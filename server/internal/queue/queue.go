// Package queue implements the persistent, database-backed job queue:
// atomic claim-one-per-worker semantics, retry/backoff bookkeeping, and
// stuck-job recovery. This is the Job Queue (C5).
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hallyuwire/corehub/server/internal/models"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("queue: job not found")

// stuckThreshold is how long a job may remain "running" before
// RecoverStuckJobs resets it to pending.
const stuckThreshold = 20 * time.Minute

// Queue wraps a *sqlx.DB with the job queue's operations.
type Queue struct {
	db *sqlx.DB
}

// New builds a Queue.
func New(db *sqlx.DB) *Queue {
	return &Queue{db: db}
}

// CreateJob inserts a pending row and returns its id.
func (q *Queue) CreateJob(ctx context.Context, jobType models.JobType, params any, priority, maxRetries int) (int64, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("queue: marshaling params: %w", err)
	}

	var id int64
	err = q.db.QueryRowContext(ctx, `
		INSERT INTO job_queue (job_type, status, params, priority, max_retries)
		VALUES ($1, 'pending', $2, $3, $4)
		RETURNING id
	`, jobType, paramsJSON, priority, maxRetries).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("queue: creating job: %w", err)
	}
	return id, nil
}

// ClaimPending atomically selects the highest-priority, oldest-created
// pending row, skipping rows already locked by a concurrent claim, and
// transitions it to running. Returns (nil, nil) if no job is available —
// this, not an error, is how "no work" is signaled, mirroring the
// source's nil-return contract.
func (q *Queue) ClaimPending(ctx context.Context, workerID string) (*models.JobQueue, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: beginning claim tx: %w", err)
	}
	defer tx.Rollback()

	var job models.JobQueue
	err = tx.GetContext(ctx, &job, `
		SELECT * FROM job_queue
		WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: selecting claimable job: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE job_queue SET status = 'running', started_at = $2, worker_id = $3
		WHERE id = $1
	`, job.ID, now, workerID)
	if err != nil {
		return nil, fmt.Errorf("queue: claiming job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: committing claim: %w", err)
	}

	job.Status = models.JobRunning
	job.StartedAt = &now
	job.WorkerID = workerID
	return &job, nil
}

// UpdateStatus transitions a job's status, COALESCE-merging result/error
// over the existing values and stamping completed_at on terminal states.
func (q *Queue) UpdateStatus(ctx context.Context, jobID int64, status models.JobStatus, result, errMsg *string) error {
	var completedAt *time.Time
	if status == models.JobCompleted || status == models.JobFailed || status == models.JobCancelled {
		now := time.Now().UTC()
		completedAt = &now
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE job_queue
		SET status = $2,
			result = COALESCE($3, result),
			error_msg = COALESCE($4, error_msg),
			completed_at = COALESCE($5, completed_at)
		WHERE id = $1
	`, jobID, status, result, errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("queue: updating status: %w", err)
	}
	return checkRowsAffected(res)
}

// IncrementRetry increments retry_count; once it reaches max_retries the
// job is flipped to failed, otherwise it is re-queued with worker fields
// cleared so a future claim can pick it up fresh.
func (q *Queue) IncrementRetry(ctx context.Context, jobID int64) (int, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("queue: beginning retry tx: %w", err)
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	err = tx.QueryRowContext(ctx, `
		UPDATE job_queue SET retry_count = retry_count + 1
		WHERE id = $1
		RETURNING retry_count, max_retries
	`, jobID).Scan(&retryCount, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("queue: incrementing retry: %w", err)
	}

	if retryCount >= maxRetries {
		_, err = tx.ExecContext(ctx, `
			UPDATE job_queue SET status = 'failed', completed_at = now() WHERE id = $1
		`, jobID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE job_queue
			SET status = 'pending', started_at = NULL, worker_id = '', error_msg = ''
			WHERE id = $1
		`, jobID)
	}
	if err != nil {
		return 0, fmt.Errorf("queue: transitioning after retry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("queue: committing retry: %w", err)
	}
	return retryCount, nil
}

// RecoverStuckJobs resets any row that has been "running" for longer
// than stuckThreshold back to pending, covering crashed workers. Run at
// worker startup.
func (q *Queue) RecoverStuckJobs(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-stuckThreshold)
	res, err := q.db.ExecContext(ctx, `
		UPDATE job_queue
		SET status = 'pending', started_at = NULL, worker_id = ''
		WHERE status = 'running' AND started_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("queue: recovering stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetJob fetches one job by id.
func (q *Queue) GetJob(ctx context.Context, jobID int64) (*models.JobQueue, error) {
	var job models.JobQueue
	err := q.db.GetContext(ctx, &job, `SELECT * FROM job_queue WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue: getting job: %w", err)
	}
	return &job, nil
}

// CancelJob cancels a pending job. Running/completed jobs cannot be
// cancelled (pending jobs only).
func (q *Queue) CancelJob(ctx context.Context, jobID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'cancelled', completed_at = now()
		WHERE id = $1 AND status = 'pending'
	`, jobID)
	if err != nil {
		return false, fmt.Errorf("queue: cancelling job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRecentJobs returns the most recently created jobs, newest first.
func (q *Queue) ListRecentJobs(ctx context.Context, limit int) ([]models.JobQueue, error) {
	jobs := make([]models.JobQueue, 0, limit)
	err := q.db.SelectContext(ctx, &jobs, `
		SELECT * FROM job_queue ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: listing recent jobs: %w", err)
	}
	return jobs, nil
}

// Stats is the queue's status breakdown.
type Stats struct {
	Pending   int64 `json:"pending" db:"pending"`
	Running   int64 `json:"running" db:"running"`
	Completed int64 `json:"completed" db:"completed"`
	Failed    int64 `json:"failed" db:"failed"`
}

// GetQueueStats returns a count of jobs per status.
func (q *Queue) GetQueueStats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := q.db.GetContext(ctx, &s, `
		SELECT
			count(*) FILTER (WHERE status = 'pending')   AS pending,
			count(*) FILTER (WHERE status = 'running')   AS running,
			count(*) FILTER (WHERE status = 'completed') AS completed,
			count(*) FILTER (WHERE status = 'failed')    AS failed
		FROM job_queue
	`)
	if err != nil {
		return nil, fmt.Errorf("queue: getting stats: %w", err)
	}
	return &s, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
