// internal/queue/store.go
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/models"
)

// Store persists scheduled jobs in Postgres. All mutations are
// crash-safe: a job survives process restarts in whatever state it was
// last committed.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Enqueue inserts a pending job due at scheduledAt.
func (s *Store) Enqueue(ctx context.Context, taskName string, args map[string]interface{}, scheduledAt time.Time) (*models.Job, error) {
	return enqueue(ctx, s.db, taskName, args, scheduledAt)
}

// EnqueueTx inserts a pending job inside an existing transaction so job
// creation commits atomically with its triggering domain write.
func (s *Store) EnqueueTx(ctx context.Context, tx *sql.Tx, taskName string, args map[string]interface{}, scheduledAt time.Time) (*models.Job, error) {
	return enqueue(ctx, tx, taskName, args, scheduledAt)
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func enqueue(ctx context.Context, q execQuerier, taskName string, args map[string]interface{}, scheduledAt time.Time) (*models.Job, error) {
	if taskName == "" {
		return nil, errors.NewValidationError("taskName is required")
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("arguments not serializable: %v", err))
	}

	job := &models.Job{
		TaskName:    taskName,
		Arguments:   args,
		Status:      models.JobPending,
		ScheduledAt: scheduledAt.UTC(),
	}

	err = q.QueryRowContext(ctx, `
		INSERT INTO scheduled_jobs (task_name, arguments, status, scheduled_at, retry_count)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING id`,
		taskName, argsJSON, models.JobPending, job.ScheduledAt,
	).Scan(&job.ID)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("enqueue", err)
	}
	return job, nil
}

// ClaimDue atomically claims up to limit due pending jobs. The row lock
// uses FOR UPDATE SKIP LOCKED so concurrent workers never block on or
// double-claim the same job. Claimed jobs move to running with a lease;
// a worker that dies mid-job releases its claim when the lease expires.
func (s *Store) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, task_name, arguments, retry_count
		FROM scheduled_jobs
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		models.JobPending, now, limit,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("claim_select", err)
	}

	var jobs []*models.Job
	for rows.Next() {
		var (
			job      models.Job
			argsJSON []byte
		)
		if err := rows.Scan(&job.ID, &job.TaskName, &argsJSON, &job.RetryCount); err != nil {
			rows.Close()
			return nil, errors.NewQueryExecutionFailedError("claim_scan", err)
		}
		if len(argsJSON) > 0 {
			if err := json.Unmarshal(argsJSON, &job.Arguments); err != nil {
				rows.Close()
				return nil, errors.NewQueryExecutionFailedError("claim_decode", err)
			}
		}
		jobs = append(jobs, &job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("claim_rows", err)
	}
	if len(jobs) == 0 {
		return nil, tx.Commit()
	}

	leaseExpiry := now.Add(lease)
	for _, job := range jobs {
		_, err := tx.ExecContext(ctx, `
			UPDATE scheduled_jobs
			SET status = $1, started_at = $2, lease_expires_at = $3
			WHERE id = $4`,
			models.JobRunning, now, leaseExpiry, job.ID,
		)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("claim_update", err)
		}
		job.Status = models.JobRunning
		job.StartedAt = &now
		job.LeaseExpiresAt = &leaseExpiry
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("claim_commit", err)
	}
	return jobs, nil
}

// Complete marks a running job completed. Terminal rows are never touched
// again; a stale worker completing a reaped-and-reclaimed job is a no-op.
func (s *Store) Complete(ctx context.Context, jobID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $1, completed_at = $2, lease_expires_at = NULL
		WHERE id = $3 AND status = $4`,
		models.JobCompleted, time.Now().UTC(), jobID, models.JobRunning,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("complete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewStateConflictError(fmt.Sprintf("job %d is not running", jobID))
	}
	return nil
}

// Fail marks a running job failed with a truncated error message.
func (s *Store) Fail(ctx context.Context, jobID int64, errMsg string) error {
	if len(errMsg) > 1000 {
		errMsg = errMsg[:1000]
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $1, completed_at = $2, error = $3, lease_expires_at = NULL
		WHERE id = $4 AND status = $5`,
		models.JobFailed, time.Now().UTC(), errMsg, jobID, models.JobRunning,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("fail", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewStateConflictError(fmt.Sprintf("job %d is not running", jobID))
	}
	return nil
}

// ReapExpiredLeases resets running jobs whose lease has lapsed back to
// pending so another worker can claim them. Returns the number of jobs
// recovered.
func (s *Store) ReapExpiredLeases(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $1, started_at = NULL, lease_expires_at = NULL,
		    retry_count = retry_count + 1
		WHERE status = $2 AND lease_expires_at < $3`,
		models.JobPending, models.JobRunning, time.Now().UTC(),
	)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("reap", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("reap_rows", err)
	}
	return n, nil
}

// GetByID loads a single job, used by inspection tooling.
func (s *Store) GetByID(ctx context.Context, jobID int64) (*models.Job, error) {
	var (
		job      models.Job
		argsJSON []byte
		errMsg   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_name, arguments, status, scheduled_at,
		       started_at, completed_at, error, retry_count, lease_expires_at
		FROM scheduled_jobs WHERE id = $1`,
		jobID,
	).Scan(
		&job.ID, &job.TaskName, &argsJSON, &job.Status, &job.ScheduledAt,
		&job.StartedAt, &job.CompletedAt, &errMsg, &job.RetryCount, &job.LeaseExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewResourceNotFoundError("Job", fmt.Sprintf("id: %d", jobID))
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_by_id", err)
	}
	job.Error = errMsg.String
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &job.Arguments); err != nil {
			return nil, errors.NewQueryExecutionFailedError("get_decode", err)
		}
	}
	return &job, nil
}

// CountByStatus returns job counts grouped by status, used by inspection
// tooling and health reporting.
func (s *Store) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM scheduled_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("count_by_status", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64)
	for rows.Next() {
		var (
			status models.JobStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewQueryExecutionFailedError("count_scan", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
