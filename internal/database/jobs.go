package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatflow/internal/constants"
	"chatflow/internal/models"
)

// EnqueueJob inserts a pending job due at runAt.
func (d *Database) EnqueueJob(ctx context.Context, jobType string, payload interface{}, runAt time.Time) (int64, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode job payload: %w", err)
	}

	var id int64
	err = retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO scheduled_jobs (type, payload, run_at, status)
			VALUES (?, ?, ?, ?)
		`, jobType, string(encoded), runAt.UTC(), models.JobStatusPending)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	}, "enqueue job")
	if err != nil {
		return 0, err
	}
	return id, nil
}

const jobColumns = `id, type, payload, run_at, status, attempts, claimed_at, last_error, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.ScheduledJob, error) {
	var j models.ScheduledJob
	var payload string
	err := row.Scan(&j.ID, &j.Type, &payload, &j.RunAt, &j.Status, &j.Attempts,
		&j.ClaimedAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	j.Payload = json.RawMessage(payload)
	return &j, nil
}

func (d *Database) GetJob(ctx context.Context, id int64) (*models.ScheduledJob, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ClaimDueJobs claims up to limit due pending jobs in ascending run_at
// order. Each claim is an optimistic compare-and-swap: the conditional
// update only wins while the row is still pending, so a job selected by two
// overlapping ticks is claimed by exactly one. Losing the race is not an
// error; the loser just skips the job.
func (d *Database) ClaimDueJobs(ctx context.Context, limit int) ([]*models.ScheduledJob, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id FROM scheduled_jobs
		WHERE status = ? AND run_at <= ?
		ORDER BY run_at, id
		LIMIT ?
	`, models.JobStatusPending, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due jobs: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due jobs: %w", err)
	}

	var claimed []*models.ScheduledJob
	claimedAt := time.Now().UTC()
	for _, id := range ids {
		res, err := d.db.ExecContext(ctx, `
			UPDATE scheduled_jobs
			SET status = ?, attempts = attempts + 1, claimed_at = ?
			WHERE id = ? AND status = ?
		`, models.JobStatusProcessing, claimedAt, id, models.JobStatusPending)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			// Another tick won the race.
			continue
		}

		job, err := d.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			claimed = append(claimed, job)
		}
	}

	return claimed, nil
}

// CompleteJob marks a processing job completed.
func (d *Database) CompleteJob(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = ?, last_error = NULL WHERE id = ?
	`, models.JobStatusCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob records a failed attempt. Below the attempt cap the job is
// rescheduled with exponential backoff (2^attempts * base); at the cap it is
// marked permanently failed with the last error preserved for operators.
func (d *Database) FailJob(ctx context.Context, job *models.ScheduledJob, jobErr error) error {
	errMsg := jobErr.Error()

	if job.Attempts >= constants.JobMaxAttempts {
		_, err := d.db.ExecContext(ctx, `
			UPDATE scheduled_jobs SET status = ?, last_error = ? WHERE id = ?
		`, models.JobStatusFailed, errMsg, job.ID)
		if err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}
		return nil
	}

	delay := constants.JobRetryBaseDelay * (1 << uint(job.Attempts))
	runAt := time.Now().UTC().Add(delay)

	_, err := d.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = ?, run_at = ?, last_error = ?, claimed_at = NULL WHERE id = ?
	`, models.JobStatusPending, runAt, errMsg, job.ID)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

// ReclaimStaleJobs returns to pending any job claimed longer than maxAge
// ago and still processing, covering ticks that crashed after claiming.
// Staleness is judged by claimed_at, which only the claim itself writes.
// The reclaimed job's attempt from the crashed run stays counted.
func (d *Database) ReclaimStaleJobs(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := d.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = ?, claimed_at = NULL
		WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at < ?
	`, models.JobStatusPending, models.JobStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountPendingJobsByType is used by suspension logic and tests to verify the
// one-outstanding-resume-job invariant.
func (d *Database) CountPendingJobsByType(ctx context.Context, jobType string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scheduled_jobs WHERE type = ? AND status = ?
	`, jobType, models.JobStatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}
