package db

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Recompute Job Queue Operations
// =============================================================================
//
// The queue is at-least-once: a crashed worker's claim expires after the
// claim TTL and the job becomes claimable again, so processing must be
// idempotent. All claim safety lives in the database (conditional updates
// checked via RowsAffected), never in process-local locks, because several
// server instances and worker pools may share one database.

// EnqueueJob inserts a recompute job for a reporting unit, coalescing with
// any job that is already pending: a partial unique index on unit_id over
// unclaimed, unprocessed rows makes redundant enqueues no-ops. Returns the
// job ID when a row was inserted, or "" when coalesced.
func (db *DB) EnqueueJob(unitID string) (string, error) {
	jobID := uuid.NewString()

	query := `
		INSERT INTO jobs (id, unit_id, enqueued_at, attempts)
		VALUES (?, ?, ?, 0)
		ON CONFLICT DO NOTHING
	`

	result, err := db.Exec(query, jobID, unitID, time.Now().UTC())
	if err != nil {
		return "", err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", err
	}

	if rows == 0 {
		// A pending job for this unit already exists
		return "", nil
	}

	return jobID, nil
}

// ClaimJobs atomically claims up to n jobs that are unclaimed, or whose
// claim is older than claimTTL (a crashed worker's claim must eventually
// be reclaimable), and are not yet processed. Each claim is a conditional
// update on a single row: two concurrent callers can never claim the same
// job because only one update observes the row still claimable.
func (db *DB) ClaimJobs(n int, claimTTL time.Duration) ([]Job, error) {
	if n <= 0 {
		return []Job{}, nil
	}

	now := time.Now().UTC()
	expiredBefore := now.Add(-claimTTL)

	candidateQuery := `
		SELECT id
		FROM jobs
		WHERE processed_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at < ?)
		ORDER BY enqueued_at ASC
		LIMIT ?
	`

	rows, err := db.Query(candidateQuery, expiredBefore, n)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	rows.Close()

	if err = rows.Err(); err != nil {
		return nil, err
	}

	claimQuery := `
		UPDATE jobs
		SET claimed_at = ?, attempts = attempts + 1
		WHERE id = ?
		  AND processed_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at < ?)
	`

	var claimed []Job
	for _, id := range candidates {
		result, err := db.Exec(claimQuery, now, id, expiredBefore)
		if err != nil {
			return nil, err
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}

		// Another worker won the race for this row
		if affected == 0 {
			continue
		}

		job, err := db.GetJob(id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, *job)
	}

	if claimed == nil {
		claimed = []Job{}
	}

	return claimed, nil
}

// GetJob retrieves a job by ID
func (db *DB) GetJob(id string) (*Job, error) {
	job := &Job{}

	query := `
		SELECT id, unit_id, enqueued_at, claimed_at, processed_at, attempts, last_error
		FROM jobs
		WHERE id = ?
	`

	err := db.QueryRow(query, id).Scan(
		&job.ID,
		&job.UnitID,
		&job.EnqueuedAt,
		&job.ClaimedAt,
		&job.ProcessedAt,
		&job.Attempts,
		&job.LastError,
	)

	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return job, nil
}

// MarkJobProcessed records successful completion and clears the claim
func (db *DB) MarkJobProcessed(id string) error {
	query := `
		UPDATE jobs
		SET processed_at = ?, claimed_at = NULL, last_error = NULL
		WHERE id = ? AND processed_at IS NULL
	`

	result, err := db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkJobFailed records a processing failure. While attempts remain under
// maxAttempts the claim is cleared so the job becomes reclaimable; once
// the budget is exhausted the job is dead-lettered: processed_at is set
// with the error retained, and it is never claimed again. Returns true
// when the job went to the dead-letter state.
func (db *DB) MarkJobFailed(id string, jobErr error, maxAttempts int) (bool, error) {
	errMsg := jobErr.Error()

	job, err := db.GetJob(id)
	if err != nil {
		return false, err
	}

	if job.Attempts >= maxAttempts {
		query := `
			UPDATE jobs
			SET processed_at = ?, claimed_at = NULL, last_error = ?
			WHERE id = ? AND processed_at IS NULL
		`
		result, err := db.Exec(query, time.Now().UTC(), errMsg, id)
		if err != nil {
			return false, err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return false, err
		}
		if rows == 0 {
			return false, ErrNotFound
		}
		return true, nil
	}

	query := `
		UPDATE jobs
		SET claimed_at = NULL, last_error = ?
		WHERE id = ? AND processed_at IS NULL
	`
	result, err := db.Exec(query, errMsg, id)
	if err != nil {
		// Clearing the claim re-enters the pending partial index. If a newer
		// pending job for the same unit was enqueued while this one was
		// claimed, that job subsumes this recompute: drop the superseded row.
		if IsDuplicate(err) {
			_, delErr := db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
			return false, delErr
		}
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, ErrNotFound
	}

	return false, nil
}

// ListDeadLetters returns dead-lettered jobs, newest first. These are a
// standing operational signal, never silently dropped.
func (db *DB) ListDeadLetters(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, unit_id, enqueued_at, claimed_at, processed_at, attempts, last_error
		FROM jobs
		WHERE processed_at IS NOT NULL AND last_error IS NOT NULL
		ORDER BY processed_at DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		err := rows.Scan(
			&job.ID,
			&job.UnitID,
			&job.EnqueuedAt,
			&job.ClaimedAt,
			&job.ProcessedAt,
			&job.Attempts,
			&job.LastError,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if jobs == nil {
		jobs = []Job{}
	}

	return jobs, nil
}

// CountPendingJobs returns the number of jobs awaiting processing
func (db *DB) CountPendingJobs() (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE processed_at IS NULL`).Scan(&count)
	return count, err
}
