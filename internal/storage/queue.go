package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var jobColumns = []string{
	"id", "type", "payload_json", "status", "stage", "progress", "status_message",
	"result_json", "error_code", "suggestion", "attempts", "max_attempts",
	"run_after", "created_at", "updated_at", "last_error",
}

// EnqueueJob adds job to the render queue in the pending state.
func (s *Store) EnqueueJob(job Job) error {
	now := s.timestamp()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = formatTime(job.RunAfter)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	stage := job.Stage
	if stage == "" {
		stage = "QUEUED"
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, stage, progress, status_message, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, 0, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, stage, job.StatusMessage, maxAttempts, runAfter, now, now,
	)
	return err
}

// GetJob returns the queue entry with the given id.
func (s *Store) GetJob(id string) (Job, error) {
	query, args, err := builder.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Job{}, fmt.Errorf("building job query: %w", err)
	}
	j, err := scanJob(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

// ClaimNextJob atomically moves the oldest runnable pending job of one of the
// given types to running. It returns nil when nothing is runnable.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := s.timestamp()
	query, args, err := builder.Select(jobColumns...).From("jobs").
		Where(sq.Eq{"status": JobPending, "type": types}).
		Where(sq.LtOrEq{"run_after": now}).
		OrderBy("run_after ASC", "created_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building claim query: %w", err)
	}

	var j Job
	claimed := false
	err = s.inTx(func(tx *sql.Tx) error {
		var err error
		j, err = scanJob(tx.QueryRow(query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("selecting next job: %w", err)
		}
		res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
		if err != nil {
			return fmt.Errorf("updating job status: %w", err)
		}
		n, err := res.RowsAffected()
		claimed = n == 1
		return err
	})
	if err != nil || !claimed {
		return nil, err
	}

	j.Status = JobRunning
	if j.UpdatedAt, err = parseTime("updated_at", now); err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJobProgress records the stage a running job has reached.
func (s *Store) UpdateJobProgress(id, stage string, progress int, message string) error {
	res, err := s.db.Exec(`UPDATE jobs SET stage = ?, progress = ?, status_message = ?, updated_at = ? WHERE id = ?`,
		stage, progress, message, s.timestamp(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// CompleteJob marks id completed with the given result document.
func (s *Store) CompleteJob(id, resultJSON string) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'completed', stage = 'COMPLETE', progress = 100, status_message = 'Complete',
			result_json = ?, updated_at = ? WHERE id = ?`,
		resultJSON, s.timestamp(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// RejectJob fails id permanently without retrying. code and suggestion are
// surfaced to the polling client.
func (s *Store) RejectJob(id, errMsg, code, suggestion string) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'failed', stage = 'FAILED', status_message = 'Failed',
			last_error = ?, error_code = ?, suggestion = ?, updated_at = ? WHERE id = ?`,
		errMsg, code, suggestion, s.timestamp(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// FailJob records a transient failure. The job is retried with exponential
// backoff until max_attempts is reached, after which it becomes FAILED.
func (s *Store) FailJob(id string, errMsg string) error {
	return s.inTx(func(tx *sql.Tx) error {
		var attempts, maxAttempts int
		err := tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		attempts++

		if attempts >= maxAttempts {
			_, err = tx.Exec(`
				UPDATE jobs SET status = 'failed', stage = 'FAILED', status_message = 'Failed', error_code = 'render_failed',
					attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
				attempts, errMsg, formatTime(now), id)
			return err
		}
		runAfter := now.Add(time.Duration(math.Pow(2, float64(attempts))) * time.Second)
		_, err = tx.Exec(`
			UPDATE jobs SET status = 'pending', stage = 'QUEUED', progress = 0, status_message = 'Retrying',
				attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(runAfter), formatTime(now), id)
		return err
	})
}

// PurgeJobs deletes finished queue entries last updated before cutoff.
func (s *Store) PurgeJobs(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE status IN ('completed', 'failed') AND updated_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := row.Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Stage, &j.Progress, &j.StatusMessage,
		&j.ResultJSON, &j.ErrorCode, &j.Suggestion, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime("run_after", runAfter); err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Job{}, err
	}
	if j.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Job{}, err
	}
	return j, nil
}
