package storage

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// UpsertJobRecord inserts rec or advances the stored state of an existing
// record. Descriptive fields (kind, prompt, project, created_at) are kept from
// the first write unless the stored value is empty, and an empty ResultURL
// never clears a stored one.
func (s *Store) UpsertJobRecord(rec JobRecord) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = updated
	}
	status := rec.StatusCode
	if status == "" {
		status = "QUEUED"
	}

	_, err := s.db.Exec(`
		INSERT INTO job_log (id, kind, prompt, project_id, status_code, progress, error, result_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind        = CASE WHEN job_log.kind = '' THEN excluded.kind ELSE job_log.kind END,
			prompt      = CASE WHEN job_log.prompt = '' THEN excluded.prompt ELSE job_log.prompt END,
			project_id  = CASE WHEN job_log.project_id = '' THEN excluded.project_id ELSE job_log.project_id END,
			status_code = excluded.status_code,
			progress    = excluded.progress,
			error       = excluded.error,
			result_url  = CASE WHEN excluded.result_url = '' THEN job_log.result_url ELSE excluded.result_url END,
			updated_at  = excluded.updated_at`,
		rec.ID, rec.Kind, rec.Prompt, rec.ProjectID, status, rec.Progress, rec.Error, rec.ResultURL,
		formatTime(created), formatTime(updated),
	)
	return err
}

// GetJobRecord returns the job log entry for id.
func (s *Store) GetJobRecord(id string) (JobRecord, error) {
	recs, err := s.queryJobRecords(builder.Select(jobLogColumns...).From("job_log").Where("id = ?", id))
	if err != nil {
		return JobRecord{}, err
	}
	if len(recs) == 0 {
		return JobRecord{}, ErrNotFound
	}
	return recs[0], nil
}

// JobRecordFilter narrows RecentJobRecords. Zero fields match everything.
type JobRecordFilter struct {
	Kind       string
	StatusCode string
	ProjectID  string
	Limit      int
}

// RecentJobRecords returns job log entries newest first.
func (s *Store) RecentJobRecords(f JobRecordFilter) ([]JobRecord, error) {
	q := builder.Select(jobLogColumns...).From("job_log").OrderBy("created_at DESC", "id ASC")
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.StatusCode != "" {
		q = q.Where("status_code = ?", f.StatusCode)
	}
	if f.ProjectID != "" {
		q = q.Where("project_id = ?", f.ProjectID)
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return s.queryJobRecords(q)
}

// PurgeJobRecords deletes finished job log entries last updated before cutoff.
func (s *Store) PurgeJobRecords(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM job_log WHERE updated_at < ? AND status_code IN ('COMPLETE', 'FAILED')`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var jobLogColumns = []string{"id", "kind", "prompt", "project_id", "status_code", "progress", "error", "result_url", "created_at", "updated_at"}

func (s *Store) queryJobRecords(q sq.Sqlizer) ([]JobRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building job log query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []JobRecord
	for rows.Next() {
		var r JobRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.Kind, &r.Prompt, &r.ProjectID, &r.StatusCode, &r.Progress, &r.Error, &r.ResultURL, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
