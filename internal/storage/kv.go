package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Get returns the value stored under key. ok is false when the key is absent.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set overwrites the value stored under key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.timestamp(),
	)
	return err
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// PurgeKV deletes keys starting with prefix that were last written before
// olderThan, and returns how many were removed. An empty prefix matches every
// key.
func (s *Store) PurgeKV(prefix string, olderThan time.Time) (int64, error) {
	q := builder.Delete("kv").Where("updated_at < ?", formatTime(olderThan))
	if prefix != "" {
		q = q.Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building purge query: %w", err)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountKV returns the number of stored keys.
func (s *Store) CountKV() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM kv").Scan(&n)
	return n, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
