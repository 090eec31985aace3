package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the stored form of a cached payload. It is always written whole.
type Entry struct {
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"storedAt"`
}

// Age returns how long ago the entry was stored.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Fresh reports whether the entry is younger than ttl. An entry exactly ttl
// old is stale.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return e.Age(now) < ttl
}

// StorageError is a failed cache read or write. The subscription only logs
// these; callers of ReadEntry and WriteEntry may inspect them.
type StorageError struct {
	Op  string // "read", "decode", "encode" or "write"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ReadEntry loads the entry stored under key. It returns nil, nil when the key
// is absent.
func ReadEntry(s Storage, key string) (*Entry, error) {
	raw, ok, err := s.Get(key)
	if err != nil {
		return nil, &StorageError{Op: "read", Key: key, Err: err}
	}
	if !ok {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, &StorageError{Op: "decode", Key: key, Err: err}
	}
	return &e, nil
}

// WriteEntry serializes payload and stores it under key with storedAt.
func WriteEntry(s Storage, key string, payload any, storedAt time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &StorageError{Op: "encode", Key: key, Err: err}
	}
	raw, err := json.Marshal(Entry{Payload: body, StoredAt: storedAt.UTC()})
	if err != nil {
		return &StorageError{Op: "encode", Key: key, Err: err}
	}
	if err := s.Set(key, string(raw)); err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}
