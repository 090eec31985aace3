// Package cache implements a stale-while-revalidate layer over a live data
// subscription, backed by a durable key/value store.
package cache

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Prefix starts every key produced by Key, so maintenance can prune cache
// entries without touching other data in the same store.
const Prefix = "cache:"

// Storage is a synchronous durable key/value store. Implemented by
// storage.Store and MemoryStorage.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// Key scopes a cache entry to a resource and an identity, so two users of the
// same machine never see each other's cached collections.
func Key(resource, ownerID string) string {
	return Prefix + resource + ":" + ownerID
}

// ErrQuotaExceeded is returned by MemoryStorage when a write would exceed its
// size limit.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// MemoryStorage is an in-process Storage. A positive MaxBytes bounds the
// total size of stored keys and values.
type MemoryStorage struct {
	MaxBytes int

	mu   sync.Mutex
	data map[string]string
	size int
}

// NewMemoryStorage returns an empty, unbounded MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	size := m.size + len(key) + len(value)
	if old, ok := m.data[key]; ok {
		size -= len(key) + len(old)
	}
	if m.MaxBytes > 0 && size > m.MaxBytes {
		return fmt.Errorf("writing %q (%d bytes): %w", key, len(value), ErrQuotaExceeded)
	}
	m.data[key] = value
	m.size = size
	return nil
}

// Keys returns the stored keys that start with prefix.
func (m *MemoryStorage) Keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}
