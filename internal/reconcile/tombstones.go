// Package reconcile hides optimistically deleted items from authoritative
// snapshots until the authoritative source agrees.
package reconcile

import (
	"context"
	"sort"
	"sync"
)

// Tombstones is a set of ids deleted locally but possibly still present in
// the authoritative collection. It is safe for concurrent use.
type Tombstones struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// New returns an empty tombstone set.
func New() *Tombstones {
	return &Tombstones{ids: make(map[string]struct{})}
}

// Apply tombstones id. Applying an id twice is the same as applying it once.
func (t *Tombstones) Apply(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[id] = struct{}{}
}

// Rollback removes id so the item shows again.
func (t *Tombstones) Rollback(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ids, id)
}

// Has reports whether id is tombstoned.
func (t *Tombstones) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

// Len returns the number of tombstoned ids.
func (t *Tombstones) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

// IDs returns the tombstoned ids in sorted order.
func (t *Tombstones) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.ids))
	for id := range t.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConfirmOrRollback runs the authoritative operation for an already
// tombstoned id. On failure the tombstone is removed and op's error returned;
// on success the tombstone stays until a snapshot no longer carries id.
func (t *Tombstones) ConfirmOrRollback(ctx context.Context, id string, op func(context.Context) error) error {
	if err := op(ctx); err != nil {
		t.Rollback(id)
		return err
	}
	return nil
}

// Reconcile drops tombstones for ids absent from the snapshot described by
// present, and returns the dropped ids.
func (t *Tombstones) Reconcile(present map[string]struct{}) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reconcileLocked(present)
}

func (t *Tombstones) reconcileLocked(present map[string]struct{}) []string {
	var dropped []string
	for id := range t.ids {
		if _, ok := present[id]; !ok {
			delete(t.ids, id)
			dropped = append(dropped, id)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// Observe processes one authoritative snapshot: tombstones the snapshot no
// longer carries are dropped, and the remaining tombstoned items are filtered
// out. The whole snapshot is processed under one lock, so concurrent
// snapshots are handled one at a time.
func Observe[T any](t *Tombstones, items []T, id func(T) string) []T {
	present := make(map[string]struct{}, len(items))
	for _, it := range items {
		present[id(it)] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconcileLocked(present)
	return filterLocked(t, items, id)
}

// Filter returns items whose ids are not tombstoned, without reconciling.
func Filter[T any](t *Tombstones, items []T, id func(T) string) []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return filterLocked(t, items, id)
}

func filterLocked[T any](t *Tombstones, items []T, id func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if _, dead := t.ids[id(it)]; !dead {
			out = append(out, it)
		}
	}
	return out
}
