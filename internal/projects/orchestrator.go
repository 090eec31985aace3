// Package projects is the single source of truth for an owner's project
// collection. It serves the live collection through the stale-while-revalidate
// cache, hides optimistically deleted projects, and layers client-local
// favorites on top.
package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/thumbforge/internal/cache"
	"github.com/kalambet/thumbforge/internal/projectapi"
	"github.com/kalambet/thumbforge/internal/reconcile"
)

// Project is the item type of the collection.
type Project = projectapi.Project

// Feed opens a real-time subscription delivering the owner's full collection
// on every change. Implemented by projectapi.Client.
type Feed interface {
	Subscribe(ownerID string, onSnapshot func([]Project), onError func(error)) (unsubscribe func())
}

// Backend is the authoritative CRUD API. Implemented by projectapi.Client.
type Backend interface {
	CreateProject(ctx context.Context, in projectapi.CreateRequest) (Project, error)
	UpdateProject(ctx context.Context, id string, patch projectapi.Patch) (Project, error)
	DeleteProject(ctx context.Context, id string) error
}

// Tracker receives fire-and-forget analytics events.
type Tracker interface {
	Track(name string, props map[string]any)
}

// Config configures an Orchestrator.
type Config struct {
	OwnerID              string
	TTL                  time.Duration
	StaleWhileRevalidate bool
}

// Diagnostics are read-only sync indicators passed through from the cache.
type Diagnostics struct {
	Loading  bool
	Err      error
	IsStale  bool
	CacheHit bool
}

// CacheKey returns the cache key of ownerID's collection.
func CacheKey(ownerID string) string {
	return cache.Key("projects", ownerID)
}

// FavoritesKey returns the storage key of ownerID's favorites. It is outside
// the cache prefix so cache pruning never drops favorites.
func FavoritesKey(ownerID string) string {
	return "favorites:" + ownerID
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracker emits project analytics events to t.
func WithTracker(t Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithCacheOptions passes options to the underlying cache subscription.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(o *Orchestrator) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

// Orchestrator composes the cached live collection, deletion tombstones and
// local favorites.
type Orchestrator struct {
	owner      string
	store      cache.Storage
	backend    Backend
	tombstones *reconcile.Tombstones
	sub        *cache.Subscription[[]Project]
	cacheOpts  []cache.Option
	logger     *slog.Logger
	tracker    Tracker

	mu        sync.Mutex
	favorites map[string]bool

	// notifyMu guards listeners and the delivery flags. It is never held
	// while a listener runs.
	notifyMu   sync.Mutex
	listeners  []func([]Project)
	delivering bool
	pending    bool
}

// New creates an Orchestrator for cfg.OwnerID. store holds both the cached
// collection and the favorites.
func New(store cache.Storage, feed Feed, backend Backend, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		owner:      cfg.OwnerID,
		store:      store,
		backend:    backend,
		tombstones: reconcile.New(),
		logger:     slog.Default(),
		favorites:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("owner", cfg.OwnerID)

	subscribe := func(onData func([]Project), onError func(error)) func() {
		return feed.Subscribe(cfg.OwnerID, onData, onError)
	}
	cacheOpts := append([]cache.Option{cache.WithLogger(o.logger)}, o.cacheOpts...)
	o.sub = cache.NewSubscription(store, subscribe, cache.Options{
		Key:                  CacheKey(cfg.OwnerID),
		TTL:                  cfg.TTL,
		StaleWhileRevalidate: cfg.StaleWhileRevalidate,
	}, cacheOpts...)
	o.sub.OnChange(o.observe)
	return o
}

// Start loads favorites and opens the cached live subscription.
func (o *Orchestrator) Start() {
	o.loadFavorites()
	o.sub.Start()
}

// Close stops the live subscription.
func (o *Orchestrator) Close() {
	o.sub.Close()
}

// OnChange registers fn to receive the derived collection after every change.
// Listeners run in registration order on the goroutine that caused the
// change: the live feed's goroutine for snapshots, the caller's for
// RemoveProject and ToggleFavorite. Deliveries never overlap, and when
// changes arrive during a delivery the listeners next receive only the
// latest collection. A listener may call any method other than Start;
// changes it makes are delivered after it returns.
func (o *Orchestrator) OnChange(fn func([]Project)) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Projects returns the current collection: the live or cached snapshot minus
// tombstoned projects, with the favorite flag set from local state.
func (o *Orchestrator) Projects() []Project {
	st := o.sub.State()
	return o.annotate(reconcile.Filter(o.tombstones, st.Data, projectapi.IDOf))
}

// Diagnostics reports the cache's sync state.
func (o *Orchestrator) Diagnostics() Diagnostics {
	st := o.sub.State()
	return Diagnostics{Loading: st.Loading, Err: st.Err, IsStale: st.IsStale, CacheHit: st.CacheHit}
}

// Tombstoned returns the ids hidden pending deletion.
func (o *Orchestrator) Tombstoned() []string {
	return o.tombstones.IDs()
}

// CreateNewProject creates a project through the backend and returns the
// backend's representation. Nothing is added locally; the project shows up
// in Projects once the live feed delivers it.
func (o *Orchestrator) CreateNewProject(ctx context.Context, name string, isPublic bool) (*Project, error) {
	p, err := o.backend.CreateProject(ctx, projectapi.CreateRequest{OwnerID: o.owner, Name: name, IsPublic: isPublic})
	if err != nil {
		o.logger.Error("creating project failed", "name", name, "error", err)
		return nil, &MutationError{Op: OpCreate, Err: err}
	}
	o.track("project_created", map[string]any{"project_id": p.ID, "public": p.IsPublic})
	return &p, nil
}

// RemoveProject hides id immediately, then deletes it through the backend.
// If the backend rejects the delete the project reappears and a
// *MutationError is returned.
func (o *Orchestrator) RemoveProject(ctx context.Context, id string) error {
	o.tombstones.Apply(id)
	o.notify()

	err := o.tombstones.ConfirmOrRollback(ctx, id, func(ctx context.Context) error {
		return o.backend.DeleteProject(ctx, id)
	})
	if err != nil {
		o.logger.Error("deleting project failed, restored", "project_id", id, "error", err)
		o.notify()
		return &MutationError{Op: OpDelete, ID: id, Err: err}
	}

	o.mu.Lock()
	wasFavorite := o.favorites[id]
	delete(o.favorites, id)
	o.mu.Unlock()
	if wasFavorite {
		o.saveFavorites()
	}
	o.track("project_deleted", map[string]any{"project_id": id})
	return nil
}

// ToggleFavorite flips the local favorite flag of id and returns the new
// value. Favorites are never sent to the backend.
func (o *Orchestrator) ToggleFavorite(id string) bool {
	o.mu.Lock()
	fav := !o.favorites[id]
	if fav {
		o.favorites[id] = true
	} else {
		delete(o.favorites, id)
	}
	o.mu.Unlock()

	o.saveFavorites()
	o.track("favorite_toggled", map[string]any{"project_id": id, "favorite": fav})
	o.notify()
	return fav
}

// UpdateProject applies patch through the backend. The change reaches
// Projects through the live feed.
func (o *Orchestrator) UpdateProject(ctx context.Context, id string, patch projectapi.Patch) error {
	if patch.Empty() {
		return nil
	}
	if _, err := o.backend.UpdateProject(ctx, id, patch); err != nil {
		o.logger.Error("updating project failed", "project_id", id, "error", err)
		return &MutationError{Op: OpUpdate, ID: id, Err: err}
	}
	o.track("project_updated", map[string]any{"project_id": id})
	return nil
}

// observe runs for every cache state change. Snapshots are processed one at
// a time by the cache, and each drops tombstones it no longer carries.
func (o *Orchestrator) observe(st cache.State[[]Project]) {
	if st.HasData {
		if dropped := o.tombstones.Reconcile(presentIDs(st.Data)); len(dropped) > 0 {
			o.logger.Debug("deletions confirmed by snapshot", "project_ids", dropped)
		}
	}
	o.notify()
}

// notify delivers the current collection to the listeners. A call made while
// another delivery is in progress, including one from inside a listener,
// only marks the collection dirty; the running delivery picks it up.
func (o *Orchestrator) notify() {
	o.notifyMu.Lock()
	o.pending = true
	if o.delivering {
		o.notifyMu.Unlock()
		return
	}
	o.delivering = true
	o.notifyMu.Unlock()

	finished := false
	defer func() {
		if !finished {
			// A listener panicked; let the next change deliver again.
			o.notifyMu.Lock()
			o.delivering = false
			o.notifyMu.Unlock()
		}
	}()

	for {
		listeners, ok := o.nextDelivery()
		if !ok {
			finished = true
			return
		}
		if len(listeners) == 0 {
			continue
		}
		projects := o.Projects()
		for _, l := range listeners {
			l(projects)
		}
	}
}

// nextDelivery claims a pending delivery. When nothing is pending it ends
// the delivery in the same critical section so no change is missed.
func (o *Orchestrator) nextDelivery() ([]func([]Project), bool) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	if !o.pending {
		o.delivering = false
		return nil, false
	}
	o.pending = false
	return slices.Clone(o.listeners), true
}

func (o *Orchestrator) annotate(ps []Project) []Project {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Project, len(ps))
	for i, p := range ps {
		p.Favorite = o.favorites[p.ID]
		out[i] = p
	}
	return out
}

func (o *Orchestrator) loadFavorites() {
	raw, ok, err := o.store.Get(FavoritesKey(o.owner))
	if err != nil {
		o.logger.Warn("reading favorites failed", "error", err)
		return
	}
	if !ok {
		return
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		o.logger.Warn("decoding favorites failed", "error", err)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		o.favorites[id] = true
	}
}

func (o *Orchestrator) saveFavorites() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.favorites))
	for id := range o.favorites {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	sort.Strings(ids)

	raw, err := json.Marshal(ids)
	if err == nil {
		err = o.store.Set(FavoritesKey(o.owner), string(raw))
	}
	if err != nil {
		o.logger.Warn("saving favorites failed", "error", fmt.Errorf("favorites: %w", err))
	}
}

func (o *Orchestrator) track(name string, props map[string]any) {
	if o.tracker != nil {
		o.tracker.Track(name, props)
	}
}

func presentIDs(ps []Project) map[string]struct{} {
	ids := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		ids[p.ID] = struct{}{}
	}
	return ids
}
