package cache

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// SubscribeFunc opens a live subscription. onData receives every full payload
// and onError every stream failure, possibly from another goroutine. The
// returned function closes the subscription.
type SubscribeFunc[T any] func(onData func(T), onError func(error)) (unsubscribe func())

// Options configures a Subscription.
type Options struct {
	// Key is the storage key of the cached payload. Build it with Key.
	Key string
	// TTL is how long a cached payload counts as fresh.
	TTL time.Duration
	// StaleWhileRevalidate surfaces cached payloads older than TTL, marked
	// stale, until live data replaces them.
	StaleWhileRevalidate bool
}

// State is a point-in-time view of a Subscription.
type State[T any] struct {
	Data T
	// HasData is false until a cached or live payload has been surfaced.
	HasData bool
	Loading bool
	IsStale bool
	// CacheHit reports whether Data came from the cache. Live data clears it.
	CacheHit bool
	// Err is the most recent live subscription error. It is cleared by the
	// next live payload.
	Err error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures a Subscription.
type Option func(*settings)

type settings struct {
	clock  Clock
	logger *slog.Logger
}

// WithClock overrides the wall clock used for entry ages and timestamps.
func WithClock(c Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// Subscription serves a cached payload immediately and replaces it with live
// data once the subscription delivers. Every live payload is written back to
// the cache; cache failures are logged and never surfaced.
type Subscription[T any] struct {
	store     Storage
	subscribe SubscribeFunc[T]
	opts      Options
	clock     Clock
	logger    *slog.Logger

	// notifyMu serializes state changes with listener delivery so listeners
	// observe changes in order.
	notifyMu  sync.Mutex
	listeners []func(State[T])

	mu           sync.Mutex
	state        State[T]
	started      bool
	closed       bool
	liveReceived bool
	unsubscribe  func()
}

// NewSubscription creates an idle Subscription. Call Start to open it.
func NewSubscription[T any](store Storage, subscribe SubscribeFunc[T], opts Options, options ...Option) *Subscription[T] {
	st := settings{clock: realClock{}, logger: slog.Default()}
	for _, o := range options {
		o(&st)
	}
	return &Subscription[T]{
		store:     store,
		subscribe: subscribe,
		opts:      opts,
		clock:     st.clock,
		logger:    st.logger.With("cache_key", opts.Key),
	}
}

// OnChange registers fn to be called with the new state after every change.
// Register listeners before Start.
func (s *Subscription[T]) OnChange(fn func(State[T])) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// State returns the current state.
func (s *Subscription[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start marks the subscription loading, opens the live subscription, then
// surfaces the cached payload if one is usable and live data has not already
// arrived. Calling Start more than once has no effect.
func (s *Subscription[T]) Start() {
	if !s.update(func(st *State[T]) bool {
		if s.started || s.closed {
			return false
		}
		s.started = true
		st.Loading = true
		return true
	}) {
		return
	}

	unsub := s.subscribe(s.receive, s.fail)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		return
	}
	s.unsubscribe = unsub
	s.mu.Unlock()

	s.loadCached()
}

// Close stops the live subscription. No cache write happens after Close
// returns, and payloads delivered afterwards are ignored.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (s *Subscription[T]) loadCached() {
	entry, err := ReadEntry(s.store, s.opts.Key)
	if err != nil {
		s.logger.Warn("reading cached payload failed", "error", err)
		return
	}
	if entry == nil {
		s.logger.Debug("cache miss")
		return
	}

	fresh := entry.Fresh(s.clock.Now(), s.opts.TTL)
	if !fresh && !s.opts.StaleWhileRevalidate {
		s.logger.Debug("cached payload expired", "age", entry.Age(s.clock.Now()))
		return
	}

	var data T
	if err := json.Unmarshal(entry.Payload, &data); err != nil {
		s.logger.Warn("decoding cached payload failed", "error", &StorageError{Op: "decode", Key: s.opts.Key, Err: err})
		return
	}

	s.update(func(st *State[T]) bool {
		if s.closed || s.liveReceived {
			return false
		}
		st.Data = data
		st.HasData = true
		st.CacheHit = true
		st.IsStale = !fresh
		st.Loading = false
		return true
	})
}

func (s *Subscription[T]) receive(data T) {
	s.update(func(st *State[T]) bool {
		if s.closed {
			return false
		}
		s.liveReceived = true
		st.Data = data
		st.HasData = true
		st.IsStale = false
		st.CacheHit = false
		st.Loading = false
		st.Err = nil

		// Written under the lock so no write can land after Close.
		if err := WriteEntry(s.store, s.opts.Key, data, s.clock.Now()); err != nil {
			s.logger.Warn("writing cached payload failed", "error", err)
		}
		return true
	})
}

func (s *Subscription[T]) fail(err error) {
	s.update(func(st *State[T]) bool {
		if s.closed {
			return false
		}
		s.logger.Debug("live subscription error", "error", err)
		st.Err = err
		return true
	})
}

// update applies fn to the state under the lock and, when fn reports a
// change, delivers the new state to listeners.
func (s *Subscription[T]) update(fn func(st *State[T]) bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changed := fn(&s.state)
	snapshot := s.state
	s.mu.Unlock()

	if !changed {
		return false
	}
	for _, l := range s.listeners {
		l(snapshot)
	}
	return true
}
