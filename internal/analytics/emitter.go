// Package analytics emits fire-and-forget product events. Track never blocks
// the caller and never fails; delivery happens on a background goroutine.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is one tracked occurrence.
type Event struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Time  time.Time      `json:"time"`
	Props map[string]any `json:"props,omitempty"`
}

// Sink delivers a batch of events.
type Sink interface {
	Send(ctx context.Context, events []Event) error
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithBufferSize sets how many events may be queued before new ones are
// dropped.
func WithBufferSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

// WithBatch sets the maximum batch size and how long a partial batch waits
// before it is flushed.
func WithBatch(size int, every time.Duration) Option {
	return func(e *Emitter) {
		if size > 0 {
			e.batchSize = size
		}
		if every > 0 {
			e.flushEvery = every
		}
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// Emitter queues events and sends them to a Sink in batches.
type Emitter struct {
	sink        Sink
	logger      *slog.Logger
	bufferSize  int
	batchSize   int
	flushEvery  time.Duration
	sendTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64
}

// NewEmitter starts an Emitter delivering to sink. Call Close to flush and
// stop it.
func NewEmitter(sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		sink:        sink,
		logger:      slog.Default(),
		bufferSize:  256,
		batchSize:   20,
		flushEvery:  2 * time.Second,
		sendTimeout: 10 * time.Second,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = make(chan Event, e.bufferSize)
	go e.loop()
	return e
}

// Track queues an event. If the queue is full or the emitter is closed the
// event is dropped.
func (e *Emitter) Track(name string, props map[string]any) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	ev := Event{ID: uuid.NewString(), Name: name, Time: time.Now().UTC(), Props: props}
	select {
	case e.queue <- ev:
	default:
		e.dropped.Add(1)
		e.logger.Debug("analytics queue full, event dropped", "event", name)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting events and waits for queued events to be sent, or
// for ctx to expire.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) loop() {
	defer close(e.done)

	ticker := time.NewTicker(e.flushEvery)
	defer ticker.Stop()

	batch := make([]Event, 0, e.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout)
		defer cancel()
		if err := e.sink.Send(ctx, batch); err != nil {
			e.logger.Warn("sending analytics events failed", "count", len(batch), "error", err)
		}
		batch = make([]Event, 0, e.batchSize)
	}

	for {
		select {
		case ev, ok := <-e.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= e.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
