package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/thumbforge/internal/auth"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
	block   chan struct{}
}

func (s *memSink) Send(ctx context.Context, events []Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), events...))
	return s.err
}

func (s *memSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches {
		for _, ev := range b {
			out = append(out, ev.Name)
		}
	}
	return out
}

func TestEmitter_CloseFlushesQueued(t *testing.T) {
	sink := &memSink{}
	e := NewEmitter(sink, WithBatch(2, time.Hour))

	e.Track("project_created", map[string]any{"project_id": "p1"})
	e.Track("project_deleted", nil)
	e.Track("favorite_toggled", nil)

	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, []string{"project_created", "project_deleted", "favorite_toggled"}, sink.names())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.batches, 2, "batch size 2 splits three events into two sends")
	assert.NotEmpty(t, sink.batches[0][0].ID)
	assert.Equal(t, "p1", sink.batches[0][0].Props["project_id"])
}

func TestEmitter_FlushesOnInterval(t *testing.T) {
	sink := &memSink{}
	e := NewEmitter(sink, WithBatch(100, 5*time.Millisecond))
	defer e.Close(context.Background())

	e.Track("job_started", nil)
	assert.Eventually(t, func() bool { return len(sink.names()) == 1 }, time.Second, time.Millisecond)
}

func TestEmitter_TrackNeverBlocks(t *testing.T) {
	sink := &memSink{block: make(chan struct{})}
	e := NewEmitter(sink, WithBufferSize(2), WithBatch(1, time.Hour))

	start := time.Now()
	for i := 0; i < 50; i++ {
		e.Track("spam", nil)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Positive(t, e.Dropped())

	close(sink.block)
	require.NoError(t, e.Close(context.Background()))
}

func TestEmitter_SinkErrorsContained(t *testing.T) {
	sink := &memSink{err: errors.New("ingest down")}
	e := NewEmitter(sink)

	e.Track("job_failed", nil)
	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, []string{"job_failed"}, sink.names())
}

func TestEmitter_TrackAfterCloseIgnored(t *testing.T) {
	sink := &memSink{}
	e := NewEmitter(sink)
	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))

	assert.NotPanics(t, func() { e.Track("late", nil) })
	assert.Empty(t, sink.names())
}

func TestEmitter_CloseHonoursContext(t *testing.T) {
	sink := &memSink{block: make(chan struct{})}
	defer close(sink.block)
	e := NewEmitter(sink, WithBatch(1, time.Hour))
	e.Track("stuck", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Close(ctx), context.DeadlineExceeded)
}

func TestHTTPSink_Send(t *testing.T) {
	var got Batch
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewHTTPSink(srv.URL, auth.StaticToken("tok")).Send(context.Background(), []Event{{ID: "1", Name: "project_created"}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "project_created", got.Events[0].Name)
}

func TestHTTPSink_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTPSink(srv.URL, auth.StaticToken("tok")).Send(context.Background(), []Event{{Name: "x"}})
	assert.Error(t, err)
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.Send(context.Background(), []Event{{Name: "x"}}))
}
