package cache

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// liveFeed is a controllable SubscribeFunc.
type liveFeed struct {
	mu           sync.Mutex
	onData       func([]item)
	onError      func(error)
	unsubscribed bool
	// initial, when set, is delivered synchronously from subscribe.
	initial []item
}

func (f *liveFeed) subscribe(onData func([]item), onError func(error)) func() {
	f.mu.Lock()
	f.onData, f.onError = onData, onError
	initial := f.initial
	f.mu.Unlock()
	if initial != nil {
		onData(initial)
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed = true
	}
}

func (f *liveFeed) push(items []item) {
	f.mu.Lock()
	fn := f.onData
	f.mu.Unlock()
	fn(items)
}

func (f *liveFeed) fail(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

const testKey = "cache:projects:u1"

func seed(t *testing.T, store Storage, items []item, at time.Time) {
	t.Helper()
	require.NoError(t, WriteEntry(store, testKey, items, at))
}

func TestEntry_RoundTripByteIdentical(t *testing.T) {
	store := NewMemoryStorage()
	items := []item{{ID: "p1", Name: "Launch <video> & co"}, {ID: "p2", Name: "Ünïcode"}}
	want, err := json.Marshal(items)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, WriteEntry(store, testKey, items, now))

	e, err := ReadEntry(store, testKey)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, string(want), string(e.Payload))
	assert.True(t, e.StoredAt.Equal(now))
}

func TestEntry_FreshnessBoundary(t *testing.T) {
	stored := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute
	e := Entry{StoredAt: stored}

	assert.True(t, e.Fresh(stored.Add(ttl-time.Millisecond), ttl), "TTL-1ms should be fresh")
	assert.False(t, e.Fresh(stored.Add(ttl), ttl), "exactly TTL should be stale")
	assert.False(t, e.Fresh(stored.Add(ttl+time.Millisecond), ttl), "TTL+1ms should be stale")
}

func TestReadEntry_Missing(t *testing.T) {
	e, err := ReadEntry(NewMemoryStorage(), "nope")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestReadEntry_Corrupt(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Set(testKey, "{not json"))

	_, err := ReadEntry(store, testKey)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "decode", se.Op)
}

func TestWriteEntry_Quota(t *testing.T) {
	store := &MemoryStorage{MaxBytes: 16}
	err := WriteEntry(store, testKey, []item{{ID: "p1", Name: "too big for the quota"}}, time.Now())

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "write", se.Op)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestKey_ScopedByOwner(t *testing.T) {
	assert.NotEqual(t, Key("projects", "u1"), Key("projects", "u2"))
	assert.NotEqual(t, Key("projects", "u1"), Key("jobs", "u1"))
	assert.Equal(t, "cache:projects:u1", Key("projects", "u1"))
}

func TestSubscription_NoCacheLoadsUntilLive(t *testing.T) {
	store := NewMemoryStorage()
	clock := newClock()
	feed := &liveFeed{}

	sub := NewSubscription(store, feed.subscribe, Options{Key: testKey, TTL: time.Minute}, WithClock(clock))
	sub.Start()

	st := sub.State()
	assert.True(t, st.Loading)
	assert.False(t, st.HasData)
	assert.False(t, st.CacheHit)
	assert.Nil(t, st.Data, "no synthetic payload before live data")

	feed.push([]item{{ID: "p1"}})
	st = sub.State()
	assert.False(t, st.Loading)
	assert.True(t, st.HasData)
	assert.Equal(t, []item{{ID: "p1"}}, st.Data)

	e, err := ReadEntry(store, testKey)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.JSONEq(t, `[{"id":"p1","name":""}]`, string(e.Payload))
	assert.True(t, e.StoredAt.Equal(clock.Now()))
}

func TestSubscription_FreshCacheHit(t *testing.T) {
	store := NewMemoryStorage()
	clock := newClock()
	seed(t, store, []item{{ID: "cached"}}, clock.Now())
	clock.Advance(30 * time.Second)

	feed := &liveFeed{}
	sub := NewSubscription(store, feed.subscribe, Options{Key: testKey, TTL: time.Minute}, WithClock(clock))
	sub.Start()

	st := sub.State()
	assert.True(t, st.CacheHit)
	assert.False(t, st.IsStale)
	assert.False(t, st.Loading)
	assert.Equal(t, []item{{ID: "cached"}}, st.Data)

	feed.push([]item{{ID: "live"}})
	st = sub.State()
	assert.Equal(t, []item{{ID: "live"}}, st.Data)
	assert.False(t, st.IsStale)
	assert.False(t, st.CacheHit, "live data replaces the cached payload")
}

func TestSubscription_StaleCacheWithRevalidate(t *testing.T) {
	store := NewMemoryStorage()
	clock := newClock()
	seed(t, store, []item{{ID: "old"}}, clock.Now())
	clock.Advance(time.Minute)

	feed := &liveFeed{}
	sub := NewSubscription(store, feed.subscribe, Options{Key: testKey, TTL: time.Minute, StaleWhileRevalidate: true}, WithClock(clock))
	sub.Start()

	st := sub.State()
	assert.True(t, st.CacheHit)
	assert.True(t, st.IsStale, "entry exactly TTL old is stale")
	assert.Equal(t, []item{{ID: "old"}}, st.Data)

	feed.push([]item{{ID: "new"}})
	st = sub.State()
	assert.False(t, st.IsStale)
	assert.Equal(t, []item{{ID: "new"}}, st.Data)
}

func TestSubscription_StaleCacheWithoutRevalidateIgnored(t *testing.T) {
	store := NewMemoryStorage()
	clock := newClock()
	seed(t, store, []item{{ID: "old"}}, clock.Now())
	clock.Advance(time.Minute + time.Millisecond)

	sub := NewSubscription(store, (&liveFeed{}).subscribe, Options{Key: testKey, TTL: time.Minute}, WithClock(clock))
	sub.Start()

	st := sub.State()
	assert.False(t, st.CacheHit)
	assert.False(t, st.HasData)
	assert.True(t, st.Loading)
}

func TestSubscription_LiveBeforeCacheReadWins(t *testing.T) {
	store := NewMemoryStorage()
	clock := newClock()
	seed(t, store, []item{{ID: "cached"}}, clock.Now())

	feed := &liveFeed{initial: []item{{ID: "live"}}}
	sub := NewSubscription(store, feed.subscribe, Options{Key: testKey, TTL: time.Hour, StaleWhileRevalidate: true}, WithClock(clock))

	var seen [][]item
	sub.OnChange(func(st State[[]item]) {
		if st.HasData {
			seen = append(seen, st.Data)
		}
	})
	sub.Start()

	st := sub.State()
	assert.Equal(t, []item{{ID: "live"}}, st.Data, "late cache read must not overwrite live data")
	assert.False(t, st.CacheHit)
	assert.Equal(t, [][]item{{{ID: "live"}}}, seen)
}

func TestSubscription_CacheWriteFailureSwallowed(t *testing.T) {
	store := &MemoryStorage{MaxBytes: 8}
	feed := &liveFeed{}
	sub := NewSubscription(store, feed.subscribe, Options{Key: testKey, TTL: time.Minute})
	sub.Start()

	feed.push([]item{{ID: "p1", Name: "does not fit"}})

	st := sub.State()
	assert.True(t, st.HasData)
	assert.NoError(t, st.Err)
	assert.Equal(t, "p1", st.Data[0].ID)
}

func TestSubscription_ErrorKeepsData(t *testing.T) {
	feed := &liveFeed{}
	sub := NewSubscription(NewMemoryStorage(), feed.subscribe, Options{Key: testKey, TTL: time.Minute})
	sub.Start()

	feed.push([]item{{ID: "p1"}})
	boom := errors.New("stream reset")
	feed.fail(boom)

	st := sub.State()
	assert.ErrorIs(t, st.Err, boom)
	assert.Equal(t, []item{{ID: "p1"}}, st.Data)

	feed.push([]item{{ID: "p2"}})
	assert.NoError(t, sub.State().Err)
}

func TestSubscription_CloseStopsWrites(t *testing.T) {
	store := NewMemoryStorage()
	clock := newClock()
	feed := &liveFeed{}
	sub := NewSubscription(store, feed.subscribe, Options{Key: testKey, TTL: time.Minute}, WithClock(clock))
	sub.Start()

	feed.push([]item{{ID: "p1"}})
	sub.Close()
	assert.True(t, feed.unsubscribed)

	clock.Advance(time.Second)
	feed.push([]item{{ID: "after-close"}})

	e, err := ReadEntry(store, testKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"p1","name":""}]`, string(e.Payload))
	assert.Equal(t, []item{{ID: "p1"}}, sub.State().Data)

	sub.Close()
}

func TestSubscription_StartIsIdempotent(t *testing.T) {
	calls := 0
	subscribe := func(func([]item), func(error)) func() {
		calls++
		return func() {}
	}
	sub := NewSubscription(NewMemoryStorage(), subscribe, Options{Key: testKey, TTL: time.Minute})
	sub.Start()
	sub.Start()
	assert.Equal(t, 1, calls)
}
