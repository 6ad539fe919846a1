package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(enabled bool) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := New(Config{Enabled: enabled, BuildVersion: "1.2.3"}, slog.New(slog.DiscardHandler), WithClock(clock.Now))
	return m, clock
}

func TestCacheable_TTL(t *testing.T) {
	m, clock := newTestManager(true)
	var calls atomic.Int32
	get := Cacheable(m, "product", "p1", 10*time.Second, func(context.Context) (int32, error) {
		return calls.Add(1), nil
	})
	ctx := context.Background()

	v, err := get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	clock.Advance(9 * time.Second)
	v, err = get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v, "within TTL the cached value is returned")
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(2 * time.Second)
	v, err = get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v, "after TTL compute runs again")

	stats := m.Stats()["product#10000000000"]
	assert.Equal(t, int64(1), stats[StatEntries])
	assert.Equal(t, int64(1), stats[StatHits])
	assert.Equal(t, int64(2), stats[StatMisses])
	assert.Equal(t, int64(1), stats[StatEvictions])
}

func TestCacheable_SingleFlight(t *testing.T) {
	m, _ := newTestManager(true)
	var calls atomic.Int32
	release := make(chan struct{})
	get := Cacheable(m, "g", "k", time.Minute, func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "value", nil
	})

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := get(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "value", r)
	}
}

func TestCacheable_ErrorsAreNotCached(t *testing.T) {
	m, _ := newTestManager(true)
	var calls atomic.Int32
	get := Cacheable(m, "g", "k", time.Minute, func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	_, err := get(context.Background())
	require.Error(t, err)
	v, err := get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheable_KeysAndNames(t *testing.T) {
	m, _ := newTestManager(true)
	ctx := context.Background()
	a := Cacheable(m, "g", "a", time.Minute, func(context.Context) (string, error) { return "A", nil })
	b := Cacheable(m, "g", "b", time.Minute, func(context.Context) (string, error) { return "B", nil })
	other := Cacheable(m, "", "a", time.Hour, func(context.Context) (string, error) { return "other", nil })

	va, _ := a(ctx)
	vb, _ := b(ctx)
	vo, _ := other(ctx)
	assert.Equal(t, []string{"A", "B", "other"}, []string{va, vb, vo})
	assert.Equal(t, []string{"3600000000000", "g#60000000000"}, m.Names())
	assert.Equal(t, int64(2), m.Stats()["g#60000000000"][StatEntries])
	assert.Equal(t, int64(2), m.Stats()["g#60000000000"][StatSize])
}

func TestCacheable_NilInterfaceValue(t *testing.T) {
	m, _ := newTestManager(true)
	var calls atomic.Int32
	get := Cacheable(m, "g", "nil", time.Minute, func(context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	for range 2 {
		v, err := get(context.Background())
		require.NoError(t, err)
		assert.Nil(t, v)
	}
	assert.Equal(t, int32(1), calls.Load(), "a nil result is cached like any other value")
}

func TestCacheable_WaiterSurvivesLeaderCancel(t *testing.T) {
	m, _ := newTestManager(true)
	started := make(chan struct{})
	release := make(chan struct{})
	get := Cacheable(m, "aggregation.sheet", "p1/AGG_HH", time.Minute, func(ctx context.Context) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "rows", nil
	})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := get(leaderCtx)
		leaderErr <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		v, err := get(context.Background())
		waiter <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	close(release)

	res := <-waiter
	require.NoError(t, res.err)
	assert.Equal(t, "rows", res.v)
}

func TestCacheable_ClearDuringComputeIsNotStored(t *testing.T) {
	m, _ := newTestManager(true)
	var calls atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	get := Cacheable(m, "g", "k", time.Minute, func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-release
			return "old", nil
		}
		return "new", nil
	})

	first := make(chan string, 1)
	go func() {
		v, _ := get(context.Background())
		first <- v
	}()
	<-started
	require.True(t, m.ClearCache(Name("g", time.Minute)))
	close(release)
	assert.Equal(t, "old", <-first)

	v, err := get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", v)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(1), m.Stats()["g#60000000000"][StatEntries])
}

func TestFingerprintSeparatesBuilds(t *testing.T) {
	assert.NotEqual(t, Fingerprint("1.0.0"), Fingerprint("1.0.1"))
	assert.Len(t, Fingerprint("dev"), 16)

	clock := func() time.Time { return time.Unix(0, 0) }
	logger := slog.New(slog.DiscardHandler)
	m1 := New(Config{Enabled: true, BuildVersion: "1.0.0"}, logger, WithClock(clock))
	m2 := New(Config{Enabled: true, BuildVersion: "1.0.1"}, logger, WithClock(clock))
	assert.NotEqual(t, m1.prefix, m2.prefix)
}

func TestClear(t *testing.T) {
	m, _ := newTestManager(true)
	ctx := context.Background()
	var calls atomic.Int32
	get := Cacheable(m, "aggregation.sheet", "k", time.Minute, func(context.Context) (int32, error) {
		return calls.Add(1), nil
	})

	_, _ = get(ctx)
	assert.True(t, m.ClearCache("aggregation.sheet#60000000000"))
	assert.False(t, m.ClearCache("missing"))
	v, _ := get(ctx)
	assert.Equal(t, int32(2), v)

	assert.Equal(t, 1, m.ClearGroup("aggregation.sheet"))
	assert.Equal(t, 0, m.ClearGroup("aggregation"))
	v, _ = get(ctx)
	assert.Equal(t, int32(3), v)

	assert.True(t, m.ClearAllCaches())
	assert.Equal(t, int64(0), m.Stats()["aggregation.sheet#60000000000"][StatEntries])
}

func TestDisabledManager(t *testing.T) {
	m, _ := newTestManager(false)
	var calls atomic.Int32
	get := Cacheable(m, "g", "k", time.Minute, func(context.Context) (int32, error) {
		return calls.Add(1), nil
	})

	_, _ = get(context.Background())
	_, _ = get(context.Background())
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, m.ClearCache("g#60000000000"))
	assert.False(t, m.ClearAllCaches())
	assert.Equal(t, 0, m.ClearGroup("g"))
	assert.Empty(t, m.Stats())
}

func TestEvictExpired(t *testing.T) {
	m, clock := newTestManager(true)
	ctx := context.Background()
	short := Cacheable(m, "g", "short", time.Second, func(context.Context) (string, error) { return "s", nil })
	long := Cacheable(m, "g", "long", time.Hour, func(context.Context) (string, error) { return "l", nil })
	_, _ = short(ctx)
	_, _ = long(ctx)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, m.EvictExpired())
	assert.Equal(t, int64(0), m.Stats()["g#1000000000"][StatEntries])
	assert.Equal(t, int64(1), m.Stats()["g#3600000000000"][StatEntries])
}

func TestRunStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
