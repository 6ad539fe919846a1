// Package cache provides a process-wide keyed cache partitioned by TTL.
//
// A cache is named "<group>#<ttl nanoseconds>" and shared by every key using
// that group and TTL. Keys are prefixed with a build fingerprint so several
// deployed versions can share a store without collisions.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"
)

// Sizer is implemented by values that can report their approximate size in bytes.
type Sizer interface {
	CacheSize() int64
}

// Stat names reported by Stats.
const (
	StatEntries   = "entries"
	StatSize      = "size"
	StatHits      = "hits"
	StatMisses    = "misses"
	StatEvictions = "evictions"
)

// Config holds cache manager settings.
type Config struct {
	Enabled      bool
	BuildVersion string
}

type entry struct {
	value   any
	expires time.Time
	size    int64
}

type store struct {
	entries sync.Map

	// mu orders put against clear; gen counts clears so a compute that
	// started before a clear does not store its result.
	mu  sync.Mutex
	gen atomic.Uint64

	count     atomic.Int64
	size      atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// get returns a live entry. Expired entries are evicted.
func (s *store) get(key string, now time.Time) (any, bool) {
	v, ok := s.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if !now.Before(e.expires) {
		if s.entries.CompareAndDelete(key, e) {
			s.count.Add(-1)
			s.size.Add(-e.size)
			s.evictions.Add(1)
		}
		return nil, false
	}
	return e.value, true
}

// put stores value unless the store was cleared since gen was read.
func (s *store) put(key string, value any, expires time.Time, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen.Load() != gen {
		return false
	}
	e := &entry{value: value, expires: expires, size: sizeOf(value)}
	if old, loaded := s.entries.Swap(key, e); loaded {
		s.size.Add(-old.(*entry).size)
	} else {
		s.count.Add(1)
	}
	s.size.Add(e.size)
	return true
}

func (s *store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.Add(1)
	s.entries.Range(func(k, v any) bool {
		if s.entries.CompareAndDelete(k, v) {
			s.count.Add(-1)
			s.size.Add(-v.(*entry).size)
		}
		return true
	})
}

func (s *store) evictExpired(now time.Time) int {
	n := 0
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		if !now.Before(e.expires) && s.entries.CompareAndDelete(k, e) {
			s.count.Add(-1)
			s.size.Add(-e.size)
			s.evictions.Add(1)
			n++
		}
		return true
	})
	return n
}

// Manager owns the named caches.
type Manager struct {
	enabled bool
	prefix  string
	now     func() time.Time
	logger  *slog.Logger

	mu     sync.RWMutex
	stores map[string]*store
	flight singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		enabled: cfg.Enabled,
		prefix:  Fingerprint(cfg.BuildVersion),
		now:     time.Now,
		logger:  logger.With("component", "cache"),
		stores:  make(map[string]*store),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fingerprint returns the key prefix derived from a build version.
func Fingerprint(buildVersion string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(buildVersion))
}

// Name returns the cache name of a group and TTL.
func Name(group string, ttl time.Duration) string {
	n := strconv.FormatInt(ttl.Nanoseconds(), 10)
	if group == "" {
		return n
	}
	return group + "#" + n
}

// Enabled reports whether caching is on.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) store(name string) *store {
	m.mu.RLock()
	s, ok := m.stores[name]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		return s
	}
	s = &store{}
	m.stores[name] = s
	return s
}

// Cacheable wraps compute so its result is cached under key in the cache of
// group and ttl. Concurrent misses on one key run compute once; errors are
// not cached. When the manager is disabled compute is always called.
//
// compute runs detached from the cancellation of the caller that started it;
// each caller stops waiting when its own ctx is done. A result computed
// across a clear of its cache is returned but not stored.
func Cacheable[T any](m *Manager, group, key string, ttl time.Duration, compute func(context.Context) (T, error)) func(context.Context) (T, error) {
	name := Name(group, ttl)
	fullKey := m.prefix + ":" + key

	return func(ctx context.Context) (T, error) {
		var zero T
		if !m.enabled {
			return compute(ctx)
		}
		s := m.store(name)
		if v, ok := s.get(fullKey, m.now()); ok {
			s.hits.Add(1)
			t, _ := v.(T)
			return t, nil
		}

		gen := s.gen.Load()
		flightKey := name + "\x00" + strconv.FormatUint(gen, 10) + "\x00" + fullKey
		detached := context.WithoutCancel(ctx)
		ch := m.flight.DoChan(flightKey, func() (any, error) {
			if v, ok := s.get(fullKey, m.now()); ok {
				s.hits.Add(1)
				return v, nil
			}
			s.misses.Add(1)
			v, err := compute(detached)
			if err != nil {
				return nil, err
			}
			if !s.put(fullKey, v, m.now().Add(ttl), gen) {
				m.logger.Debug("cache cleared during compute, result not stored", "name", name)
			}
			return v, nil
		})

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return zero, res.Err
			}
			t, _ := res.Val.(T)
			return t, nil
		}
	}
}

// ClearCache empties the named cache. It returns false when the cache does
// not exist or caching is disabled.
func (m *Manager) ClearCache(name string) bool {
	if !m.enabled {
		return false
	}
	m.mu.RLock()
	s, ok := m.stores[name]
	m.mu.RUnlock()
	if !ok {
		m.logger.Debug("cache not found", "name", name)
		return false
	}
	s.clear()
	m.logger.Info("cache cleared", "name", name)
	return true
}

// ClearGroup empties every cache of group and returns how many were cleared.
func (m *Manager) ClearGroup(group string) int {
	if !m.enabled {
		return 0
	}
	n := 0
	for _, name := range m.Names() {
		if strings.HasPrefix(name, group+"#") {
			if m.ClearCache(name) {
				n++
			}
		}
	}
	return n
}

// ClearAllCaches empties every cache. It returns false when caching is disabled.
func (m *Manager) ClearAllCaches() bool {
	if !m.enabled {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.stores {
		s.clear()
	}
	m.logger.Info("all caches cleared", "caches", len(m.stores))
	return true
}

// Names returns the cache names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns per-cache statistics keyed by cache name.
func (m *Manager) Stats() map[string]map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[string]int64, len(m.stores))
	for name, s := range m.stores {
		out[name] = map[string]int64{
			StatEntries:   s.count.Load(),
			StatSize:      s.size.Load(),
			StatHits:      s.hits.Load(),
			StatMisses:    s.misses.Load(),
			StatEvictions: s.evictions.Load(),
		}
	}
	return out
}

// EvictExpired removes expired entries from every cache.
func (m *Manager) EvictExpired() int {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.stores {
		n += s.evictExpired(now)
	}
	return n
}

// Run evicts expired entries every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if !m.enabled || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.EvictExpired(); n > 0 {
				m.logger.Debug("expired cache entries evicted", "count", n)
			}
		}
	}
}

func sizeOf(v any) int64 {
	switch x := v.(type) {
	case Sizer:
		return x.CacheSize()
	case string:
		return int64(len(x))
	case []byte:
		return int64(len(x))
	}
	return 0
}
