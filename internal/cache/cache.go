// Package cache stores per-(resource, day) busy intervals so that repeated
// availability queries do not reload the event set. Entries are only ever
// dropped, never patched: a mutation invalidates the business days it
// touches and the next read recomputes them.
package cache

import (
	"context"
	"sync"
	"time"

	"calgrid/internal/interval"
)

// Key identifies one cached entry.
type Key struct {
	Resource string // model.Resource.Key()
	Day      string // YYYY-MM-DD in the business zone
}

func (k Key) String() string { return k.Resource + "@" + k.Day }

// Generation counts the invalidations of one day. A loader reads it before
// loading and hands it back to Set, which drops the write when the day was
// invalidated in between.
type Generation uint64

// DayCache is implemented by Memory and Redis.
type DayCache interface {
	// Get returns the cached busy intervals; ok is false on a miss.
	Get(ctx context.Context, k Key) (busy []interval.Interval, ok bool, err error)
	// Generation returns the current generation of day.
	Generation(ctx context.Context, day string) (Generation, error)
	// Set stores busy under k unless k.Day has moved past gen. stored
	// reports whether the entry was written.
	Set(ctx context.Context, k Key, gen Generation, busy []interval.Interval) (stored bool, err error)
	// InvalidateDay drops every resource's entry for day and bumps its
	// generation.
	InvalidateDay(ctx context.Context, day string) error
}

type memEntry struct {
	busy    []interval.Interval
	expires time.Time
}

// Memory is an in-process DayCache with a TTL, in the style of the web
// handler caches: an RWMutex around a map.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[Key]memEntry
	gens  map[string]Generation
}

var _ DayCache = (*Memory)(nil)

// NewMemory returns a cache whose entries live for ttl (0 means forever).
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, items: make(map[Key]memEntry), gens: make(map[string]Generation)}
}

func (m *Memory) Get(ctx context.Context, k Key) ([]interval.Interval, bool, error) {
	m.mu.RLock()
	e, ok := m.items[k]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.items, k)
		m.mu.Unlock()
		return nil, false, nil
	}
	return append([]interval.Interval(nil), e.busy...), true, nil
}

func (m *Memory) Generation(ctx context.Context, day string) (Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gens[day], nil
}

func (m *Memory) Set(ctx context.Context, k Key, gen Generation, busy []interval.Interval) (bool, error) {
	e := memEntry{busy: append([]interval.Interval(nil), busy...)}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[k.Day] != gen {
		return false, nil
	}
	m.items[k] = e
	return true, nil
}

func (m *Memory) InvalidateDay(ctx context.Context, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[day]++
	for k := range m.items {
		if k.Day == day {
			delete(m.items, k)
		}
	}
	return nil
}

// Len is the number of live and expired-but-unswept entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
