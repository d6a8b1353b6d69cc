package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nodealert/nodealert/pkg/types"
)

// Entry is an alert together with the time it was stored.
type Entry struct {
	Alert    types.Alert
	StoredAt time.Time
}

// Recent is a thread-safe in-memory store of recently published alerts, keyed
// by alert ID. A background goroutine (Run) periodically evicts entries older
// than the configured TTL.
type Recent struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// NewRecent creates a Recent store with the given TTL.
func NewRecent(ttl time.Duration) *Recent {
	return &Recent{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores alerts. An alert with an existing ID replaces the old entry.
func (s *Recent) Put(alerts ...types.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, a := range alerts {
		s.data[a.ID] = &Entry{Alert: a, StoredAt: now}
	}
}

// Get returns the alert with the given ID.
func (s *Recent) Get(id string) (types.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	if !ok {
		return types.Alert{}, false
	}
	return e.Alert, true
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	EntityID string
	ParentID string
	Severity string
	Limit    int
}

func (f Filter) match(a types.Alert) bool {
	return (f.EntityID == "" || a.EntityID == f.EntityID) &&
		(f.ParentID == "" || a.ParentID == f.ParentID) &&
		(f.Severity == "" || a.Severity == f.Severity)
}

// List returns live alerts matching f, newest first. Stale entries that have
// not yet been evicted are excluded.
func (s *Recent) List(f Filter) []types.Alert {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]types.Alert, 0, len(s.data))
	for _, e := range s.data {
		if e.StoredAt.After(cutoff) && f.match(e.Alert) {
			out = append(out, e.Alert)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Recent) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries stored before now minus TTL and returns how many.
func (s *Recent) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.StoredAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (s *Recent) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale alerts", "count", n)
			}
		}
	}
}
