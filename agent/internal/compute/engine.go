package compute

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nodealert/nodealert/agent/internal/config"
	"github.com/nodealert/nodealert/agent/internal/scraper"
	"github.com/nodealert/nodealert/pkg/repeat"
	"github.com/nodealert/nodealert/pkg/types"
)

// KV is the persistence the transformer needs. *state.Store satisfies it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// snapshot is the persisted form of one entity's state.
type snapshot struct {
	Previous     map[string]float64 `json:"previous"`
	DownSince    *time.Time         `json:"down_since,omitempty"`
	LastFailedAt *time.Time         `json:"last_failed_at,omitempty"`
}

type entityState struct {
	previous  map[string]float64
	downSince *time.Time
	retry     *repeat.Limiter
}

func (s *entityState) snapshot() snapshot {
	snap := snapshot{Previous: s.previous, DownSince: s.downSince}
	if t, ok := s.retry.LastMarked(); ok {
		snap.LastFailedAt = &t
	}
	return snap
}

// Transformer turns scrape outcomes into records. It remembers the last value
// of every (entity, metric) pair to fill `previous`, and the time each entity
// went down so the downtime survives across scrapes and restarts.
//
// All exported methods are safe for concurrent use.
type Transformer struct {
	mu       sync.Mutex
	kv       KV
	poller   string
	interval time.Duration
	states   map[string]*entityState
}

// NewTransformer returns a Transformer persisting through kv. kv may be nil,
// in which case state lives only in memory. retryInterval spaces out scrapes
// of an entity that was last found unreachable.
func NewTransformer(kv KV, pollerName string, retryInterval time.Duration) *Transformer {
	return &Transformer{
		kv:       kv,
		poller:   pollerName,
		interval: retryInterval,
		states:   make(map[string]*entityState),
	}
}

// SetRetryInterval applies a reloaded retry interval to every known entity.
func (t *Transformer) SetRetryInterval(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = d
	for _, s := range t.states {
		s.retry.SetInterval(d)
	}
}

// Due reports whether the entity should be scraped now. An entity that is
// down is only retried once the retry interval has elapsed since the last
// failed attempt.
func (t *Transformer) Due(ctx context.Context, e config.Entity, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.load(ctx, e.ID)
	return s.downSince == nil || s.retry.CanProceed(now)
}

// Success builds the result record for a successful scrape. The first result
// after a downtime carries went_down_at {current: null, previous: T}.
func (t *Transformer) Success(ctx context.Context, e config.Entity, values map[string]float64, now time.Time) types.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.load(ctx, e.ID)

	metrics := make(map[string]types.MetricPair, len(values)+1)
	next := make(map[string]float64, len(values))
	for name, v := range values {
		var prev *float64
		if p, ok := s.previous[name]; ok {
			prev = types.Float(p)
		}
		metrics[name] = types.Pair(v, prev)
		next[name] = v
	}
	if s.downSince != nil {
		metrics[types.AvailabilityMetric] = types.MetricPair{
			Previous: types.Float(types.UnixSeconds(*s.downSince)),
		}
		s.downSince = nil
		s.retry.Reset()
	}
	s.previous = next
	t.save(ctx, e.ID, s)

	observed := now.UTC()
	rec := t.record(e, types.KindResult)
	rec.MetaData.LastMonitored = &observed
	rec.Metrics = metrics
	return rec
}

// Failure builds the error record for a failed scrape. An unreachable
// failure opens (or continues) a downtime and carries went_down_at with the
// down-since time as current and the prior down-since, if any, as previous.
func (t *Transformer) Failure(ctx context.Context, e config.Entity, serr *scraper.Error, now time.Time) types.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.load(ctx, e.ID)

	re := &types.RecordError{Code: serr.Code, Category: serr.Category, Message: serr.Err.Error()}
	if serr.Unreachable() {
		re.WentDownAt = t.markDown(s, now)
		t.save(ctx, e.ID, s)
	}

	rec := t.record(e, types.KindError)
	rec.MetaData.Time = timePtr(now)
	rec.Error = re
	return rec
}

// Skip builds the record for an entity whose scrape was skipped because it
// is still inside its retry interval. It is reported as unreachable again
// without resetting the retry clock.
func (t *Transformer) Skip(ctx context.Context, e config.Entity, now time.Time) types.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.load(ctx, e.ID)

	var wda *types.MetricPair
	if s.downSince != nil {
		wda = &types.MetricPair{
			Current:  types.Float(types.UnixSeconds(*s.downSince)),
			Previous: types.Float(types.UnixSeconds(*s.downSince)),
		}
	}
	rec := t.record(e, types.KindError)
	rec.MetaData.Time = timePtr(now)
	rec.Error = &types.RecordError{
		Code:       types.CodeUnreachable,
		Category:   types.CategoryUnreachable,
		Message:    "skipped: waiting for retry interval",
		WentDownAt: wda,
	}
	return rec
}

// DownSince returns when the entity went down, if it is down.
func (t *Transformer) DownSince(ctx context.Context, id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.load(ctx, id)
	if s.downSince == nil {
		return time.Time{}, false
	}
	return *s.downSince, true
}

func (t *Transformer) markDown(s *entityState, now time.Time) *types.MetricPair {
	var prior *float64
	if s.downSince == nil {
		s.downSince = timePtr(now)
	} else {
		prior = types.Float(types.UnixSeconds(*s.downSince))
	}
	s.retry.Mark(now)
	return &types.MetricPair{
		Current:  types.Float(types.UnixSeconds(*s.downSince)),
		Previous: prior,
	}
}

func (t *Transformer) record(e config.Entity, kind types.Kind) types.Record {
	return types.Record{
		EntityID:   e.ID,
		EntityName: e.DisplayName(),
		ParentID:   e.ParentID,
		Kind:       kind,
		MetaData:   &types.MetaData{PollerName: t.poller},
	}
}

// load returns the entity's state, reading it from kv on first use.
// Callers hold t.mu.
func (t *Transformer) load(ctx context.Context, id string) *entityState {
	if s, ok := t.states[id]; ok {
		return s
	}
	s := &entityState{previous: map[string]float64{}, retry: repeat.New(t.interval)}
	t.states[id] = s
	if t.kv == nil {
		return s
	}

	raw, ok, err := t.kv.Get(ctx, key(id))
	if err != nil {
		slog.Warn("compute: load state failed", "entity", id, "err", err)
		return s
	}
	if !ok {
		return s
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		slog.Warn("compute: discarding unreadable state", "entity", id, "err", err)
		return s
	}
	if snap.Previous != nil {
		s.previous = snap.Previous
	}
	s.downSince = snap.DownSince
	if snap.LastFailedAt != nil {
		s.retry.Mark(*snap.LastFailedAt)
	}
	return s
}

func (t *Transformer) save(ctx context.Context, id string, s *entityState) {
	if t.kv == nil {
		return
	}
	raw, err := json.Marshal(s.snapshot())
	if err != nil {
		slog.Warn("compute: encode state failed", "entity", id, "err", err)
		return
	}
	if err := t.kv.Put(ctx, key(id), raw); err != nil {
		slog.Warn("compute: persist state failed", "entity", id, "err", err)
	}
}

func key(id string) string { return "entity/" + id }

func timePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
