package alerting

import (
	"errors"
	"sort"
	"time"

	"github.com/nodealert/nodealert/pkg/repeat"
	"github.com/nodealert/nodealert/pkg/types"
)

// Orchestrator routes records to the threshold and availability classifiers
// and owns all per-entity state. It is not safe for concurrent use.
type Orchestrator struct {
	cfg *Config
	reg *registry
}

// NewOrchestrator returns an Orchestrator using cfg. A nil cfg alerts on nothing.
func NewOrchestrator(cfg *Config) *Orchestrator {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Orchestrator{cfg: cfg, reg: newRegistry()}
}

// SetConfig swaps the configuration. Existing state is kept; live limiters
// pick up new repeat intervals on their next evaluation.
func (o *Orchestrator) SetConfig(cfg *Config) {
	if cfg == nil {
		cfg = NewConfig()
	}
	o.cfg = cfg
}

// Config returns the configuration in use.
func (o *Orchestrator) Config() *Config { return o.cfg }

// Len returns the number of entities with state.
func (o *Orchestrator) Len() int { return o.reg.len() }

// Remove forgets all state of an entity and reports whether it had any.
func (o *Orchestrator) Remove(entityID string) bool {
	return o.reg.remove(entityID)
}

// Process evaluates one record and returns the events it raises in order.
//
// A malformed record or metric is skipped and reported in the returned error
// (one *MalformedRecordError per problem, joined); events from the well-formed
// parts are still returned. Records for a parent ID with no configuration
// raise nothing and create no state.
func (o *Orchestrator) Process(rec *types.Record, now time.Time) ([]AlertEvent, error) {
	if rec == nil {
		return nil, &MalformedRecordError{Field: "record"}
	}
	if rec.EntityID == "" {
		return nil, &MalformedRecordError{Field: "entity_id"}
	}
	if rec.MetaData == nil {
		return nil, &MalformedRecordError{EntityID: rec.EntityID, Field: "meta_data"}
	}
	at, ok := rec.MetaData.Observed(rec.Kind)
	if !ok {
		at = now
	}

	group, ok := o.cfg.Group(rec.ParentID)
	if !ok {
		return nil, nil
	}
	e := Entity{ID: rec.EntityID, Name: rec.EntityName, ParentID: rec.ParentID}

	switch rec.Kind {
	case types.KindResult:
		return o.processResult(rec, group, e, at)
	case types.KindError:
		return o.processError(rec, group, e, at)
	default:
		return nil, &MalformedRecordError{EntityID: rec.EntityID, Field: "kind"}
	}
}

// --- internal ---

func (o *Orchestrator) processResult(rec *types.Record, group *GroupConfig, e Entity, at time.Time) ([]AlertEvent, error) {
	var (
		events []AlertEvent
		errs   []error
	)
	st := o.reg.getOrCreate(e)
	st.lastSeen = at
	st.errorCode = 0

	if pair, ok := rec.Metrics[types.AvailabilityMetric]; ok && group.Availability.Enabled {
		// A null current with a previous timestamp is the down-to-up transition.
		if pair.Current == nil && pair.Previous != nil {
			av := st.availabilityState(group.Availability)
			events = append(events, OnReachable(av, e, types.FromUnixSeconds(*pair.Previous), at))
		}
	}

	for _, mc := range group.Metrics {
		if !mc.Enabled {
			continue
		}
		pair, ok := rec.Metrics[mc.Name]
		if !ok {
			continue
		}
		if pair.Current == nil {
			errs = append(errs, &MalformedRecordError{EntityID: rec.EntityID, Field: "metrics." + mc.Name + ".current"})
			continue
		}
		ms, ok := st.metrics[mc.Name]
		if !ok {
			ms = NewMetricState(mc)
			st.metrics[mc.Name] = ms
		}
		if ev, ok := Classify(ms, mc, e, *pair.Current, pair.Previous, at); ok {
			events = append(events, ev)
		}
	}
	return events, errors.Join(errs...)
}

func (o *Orchestrator) processError(rec *types.Record, group *GroupConfig, e Entity, at time.Time) ([]AlertEvent, error) {
	re := rec.Error
	if re == nil {
		return nil, &MalformedRecordError{EntityID: rec.EntityID, Field: "error"}
	}

	if re.Category == types.CategoryUnreachable || re.Code == types.CodeUnreachable {
		if re.WentDownAt == nil || re.WentDownAt.Current == nil {
			return nil, &MalformedRecordError{EntityID: rec.EntityID, Field: "error.went_down_at.current"}
		}
		if !group.Availability.Enabled {
			return nil, nil
		}
		st := o.reg.getOrCreate(e)
		st.lastSeen = at
		av := st.availabilityState(group.Availability)
		if ev, ok := OnUnreachable(av, group.Availability, e, types.FromUnixSeconds(*re.WentDownAt.Current), at); ok {
			return []AlertEvent{ev}, nil
		}
		return nil, nil
	}

	st := o.reg.getOrCreate(e)
	st.lastSeen = at
	if st.errorCode == re.Code {
		return nil, nil
	}
	st.errorCode = re.Code
	return []AlertEvent{ErrorRaised(e, re.Code, re.Category, re.Message, at)}, nil
}

func (st *entityState) availabilityState(cfg AvailabilityAlertConfig) *AvailabilityState {
	if st.availability == nil {
		st.availability = NewAvailabilityState(cfg)
	}
	return st.availability
}

// --- snapshots ---

// MetricSnapshot is a copy of one metric's classification state.
type MetricSnapshot struct {
	Name        string     `json:"name"`
	Zone        string     `json:"zone"`
	LastRepeat  *time.Time `json:"last_repeat,omitempty"`
	RepeatEvery string     `json:"repeat_every"`
}

// EntitySnapshot is a copy of one entity's state, safe to hand to readers.
type EntitySnapshot struct {
	EntityID      string           `json:"entity_id"`
	EntityName    string           `json:"entity_name"`
	ParentID      string           `json:"parent_id"`
	LastSeen      time.Time        `json:"last_seen"`
	Metrics       []MetricSnapshot `json:"metrics"`
	DownAlerted   bool             `json:"down_alerted"`
	LastDownAlert *time.Time       `json:"last_down_alert,omitempty"`
	OpenErrorCode int              `json:"open_error_code,omitempty"`
}

// Snapshot returns copies of every entity's state sorted by entity ID.
func (o *Orchestrator) Snapshot() []EntitySnapshot {
	out := make([]EntitySnapshot, 0, o.reg.len())
	o.reg.each(func(st *entityState) {
		out = append(out, st.snapshot())
	})
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// SnapshotEntity returns a copy of one entity's state.
func (o *Orchestrator) SnapshotEntity(id string) (EntitySnapshot, bool) {
	st := o.reg.get(id)
	if st == nil {
		return EntitySnapshot{}, false
	}
	return st.snapshot(), true
}

func (st *entityState) snapshot() EntitySnapshot {
	s := EntitySnapshot{
		EntityID:      st.entity.ID,
		EntityName:    st.entity.Name,
		ParentID:      st.entity.ParentID,
		LastSeen:      st.lastSeen,
		Metrics:       make([]MetricSnapshot, 0, len(st.metrics)),
		OpenErrorCode: st.errorCode,
	}
	for name, ms := range st.metrics {
		s.Metrics = append(s.Metrics, MetricSnapshot{
			Name:        name,
			Zone:        ms.LastZone.String(),
			LastRepeat:  lastMarked(ms.Limiter),
			RepeatEvery: ms.Limiter.Interval().String(),
		})
	}
	sort.Slice(s.Metrics, func(i, j int) bool { return s.Metrics[i].Name < s.Metrics[j].Name })
	if av := st.availability; av != nil {
		s.DownAlerted = av.InitialAlertSent
		s.LastDownAlert = lastMarked(av.Limiter)
	}
	return s
}

// lastMarked returns nil for a limiter that was never marked.
func lastMarked(l *repeat.Limiter) *time.Time {
	t, ok := l.LastMarked()
	if !ok {
		return nil
	}
	return &t
}
