package alerting

import (
	"time"

	"github.com/nodealert/nodealert/pkg/repeat"
)

// MetricState is the classification state of one (entity, metric) pair.
type MetricState struct {
	LastZone Zone
	Limiter  *repeat.Limiter
}

// NewMetricState returns the initial state: zone NONE, limiter never marked.
func NewMetricState(cfg MetricAlertConfig) *MetricState {
	return &MetricState{Limiter: repeat.New(cfg.CriticalRepeatInterval)}
}

// Classify runs one step of the threshold state machine for current and
// returns the event it raises, if any. The previous value is accepted for
// callers that carry it but does not influence the decision: hysteresis is
// relative to the last alerted zone, not the last value.
func Classify(st *MetricState, cfg MetricAlertConfig, e Entity, current float64, _ *float64, now time.Time) (AlertEvent, bool) {
	st.Limiter.SetInterval(cfg.CriticalRepeatInterval)

	next := cfg.zone(current)
	last := st.LastZone

	switch {
	case next == ZoneCritical && last == ZoneCritical:
		if !st.Limiter.CanProceed(now) {
			return AlertEvent{}, false
		}
		st.Limiter.Mark(now)
		return Increased(e, cfg.Name, ZoneCritical, current, cfg.CriticalThreshold, now), true

	case next == ZoneCritical:
		st.LastZone = ZoneCritical
		st.Limiter.Mark(now)
		return Increased(e, cfg.Name, ZoneCritical, current, cfg.CriticalThreshold, now), true

	case next == ZoneWarning && last == ZoneNone:
		st.LastZone = ZoneWarning
		return Increased(e, cfg.Name, ZoneWarning, current, cfg.WarningThreshold, now), true

	case next < last:
		st.LastZone = next
		return Decreased(e, cfg.Name, last, current, cfg.threshold(last), now), true
	}
	return AlertEvent{}, false
}
