package alerting

import (
	"time"

	"github.com/nodealert/nodealert/pkg/repeat"
)

// AvailabilityState tracks one entity's current downtime episode.
type AvailabilityState struct {
	InitialAlertSent bool
	Limiter          *repeat.Limiter
}

// NewAvailabilityState returns the state of an entity that is not down.
func NewAvailabilityState(cfg AvailabilityAlertConfig) *AvailabilityState {
	return &AvailabilityState{Limiter: repeat.New(cfg.CriticalRepeatInterval)}
}

// OnUnreachable handles a report that the entity has been down since
// downSince. The first report past a threshold raises WENT_DOWN; later ones
// raise STILL_DOWN at most once per repeat interval.
func OnUnreachable(st *AvailabilityState, cfg AvailabilityAlertConfig, e Entity, downSince, now time.Time) (AlertEvent, bool) {
	st.Limiter.SetInterval(cfg.CriticalRepeatInterval)
	elapsed := now.Sub(downSince)

	if st.InitialAlertSent {
		if !st.Limiter.CanProceed(now) {
			return AlertEvent{}, false
		}
		st.Limiter.Mark(now)
		return StillDown(e, downSince, cfg.CriticalThreshold, now), true
	}

	var ev AlertEvent
	switch {
	case cfg.CriticalEnabled && elapsed >= cfg.CriticalThreshold:
		ev = WentDown(e, SeverityCritical, downSince, cfg.CriticalThreshold, now)
	case cfg.WarningEnabled && elapsed >= cfg.WarningThreshold:
		ev = WentDown(e, SeverityWarning, downSince, cfg.WarningThreshold, now)
	default:
		return AlertEvent{}, false
	}
	st.InitialAlertSent = true
	st.Limiter.Mark(now)
	return ev, true
}

// OnReachable handles a report that an entity which went down at wasDownSince
// is reachable again, closing the downtime episode.
func OnReachable(st *AvailabilityState, e Entity, wasDownSince, now time.Time) AlertEvent {
	st.InitialAlertSent = false
	st.Limiter.Reset()
	return BackUp(e, wasDownSince, now)
}
