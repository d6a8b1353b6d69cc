package alerting

import (
	"fmt"
	"time"

	"github.com/nodealert/nodealert/pkg/types"
)

// Direction says what happened to the monitored value or entity.
type Direction int

const (
	DirectionIncreased Direction = iota + 1
	DirectionDecreased
	DirectionWentDown
	DirectionStillDown
	DirectionBackUp
	DirectionError
)

var directionNames = map[Direction]string{
	DirectionIncreased: "INCREASED",
	DirectionDecreased: "DECREASED",
	DirectionWentDown:  "WENT_DOWN",
	DirectionStillDown: "STILL_DOWN",
	DirectionBackUp:    "BACK_UP",
	DirectionError:     "ERROR",
}

func (d Direction) String() string {
	if s, ok := directionNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Severity of an alert event.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityCritical
	SeverityError
)

var severityNames = map[Severity]string{
	SeverityInfo:     "INFO",
	SeverityWarning:  "WARNING",
	SeverityCritical: "CRITICAL",
	SeverityError:    "ERROR",
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Zone is the band a metric value falls into. It doubles as the threshold
// context of an event: which configured threshold the event refers to.
type Zone int

const (
	ZoneNone Zone = iota
	ZoneWarning
	ZoneCritical
)

func (z Zone) String() string {
	switch z {
	case ZoneNone:
		return "NONE"
	case ZoneWarning:
		return "WARNING"
	case ZoneCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Zone(%d)", int(z))
	}
}

// MetricAvailability is the metric name carried by availability events.
const MetricAvailability = "availability"

// Entity identifies the monitored system an event is about.
type Entity struct {
	ID       string
	Name     string
	ParentID string
}

// AlertEvent is the single output type of the engine. Events are values and
// are never modified after construction.
type AlertEvent struct {
	EntityID   string
	EntityName string
	ParentID   string
	MetricName string
	Direction  Direction
	Severity   Severity

	// Value is the metric's current value for threshold events and the
	// downtime in seconds for availability events.
	Value float64

	// ThresholdContext names the configured threshold the event refers to and
	// Threshold carries its value (seconds for availability events).
	ThresholdContext Zone
	Threshold        float64

	// DownSince is set on availability events.
	DownSince time.Time

	// ErrorCode and ErrorMessage are set on ERROR events.
	ErrorCode    int
	ErrorMessage string

	// Timestamp is the observation time of the record that produced the event.
	Timestamp time.Time
}

func newEvent(e Entity, metric string, dir Direction, sev Severity, value float64, at time.Time) AlertEvent {
	return AlertEvent{
		EntityID:   e.ID,
		EntityName: e.Name,
		ParentID:   e.ParentID,
		MetricName: metric,
		Direction:  dir,
		Severity:   sev,
		Value:      value,
		Timestamp:  at,
	}
}

// Increased builds an INCREASED event raised when a value enters or stays in zone.
func Increased(e Entity, metric string, zone Zone, value, threshold float64, at time.Time) AlertEvent {
	sev := SeverityWarning
	if zone == ZoneCritical {
		sev = SeverityCritical
	}
	ev := newEvent(e, metric, DirectionIncreased, sev, value, at)
	ev.ThresholdContext = zone
	ev.Threshold = threshold
	return ev
}

// Decreased builds an INFO event raised when a value drops out of the
// previously alerted zone.
func Decreased(e Entity, metric string, from Zone, value, threshold float64, at time.Time) AlertEvent {
	ev := newEvent(e, metric, DirectionDecreased, SeverityInfo, value, at)
	ev.ThresholdContext = from
	ev.Threshold = threshold
	return ev
}

// WentDown builds the first availability alert of a downtime episode.
func WentDown(e Entity, sev Severity, downSince time.Time, threshold time.Duration, at time.Time) AlertEvent {
	ev := newEvent(e, MetricAvailability, DirectionWentDown, sev, at.Sub(downSince).Seconds(), at)
	ev.ThresholdContext = ZoneWarning
	if sev == SeverityCritical {
		ev.ThresholdContext = ZoneCritical
	}
	ev.Threshold = threshold.Seconds()
	ev.DownSince = downSince
	return ev
}

// StillDown builds a repeat availability alert. It is always CRITICAL.
func StillDown(e Entity, downSince time.Time, threshold time.Duration, at time.Time) AlertEvent {
	ev := newEvent(e, MetricAvailability, DirectionStillDown, SeverityCritical, at.Sub(downSince).Seconds(), at)
	ev.ThresholdContext = ZoneCritical
	ev.Threshold = threshold.Seconds()
	ev.DownSince = downSince
	return ev
}

// BackUp builds the INFO event closing a downtime episode.
func BackUp(e Entity, wasDownSince, at time.Time) AlertEvent {
	ev := newEvent(e, MetricAvailability, DirectionBackUp, SeverityInfo, at.Sub(wasDownSince).Seconds(), at)
	ev.DownSince = wasDownSince
	return ev
}

// ErrorRaised builds an ERROR event for a poller error other than unreachability.
func ErrorRaised(e Entity, code int, category, message string, at time.Time) AlertEvent {
	ev := newEvent(e, category, DirectionError, SeverityError, float64(code), at)
	ev.ErrorCode = code
	ev.ErrorMessage = message
	return ev
}

// Alert converts the event to its published form under id.
func (ev AlertEvent) Alert(id string) types.Alert {
	a := types.Alert{
		ID:           id,
		EntityID:     ev.EntityID,
		EntityName:   ev.EntityName,
		ParentID:     ev.ParentID,
		MetricName:   ev.MetricName,
		Direction:    ev.Direction.String(),
		Severity:     ev.Severity.String(),
		Value:        ev.Value,
		Threshold:    ev.Threshold,
		ErrorCode:    ev.ErrorCode,
		ErrorMessage: ev.ErrorMessage,
		Timestamp:    ev.Timestamp,
	}
	if ev.ThresholdContext != ZoneNone {
		a.ThresholdContext = ev.ThresholdContext.String()
	}
	if !ev.DownSince.IsZero() {
		ds := ev.DownSince
		a.DownSince = &ds
	}
	return a
}
