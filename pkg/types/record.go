package types

import (
	"math"
	"time"
)

// Kind distinguishes result records from error records.
type Kind string

const (
	KindResult Kind = "result"
	KindError  Kind = "error"
)

// AvailabilityMetric is the metric name that carries down-since timestamps
// (unix seconds) in result records and error records.
const AvailabilityMetric = "went_down_at"

// Error categories understood by the alerter.
const (
	// CategoryUnreachable marks an entity that could not be contacted.
	CategoryUnreachable = "unreachable"
	// CategoryInvalidURL marks a misconfigured endpoint.
	CategoryInvalidURL = "invalid_url"
	// CategoryMetricNotFound marks a scrape that lacked an expected metric.
	CategoryMetricNotFound = "metric_not_found"
	// CategoryInternal covers anything else the poller failed on.
	CategoryInternal = "internal"
)

// Error codes paired with the categories above.
const (
	CodeUnreachable    = 5004
	CodeInvalidURL     = 5009
	CodeMetricNotFound = 5003
	CodeInternal       = 5000
)

// Record is one message produced by a poller for a single monitored entity.
type Record struct {
	EntityID   string                `json:"entity_id"`
	EntityName string                `json:"entity_name"`
	ParentID   string                `json:"parent_id"`
	Kind       Kind                  `json:"kind"`
	MetaData   *MetaData             `json:"meta_data,omitempty"`
	Metrics    map[string]MetricPair `json:"metrics,omitempty"`
	Error      *RecordError          `json:"error,omitempty"`
}

// MetaData carries the observation timestamps of a record.
// Result records set LastMonitored, error records set Time.
type MetaData struct {
	Time          *time.Time `json:"time,omitempty"`
	LastMonitored *time.Time `json:"last_monitored,omitempty"`
	PollerName    string     `json:"poller_name,omitempty"`
}

// MetricPair is a metric's value at this observation and at the previous one.
// Either side may be null: Previous is null on the first observation, and
// Current is null for the availability metric once an entity is back up.
type MetricPair struct {
	Current  *float64 `json:"current"`
	Previous *float64 `json:"previous"`
}

// RecordError describes why a poll failed.
type RecordError struct {
	Code       int         `json:"code"`
	Category   string      `json:"category"`
	Message    string      `json:"message,omitempty"`
	WentDownAt *MetricPair `json:"went_down_at,omitempty"`
}

// Float returns a pointer to v, for building MetricPairs.
func Float(v float64) *float64 {
	return &v
}

// Pair builds a MetricPair with a known current value and optional previous.
func Pair(current float64, previous *float64) MetricPair {
	return MetricPair{Current: Float(current), Previous: previous}
}

// UnixSeconds converts t to fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds converts fractional unix seconds back to a UTC time.
func FromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// Observed returns the record's observation time: LastMonitored for results,
// Time for errors, whichever is set if the kind-specific one is missing.
func (m *MetaData) Observed(kind Kind) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	first, second := m.LastMonitored, m.Time
	if kind == KindError {
		first, second = m.Time, m.LastMonitored
	}
	switch {
	case first != nil:
		return *first, true
	case second != nil:
		return *second, true
	default:
		return time.Time{}, false
	}
}
