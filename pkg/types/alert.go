package types

import "time"

// Alert is the published form of an alert event.
type Alert struct {
	ID               string     `json:"id"`
	EntityID         string     `json:"entity_id"`
	EntityName       string     `json:"entity_name"`
	ParentID         string     `json:"parent_id"`
	MetricName       string     `json:"metric_name"`
	Direction        string     `json:"direction"`
	Severity         string     `json:"severity"`
	Value            float64    `json:"value"`
	ThresholdContext string     `json:"threshold_context,omitempty"`
	Threshold        float64    `json:"threshold,omitempty"`
	DownSince        *time.Time `json:"down_since,omitempty"`
	ErrorCode        int        `json:"error_code,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
}
