package api

import (
	"time"

	"github.com/nodealert/nodealert/pkg/types"
	"github.com/nodealert/nodealert/pkg/version"
	"github.com/nodealert/nodealert/server/internal/alerting"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string       `json:"state"` // ok | degraded
	EntityCount   int          `json:"entity_count"`
	DownCount     int          `json:"down_count"`
	RecentAlerts  int          `json:"recent_alerts"`
	CriticalCount int          `json:"critical_count"` // recent CRITICAL alerts
	History       string       `json:"history"`        // ok | error | disabled
	Version       version.Info `json:"version"`
}

// AlertListResponse is the payload for GET /api/v1/alerts.
type AlertListResponse struct {
	Alerts []types.Alert `json:"alerts"`
	Count  int           `json:"count"`
}

// HistoryResponse is the payload for GET /api/v1/alerts/history.
type HistoryResponse struct {
	Alerts  []types.Alert `json:"alerts"`
	Total   int64         `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// EntityResponse is one entry in GET /api/v1/entities or
// GET /api/v1/entities/{id}.
type EntityResponse struct {
	alerting.EntitySnapshot
	Diagnostics []DiagnosticHint `json:"diagnostics"`
	LastSeenAgo string           `json:"last_seen_ago"`
}

// RemoveResponse is the payload for DELETE /api/v1/entities/{id}.
type RemoveResponse struct {
	EntityID string `json:"entity_id"`
	Removed  bool   `json:"removed"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func toEntityResponse(s alerting.EntitySnapshot, now time.Time) EntityResponse {
	return EntityResponse{
		EntitySnapshot: s,
		Diagnostics:    computeDiagnostics(s, now),
		LastSeenAgo:    now.Sub(s.LastSeen).Truncate(time.Second).String(),
	}
}
