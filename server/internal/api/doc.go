// Package api implements the HTTP API for nodealert-server.
//
// New(opts) returns a chi-routed http.Handler that serves:
//
//	GET    /api/v1/health          engine, recent-store and history status (no auth)
//	GET    /metrics                Prometheus metrics (no auth)
//	GET    /api/v1/alerts          recent alerts; filters entity_id, parent_id, severity, limit
//	GET    /api/v1/alerts/{id}     one recent alert
//	GET    /api/v1/alerts/history  persisted alerts; filters plus since, until, page, per_page
//	GET    /api/v1/entities        classification state of every tracked entity
//	GET    /api/v1/entities/{id}   one entity's state with diagnostics
//	DELETE /api/v1/entities/{id}   drop an entity's state
//	POST   /api/v1/records         record ingest
//	GET    /ws/alerts              websocket alert stream
//
// Everything except health and metrics sits behind the configured auth
// middleware. Errors are returned as {"error": "..."}.
package api
