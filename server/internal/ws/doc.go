// Package ws implements the WebSocket alert stream for nodealert-server.
//
// Hub is an alert sink: every batch the publisher delivers is pushed to each
// connected client whose filter matches. Clients filter with the query
// parameters entity_id, parent_id and severity.
//
// New(recent, heartbeat) creates a Hub.
// Hub.Run(ctx) sends a heartbeat every interval and blocks until ctx is
// cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection, replays recent matching alerts,
// then streams new ones.
//
// Messages sent to clients:
//
//	{"event": "recent",    "data": [ /* types.Alert */ ]}
//	{"event": "alerts",    "data": [ /* types.Alert */ ]}
//	{"event": "heartbeat", "data": {"time": "...", "clients": 3}}
//
// The upgrader accepts all origins. WebSocket endpoint is mounted at
// /ws/alerts by the server.
package ws
