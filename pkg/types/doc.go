// Package types defines the JSON wire types exchanged between nodealert-agent,
// nodealert-server and whatever consumes the alert stream. These are the
// canonical shapes of records on the records topic and alerts on the alerts
// topic, separate from the engine's in-memory representation.
package types
