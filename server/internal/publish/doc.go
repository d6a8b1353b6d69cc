// Package publish delivers alert events produced by the engine.
//
// A Publisher converts each AlertEvent to its wire form (types.Alert) with a
// deterministic ID and hands the batch to every Sink. Required sinks (the
// Kafka producer) fail the publish, so the inbound record is not acknowledged
// and will be redelivered. Best-effort sinks (webhooks, the alert store, the
// websocket hub) log and count their failures only.
package publish
