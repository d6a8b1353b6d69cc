// Package alerting is the nodealert engine. It turns {current, previous} metric
// records and reachability signals into alert events.
//
// Classify (threshold.go) is the per (entity, metric) zone state machine with
// hysteresis and a timed critical repeat. OnUnreachable and OnReachable
// (availability.go) are the per-entity down/still-down/back-up state machine.
// Orchestrator (orchestrator.go) owns every entity's state in a registry,
// routes records to the classifiers in configuration order and returns the
// resulting events.
//
// Nothing in this package performs I/O, logs, or locks. An Orchestrator must be
// driven by one goroutine at a time; package dispatch shards entities across
// several Orchestrators to process them concurrently.
package alerting
