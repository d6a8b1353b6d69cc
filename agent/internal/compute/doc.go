// Package compute turns scrape outcomes into the records the alerter
// consumes.
//
// The Transformer keeps, per entity, the last value of every metric (so each
// result carries {current, previous}) and the time the entity went down. Both
// are persisted through a KV store so a restarted agent neither loses
// `previous` nor reopens a downtime that was already in progress. Entities
// that are down are retried at most once per retry interval; skipped scrapes
// are still reported as unreachable.
package compute
