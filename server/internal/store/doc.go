// Package store keeps published alerts: Recent holds the last TTL's worth in
// memory for the live API, History persists everything to SQLite for the
// retention period.
package store
