// Package config loads the alerter configuration from the `alerter:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort          — port for the REST API, WebSocket hub and /metrics (default 8080)
//   - Workers           — engine shard count (default 4)
//   - QueueSize         — per-shard queue bound (default 1024)
//   - Auth.Mode         — "apikey" or "none"
//   - Kafka.Brokers     — enables the Kafka consumer and alert producer when set
//   - History.Path      — SQLite alert history file; empty disables history
//   - Recent.TTL        — how long alerts stay in the in-memory recent list (default 1h)
//   - Webhooks          — JSON POST targets, URL taken from the environment
//   - Groups            — per parent_id metric and availability thresholds
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change and keeps the previous config on error.
package config
