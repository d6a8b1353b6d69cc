// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` section; the alerter's section is ignored
//   - AgentConfig: scrape_interval, retry_interval, concurrency, state_path,
//     poller_name, log, kafka, entities []
//   - Entity: id, name, parent_id, type (prometheus|http), endpoint, timeout,
//     metrics {alert name: family or probe field}, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none); Key(), Token() and
//     Password() resolve secrets from environment variables
//
// Load(path) reads the YAML file, applies defaults (30s scrape, 2m retry,
// topic monitor.records) and validates required fields and enums.
//
// Watch(ctx, path, onChange) reloads the file on change and calls onChange
// with each valid Config. An invalid file is logged and skipped.
package config
