package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

const fullConfig = `alerter:
  http_port: 9091
  workers: 8
  queue_size: 64
  log:
    level: debug
  auth:
    mode: apikey
    key_env: MY_KEY
  kafka:
    brokers: ["kafka-1:9092", "kafka-2:9092"]
    compression: zstd
  history:
    path: /var/lib/nodealert/alerts.db
    retention: 48h
  recent:
    ttl: 10m
  webhooks:
    - url_env: HOOK_URL
  groups:
    - parent_id: chain-a
      metrics:
        - name: cpu_use
          enabled: true
          warning: {enabled: true, threshold: 85}
          critical: {enabled: true, threshold: 95, repeat: 5m}
        - name: open_files
          enabled: false
      availability:
        enabled: true
        warning: {enabled: true, threshold: 0s}
        critical: {enabled: true, threshold: 200s, repeat: 5m}
`

func TestLoad_Defaults(t *testing.T) {
	// Agent-only file: alerter section absent.
	p := writeConfig(t, `agent:
  scrape_interval: 10s
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a := cfg.Alerter
	if a.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", a.HTTPPort, DefaultHTTPPort)
	}
	if a.Workers != DefaultWorkers || a.QueueSize != DefaultQueueSize {
		t.Errorf("workers/queue: got %d/%d", a.Workers, a.QueueSize)
	}
	if a.Recent.TTL != DefaultRecentTTL {
		t.Errorf("recent.ttl: got %v, want %v", a.Recent.TTL, DefaultRecentTTL)
	}
	if a.Kafka.Enabled() {
		t.Error("kafka should be disabled without brokers")
	}
	if a.Kafka.RecordsTopic != DefaultRecordsTopic {
		t.Errorf("records_topic: got %q", a.Kafka.RecordsTopic)
	}
	if a.AlertConfig().Len() != 0 {
		t.Error("no groups expected")
	}
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a := cfg.Alerter
	if a.HTTPPort != 9091 || a.Workers != 8 || a.QueueSize != 64 {
		t.Errorf("ports/workers: got %d/%d/%d", a.HTTPPort, a.Workers, a.QueueSize)
	}
	if a.Auth.EffectiveHeader() != "X-API-Key" {
		t.Errorf("header: got %q", a.Auth.EffectiveHeader())
	}
	if len(a.Kafka.Brokers) != 2 || !a.Kafka.Enabled() {
		t.Errorf("kafka brokers: got %v", a.Kafka.Brokers)
	}
	if a.History.Retention != 48*time.Hour {
		t.Errorf("history.retention: got %v", a.History.Retention)
	}
	if len(a.Webhooks) != 1 || a.Webhooks[0].Type != "http" || a.Webhooks[0].RatePerSecond != DefaultWebhookRate || a.Webhooks[0].Timeout != DefaultWebhookTimeout {
		t.Errorf("webhook defaults not applied: %+v", a.Webhooks)
	}

	ac := a.AlertConfig()
	g, ok := ac.Group("chain-a")
	if !ok {
		t.Fatal("group chain-a missing")
	}
	if len(g.Metrics) != 2 || g.Metrics[0].Name != "cpu_use" || g.Metrics[1].Name != "open_files" {
		t.Fatalf("metrics order: %+v", g.Metrics)
	}
	cpu := g.Metrics[0]
	if !cpu.Enabled || cpu.WarningThreshold != 85 || cpu.CriticalThreshold != 95 || cpu.CriticalRepeatInterval != 5*time.Minute {
		t.Errorf("cpu_use: %+v", cpu)
	}
	if g.Metrics[1].Enabled {
		t.Error("open_files should be disabled")
	}
	if !g.Availability.Enabled || g.Availability.CriticalThreshold != 200*time.Second {
		t.Errorf("availability: %+v", g.Availability)
	}
}

func TestLoad_WebhookURLFromEnv(t *testing.T) {
	t.Setenv("HOOK_URL", "https://hooks.example.com/x")
	cfg, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Alerter.Webhooks[0].URL(); got != "https://hooks.example.com/x" {
		t.Errorf("URL: got %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad port",
			yaml:    "alerter:\n  http_port: 70000\n",
			wantErr: "http_port",
		},
		{
			name:    "bad auth mode",
			yaml:    "alerter:\n  auth:\n    mode: oauth\n",
			wantErr: "auth.mode",
		},
		{
			name:    "bad log level",
			yaml:    "alerter:\n  log:\n    level: loud\n",
			wantErr: "alerter.log",
		},
		{
			name: "inverted thresholds",
			yaml: `alerter:
  groups:
    - parent_id: a
      metrics:
        - name: cpu_use
          enabled: true
          warning: {enabled: true, threshold: 95}
          critical: {enabled: true, threshold: 90}
`,
			wantErr: "warning.threshold 95 exceeds critical.threshold 90",
		},
		{
			name: "negative repeat",
			yaml: `alerter:
  groups:
    - parent_id: a
      metrics:
        - name: cpu_use
          critical: {enabled: true, threshold: 90, repeat: -1m}
`,
			wantErr: "critical.repeat must not be negative",
		},
		{
			name: "duplicate parent",
			yaml: `alerter:
  groups:
    - parent_id: a
    - parent_id: a
`,
			wantErr: "duplicate parent_id",
		},
		{
			name: "duplicate metric",
			yaml: `alerter:
  groups:
    - parent_id: a
      metrics:
        - name: cpu_use
        - name: cpu_use
`,
			wantErr: "duplicate metric",
		},
		{
			name: "inverted downtime thresholds",
			yaml: `alerter:
  groups:
    - parent_id: a
      availability:
        warning: {enabled: true, threshold: 5m}
        critical: {enabled: true, threshold: 1m}
`,
			wantErr: "availability: warning.threshold",
		},
		{
			name:    "webhook without env",
			yaml:    "alerter:\n  webhooks:\n    - rate_per_second: 1\n",
			wantErr: "url_env is required",
		},
		{
			name:    "unknown webhook type",
			yaml:    "alerter:\n  webhooks:\n    - url_env: X\n      type: pager\n",
			wantErr: "type \"pager\" unknown",
		},
		{
			name:    "unknown compression",
			yaml:    "alerter:\n  kafka:\n    brokers: [k:9092]\n    compression: brotli\n",
			wantErr: "compression",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_DisabledLevelsMayInvert(t *testing.T) {
	// Ordering only matters when both levels are enabled.
	_, err := Load(writeConfig(t, `alerter:
  groups:
    - parent_id: a
      metrics:
        - name: cpu_use
          enabled: true
          warning: {enabled: false, threshold: 95}
          critical: {enabled: true, threshold: 90}
`))
	if err != nil {
		t.Errorf("Load: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "alerter: [unclosed"))
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}
