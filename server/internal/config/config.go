package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nodealert/nodealert/pkg/logging"
	"github.com/nodealert/nodealert/server/internal/alerting"
)

// Default values for the alerter configuration.
const (
	DefaultHTTPPort         = 8080
	DefaultWorkers          = 4
	DefaultQueueSize        = 1024
	DefaultRecentTTL        = time.Hour
	DefaultHistoryRetention = 30 * 24 * time.Hour
	DefaultWebhookRate      = 5.0
	DefaultWebhookTimeout   = 10 * time.Second
	DefaultRecordsTopic     = "monitor.records"
	DefaultAlertsTopic      = "monitor.alerts"
	DefaultGroupID          = "nodealert"
)

// Config holds the alerter configuration parsed from the `alerter:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Alerter AlerterConfig `yaml:"alerter"`
}

// AlerterConfig holds all server-side settings.
type AlerterConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// Workers is the number of engine shards.
	Workers int `yaml:"workers"`

	// QueueSize bounds each shard's inbound queue.
	QueueSize int `yaml:"queue_size"`

	Log      logging.Config  `yaml:"log"`
	Auth     AuthConfig      `yaml:"auth"`
	Kafka    KafkaConfig     `yaml:"kafka"`
	History  HistoryConfig   `yaml:"history"`
	Recent   RecentConfig    `yaml:"recent"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// Groups holds the alert thresholds, one entry per parent ID.
	Groups []GroupConfig `yaml:"groups"`
}

// AuthConfig controls client authentication on the REST API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "X-API-Key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "X-API-Key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// KafkaConfig configures the record consumer and alert producer. Kafka is
// disabled when no brokers are listed; records then arrive over HTTP only.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	RecordsTopic string   `yaml:"records_topic"`
	AlertsTopic  string   `yaml:"alerts_topic"`
	GroupID      string   `yaml:"group_id"`

	// Compression is one of: none | gzip | snappy | lz4 | zstd.
	Compression string `yaml:"compression"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// HistoryConfig controls the SQLite alert history. An empty Path disables it.
type HistoryConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// RecentConfig controls the in-memory recent-alert store.
type RecentConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: http | slack | teams. Default http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`

	// RatePerSecond caps deliveries to this target. Default 5.
	RatePerSecond float64 `yaml:"rate_per_second"`

	Timeout time.Duration `yaml:"timeout"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// GroupConfig holds the alert thresholds for every entity sharing ParentID.
type GroupConfig struct {
	ParentID     string             `yaml:"parent_id"`
	Metrics      []MetricConfig     `yaml:"metrics"`
	Availability AvailabilityConfig `yaml:"availability"`
}

// MetricConfig is one metric's thresholds. Metrics are evaluated in list order.
type MetricConfig struct {
	Name     string      `yaml:"name"`
	Enabled  bool        `yaml:"enabled"`
	Warning  LevelConfig `yaml:"warning"`
	Critical LevelConfig `yaml:"critical"`
}

// LevelConfig is one threshold level. Repeat is only read for critical levels.
type LevelConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold float64       `yaml:"threshold"`
	Repeat    time.Duration `yaml:"repeat"`
}

// AvailabilityConfig holds downtime thresholds.
type AvailabilityConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Warning  DowntimeLevelConfig `yaml:"warning"`
	Critical DowntimeLevelConfig `yaml:"critical"`
}

// DowntimeLevelConfig is one downtime threshold level.
type DowntimeLevelConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold time.Duration `yaml:"threshold"`
	Repeat    time.Duration `yaml:"repeat"`
}

// Load reads and parses the config file at path, returning the alerter configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("alerter config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML config data, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("alerter config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("alerter config: %w", err)
	}

	fill(cfg)
	return cfg, nil
}

// AlertConfig converts the threshold groups to the engine's configuration.
func (c *AlerterConfig) AlertConfig() *alerting.Config {
	groups := make([]alerting.GroupConfig, 0, len(c.Groups))
	for _, g := range c.Groups {
		ag := alerting.GroupConfig{
			ParentID: g.ParentID,
			Metrics:  make([]alerting.MetricAlertConfig, 0, len(g.Metrics)),
			Availability: alerting.AvailabilityAlertConfig{
				Enabled:                g.Availability.Enabled,
				WarningEnabled:         g.Availability.Warning.Enabled,
				WarningThreshold:       g.Availability.Warning.Threshold,
				CriticalEnabled:        g.Availability.Critical.Enabled,
				CriticalThreshold:      g.Availability.Critical.Threshold,
				CriticalRepeatInterval: g.Availability.Critical.Repeat,
			},
		}
		for _, m := range g.Metrics {
			ag.Metrics = append(ag.Metrics, alerting.MetricAlertConfig{
				Name:                   m.Name,
				Enabled:                m.Enabled,
				WarningEnabled:         m.Warning.Enabled,
				WarningThreshold:       m.Warning.Threshold,
				CriticalEnabled:        m.Critical.Enabled,
				CriticalThreshold:      m.Critical.Threshold,
				CriticalRepeatInterval: m.Critical.Repeat,
			})
		}
		groups = append(groups, ag)
	}
	return alerting.NewConfig(groups...)
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Alerter: AlerterConfig{
			HTTPPort:  DefaultHTTPPort,
			Workers:   DefaultWorkers,
			QueueSize: DefaultQueueSize,
			Log:       logging.Config{Level: "info"},
			Kafka: KafkaConfig{
				RecordsTopic: DefaultRecordsTopic,
				AlertsTopic:  DefaultAlertsTopic,
				GroupID:      DefaultGroupID,
			},
			History: HistoryConfig{Retention: DefaultHistoryRetention},
			Recent:  RecentConfig{TTL: DefaultRecentTTL},
		},
	}
}

// fill applies per-element defaults that yaml cannot pre-populate.
func fill(cfg *Config) {
	for i := range cfg.Alerter.Webhooks {
		w := &cfg.Alerter.Webhooks[i]
		if w.Type == "" {
			w.Type = "http"
		}
		if w.RatePerSecond == 0 {
			w.RatePerSecond = DefaultWebhookRate
		}
		if w.Timeout == 0 {
			w.Timeout = DefaultWebhookTimeout
		}
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	a := cfg.Alerter
	if a.HTTPPort <= 0 || a.HTTPPort > 65535 {
		return fmt.Errorf("alerter.http_port %d is out of range [1, 65535]", a.HTTPPort)
	}
	if a.Workers <= 0 {
		return fmt.Errorf("alerter.workers must be positive, got %d", a.Workers)
	}
	if a.QueueSize <= 0 {
		return fmt.Errorf("alerter.queue_size must be positive, got %d", a.QueueSize)
	}
	if _, err := logging.ParseLevel(a.Log.Level); err != nil {
		return fmt.Errorf("alerter.log: %w", err)
	}
	switch a.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("alerter.auth.mode %q unknown: want apikey|none", a.Auth.Mode)
	}
	if a.Kafka.Enabled() {
		if a.Kafka.RecordsTopic == "" || a.Kafka.GroupID == "" {
			return fmt.Errorf("alerter.kafka: records_topic and group_id are required when brokers are set")
		}
		switch a.Kafka.Compression {
		case "", "none", "gzip", "snappy", "lz4", "zstd":
		default:
			return fmt.Errorf("alerter.kafka.compression %q unknown", a.Kafka.Compression)
		}
	}
	if a.History.Retention < 0 {
		return fmt.Errorf("alerter.history.retention must not be negative")
	}
	if a.Recent.TTL < 0 {
		return fmt.Errorf("alerter.recent.ttl must not be negative")
	}
	for i, w := range a.Webhooks {
		if w.URLEnv == "" {
			return fmt.Errorf("alerter.webhooks[%d]: url_env is required", i)
		}
		switch w.Type {
		case "", "http", "slack", "teams":
		default:
			return fmt.Errorf("alerter.webhooks[%d]: type %q unknown: want http|slack|teams", i, w.Type)
		}
		if w.RatePerSecond < 0 {
			return fmt.Errorf("alerter.webhooks[%d]: rate_per_second must not be negative", i)
		}
	}
	return validateGroups(a.Groups)
}

func validateGroups(groups []GroupConfig) error {
	seen := make(map[string]bool, len(groups))
	for i, g := range groups {
		path := fmt.Sprintf("alerter.groups[%d]", i)
		if g.ParentID == "" {
			return fmt.Errorf("%s: parent_id is required", path)
		}
		if seen[g.ParentID] {
			return fmt.Errorf("%s: duplicate parent_id %q", path, g.ParentID)
		}
		seen[g.ParentID] = true

		names := make(map[string]bool, len(g.Metrics))
		for j, m := range g.Metrics {
			mpath := fmt.Sprintf("%s.metrics[%d]", path, j)
			if m.Name == "" {
				return fmt.Errorf("%s: name is required", mpath)
			}
			if names[m.Name] {
				return fmt.Errorf("%s: duplicate metric %q", mpath, m.Name)
			}
			names[m.Name] = true
			if m.Critical.Repeat < 0 {
				return fmt.Errorf("%s %q: critical.repeat must not be negative", mpath, m.Name)
			}
			if m.Warning.Enabled && m.Critical.Enabled && m.Warning.Threshold > m.Critical.Threshold {
				return fmt.Errorf("%s %q: warning.threshold %v exceeds critical.threshold %v",
					mpath, m.Name, m.Warning.Threshold, m.Critical.Threshold)
			}
		}

		av := g.Availability
		switch {
		case av.Warning.Threshold < 0 || av.Critical.Threshold < 0:
			return fmt.Errorf("%s.availability: thresholds must not be negative", path)
		case av.Critical.Repeat < 0:
			return fmt.Errorf("%s.availability: critical.repeat must not be negative", path)
		case av.Warning.Enabled && av.Critical.Enabled && av.Warning.Threshold > av.Critical.Threshold:
			return fmt.Errorf("%s.availability: warning.threshold %v exceeds critical.threshold %v",
				path, av.Warning.Threshold, av.Critical.Threshold)
		}
	}
	return nil
}
