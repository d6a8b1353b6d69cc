package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nodealert/nodealert/pkg/logging"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval = 30 * time.Second
	DefaultRetryInterval  = 2 * time.Minute
	DefaultScrapeTimeout  = 10 * time.Second
	DefaultStatePath      = "data/agent-state.db"
	DefaultPollerName     = "nodealert-agent"
	DefaultRecordsTopic   = "monitor.records"
	DefaultBufferSize     = 1000
	DefaultBatchSize      = 100
	DefaultFlushInterval  = time.Second
	DefaultConcurrency    = 8
)

// Config is the agent configuration parsed from the `agent:` section of
// config.yaml. The `alerter:` key in the same file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ScrapeInterval controls how often each entity is polled.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// RetryInterval is how long an unreachable entity is left alone before
	// the next scrape attempt. It is still reported as down every cycle.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// Concurrency caps simultaneous scrapes.
	Concurrency int `yaml:"concurrency"`

	// StatePath is the SQLite file holding last values and down-since marks.
	StatePath string `yaml:"state_path"`

	// PollerName is stamped into every record's meta_data.
	PollerName string `yaml:"poller_name"`

	Log   logging.Config `yaml:"log"`
	Kafka KafkaConfig    `yaml:"kafka"`

	// Entities is the list of monitored systems.
	Entities []Entity `yaml:"entities"`
}

// KafkaConfig configures the record producer.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// Compression is one of: none | gzip | snappy | lz4 | zstd.
	Compression string `yaml:"compression"`

	// BufferSize is the number of records held in memory while Kafka is
	// unreachable. The oldest are dropped when it fills.
	BufferSize int `yaml:"buffer_size"`

	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Entity describes one monitored system.
type Entity struct {
	// ID is a unique identifier; it keys alert state on the server.
	ID string `yaml:"id"`

	// Name is the human-readable name used in alert messages. Defaults to ID.
	Name string `yaml:"name"`

	// ParentID selects the alert threshold group on the server.
	ParentID string `yaml:"parent_id"`

	// Type is the scrape type: prometheus | http.
	Type string `yaml:"type"`

	// Endpoint is the full URL of the metrics or health endpoint.
	Endpoint string `yaml:"endpoint"`

	Timeout time.Duration `yaml:"timeout"`

	// Metrics maps alert metric names to what is read for them: a metric
	// family name for prometheus entities, a probe field for http entities
	// (response_time, status_code, cert_days_left). Empty means all probe
	// fields for http entities.
	Metrics map[string]string `yaml:"metrics"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// DisplayName returns Name, or ID when Name is empty.
func (e Entity) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}

// AuthConfig specifies how the agent authenticates to an entity.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header and KeyEnv are used when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the bearer token variable when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Username and PasswordEnv are used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string { return env(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return env(a.PasswordEnv) }

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// TLSConfig holds per-entity TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML config data.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	fill(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScrapeInterval: DefaultScrapeInterval,
			RetryInterval:  DefaultRetryInterval,
			Concurrency:    DefaultConcurrency,
			StatePath:      DefaultStatePath,
			PollerName:     DefaultPollerName,
			Log:            logging.Config{Level: "info"},
			Kafka: KafkaConfig{
				Topic:         DefaultRecordsTopic,
				BufferSize:    DefaultBufferSize,
				BatchSize:     DefaultBatchSize,
				FlushInterval: DefaultFlushInterval,
			},
		},
	}
}

func fill(cfg *Config) {
	for i := range cfg.Agent.Entities {
		e := &cfg.Agent.Entities[i]
		if e.Timeout == 0 {
			e.Timeout = DefaultScrapeTimeout
		}
		if e.Auth.Mode == "apikey" && e.Auth.Header == "" {
			e.Auth.Header = "X-API-Key"
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ScrapeInterval <= 0 {
		return fmt.Errorf("agent.scrape_interval must be positive")
	}
	if a.RetryInterval < 0 {
		return fmt.Errorf("agent.retry_interval must not be negative")
	}
	if a.Concurrency <= 0 {
		return fmt.Errorf("agent.concurrency must be positive")
	}
	if len(a.Kafka.Brokers) == 0 {
		return fmt.Errorf("agent.kafka.brokers is required")
	}
	if a.Kafka.Topic == "" {
		return fmt.Errorf("agent.kafka.topic is required")
	}
	if a.Kafka.BufferSize <= 0 || a.Kafka.BatchSize <= 0 {
		return fmt.Errorf("agent.kafka.buffer_size and batch_size must be positive")
	}
	switch a.Kafka.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("agent.kafka.compression: unknown codec %q", a.Kafka.Compression)
	}
	if _, err := logging.ParseLevel(a.Log.Level); err != nil {
		return fmt.Errorf("agent.log.level: %w", err)
	}

	seen := make(map[string]bool, len(a.Entities))
	for i, e := range a.Entities {
		if e.ID == "" {
			return fmt.Errorf("entities[%d]: id is required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("entities[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
		if e.ParentID == "" {
			return fmt.Errorf("entities[%d] %q: parent_id is required", i, e.ID)
		}
		if e.Endpoint == "" {
			return fmt.Errorf("entities[%d] %q: endpoint is required", i, e.ID)
		}
		if e.Timeout < 0 {
			return fmt.Errorf("entities[%d] %q: timeout must not be negative", i, e.ID)
		}
		switch e.Type {
		case "prometheus":
			if len(e.Metrics) == 0 {
				return fmt.Errorf("entities[%d] %q: prometheus entities need at least one metric", i, e.ID)
			}
		case "http":
			for name, field := range e.Metrics {
				switch field {
				case "response_time", "status_code", "cert_days_left":
				default:
					return fmt.Errorf("entities[%d] %q: metric %q: unknown probe field %q", i, e.ID, name, field)
				}
			}
		default:
			return fmt.Errorf("entities[%d] %q: unknown type %q", i, e.ID, e.Type)
		}
		switch e.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("entities[%d] %q: unknown auth mode %q", i, e.ID, e.Auth.Mode)
		}
	}
	return nil
}
