// Package config loads and validates govwatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Fetch     FetchConfig               `mapstructure:"fetch"`
	Browser   BrowserConfig             `mapstructure:"browser"`
	SEACE     SEACEConfig               `mapstructure:"seace"`
	Sources   map[string]ListingSource  `mapstructure:"sources"`
	Sessions  SessionsConfig            `mapstructure:"sessions"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Publisher PublisherConfig           `mapstructure:"publisher"`
	Worker    WorkerConfig              `mapstructure:"worker"`
	Scheduler SchedulerConfig           `mapstructure:"scheduler"`
	Bootstrap map[string]BootstrapEntry `mapstructure:"bootstrap"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownSeconds       int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the session log sink level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetchConfig configures the dual-mode HTTP fetch layer.
type FetchConfig struct {
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxRedirects   int      `mapstructure:"max_redirects"`
	LegacyHosts    []string `mapstructure:"legacy_hosts"`
	PerHostRPS     float64  `mapstructure:"per_host_rps"`
	PerHostBurst   int      `mapstructure:"per_host_burst"`
}

// BrowserConfig configures executable resolution and chromedp behavior.
type BrowserConfig struct {
	Executable           string `mapstructure:"executable"`
	ServerlessExecutable string `mapstructure:"serverless_executable"`
	Serverless           bool   `mapstructure:"serverless"`
	Headless             bool   `mapstructure:"headless"`
	NavTimeoutSeconds    int    `mapstructure:"nav_timeout_seconds"`
}

// SEACEConfig holds the authenticated source's URLs, limits and heuristic overrides.
type SEACEConfig struct {
	LoginURL         string   `mapstructure:"login_url"`
	MaxCandidates    int      `mapstructure:"max_candidates"`
	RetryAttempts    int      `mapstructure:"retry_attempts"`
	RetryDelayMs     int      `mapstructure:"retry_delay_ms"`
	SnapshotPrefix   string   `mapstructure:"snapshot_prefix"`
	EntityKeywords   []string `mapstructure:"entity_keywords"`
	SelectionTypes   []string `mapstructure:"selection_types"`
	StageNames       []string `mapstructure:"stage_names"`
	Blocklist        []string `mapstructure:"blocklist"`
	MaxStageRowRunes int      `mapstructure:"max_stage_row_runes"`
	Username         string   `mapstructure:"username"`
	Password         string   `mapstructure:"password"`
}

// ListingSource overrides the listing pages of a static source.
type ListingSource struct {
	BaseURL     string   `mapstructure:"base_url"`
	ListingURLs []string `mapstructure:"listing_urls"`
}

// SessionsConfig controls the session log bus.
type SessionsConfig struct {
	HistorySize    int `mapstructure:"history_size"`
	TTLSeconds     int `mapstructure:"ttl_seconds"`
	BufferSize     int `mapstructure:"buffer_size"`
	BatchMaxEvents int `mapstructure:"batch_max_events"`
	BatchMaxWaitMs int `mapstructure:"batch_max_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// StorageConfig selects the snapshot blob backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PublisherConfig selects where alerts are fanned out.
type PublisherConfig struct {
	Backend      string   `mapstructure:"backend"`
	Topic        string   `mapstructure:"topic"`
	ProjectID    string   `mapstructure:"project_id"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
}

// WorkerConfig sizes the background run queue.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// SchedulerConfig controls periodic unforced runs.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Spec     string `mapstructure:"spec"`
	RunPurge bool   `mapstructure:"run_purge"`
}

// BootstrapEntry seeds a source's settings on first start when nothing is stored yet.
type BootstrapEntry struct {
	Enabled       bool   `mapstructure:"enabled"`
	Frequency     string `mapstructure:"frequency"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GOVWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("fetch.user_agent", "govwatch/0.1 (+https://github.com/JakeFAU/govwatch)")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_redirects", 5)
	v.SetDefault("fetch.legacy_hosts", []string{"busquedas.elperuano.pe", "diariooficial.elperuano.pe"})
	v.SetDefault("fetch.per_host_rps", 1.0)
	v.SetDefault("fetch.per_host_burst", 2)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.serverless_executable", "/opt/chromium/chromium")
	v.SetDefault("seace.login_url", "https://prodapp2.seace.gob.pe/seacebus-uiwd-pub/loginAcceso.xhtml")
	v.SetDefault("seace.max_candidates", 20)
	v.SetDefault("seace.retry_attempts", 5)
	v.SetDefault("seace.retry_delay_ms", 1000)
	v.SetDefault("seace.snapshot_prefix", "snapshots/seace")
	v.SetDefault("seace.max_stage_row_runes", 120)
	v.SetDefault("sessions.history_size", 500)
	v.SetDefault("sessions.ttl_seconds", 300)
	v.SetDefault("sessions.buffer_size", 4096)
	v.SetDefault("sessions.batch_max_events", 200)
	v.SetDefault("sessions.batch_max_wait_ms", 500)
	v.SetDefault("sessions.sink_timeout_ms", 5000)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("publisher.backend", "memory")
	v.SetDefault("publisher.topic", "govwatch-alerts")
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.queue_depth", 16)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.spec", "@every 1h")
	v.SetDefault("scheduler.run_purge", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxRedirects < 0 {
		return fmt.Errorf("fetch.max_redirects must be >= 0")
	}
	if c.SEACE.MaxCandidates <= 0 {
		return fmt.Errorf("seace.max_candidates must be > 0")
	}
	if c.SEACE.RetryAttempts <= 0 {
		return fmt.Errorf("seace.retry_attempts must be > 0")
	}
	if c.Sessions.HistorySize <= 0 {
		return fmt.Errorf("sessions.history_size must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Publisher.Backend {
	case "memory", "none":
	case "pubsub":
		if c.Publisher.ProjectID == "" {
			return fmt.Errorf("publisher.project_id must be set for the pubsub backend")
		}
	case "kafka":
		if len(c.Publisher.KafkaBrokers) == 0 {
			return fmt.Errorf("publisher.kafka_brokers must be set for the kafka backend")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not supported", c.Publisher.Backend)
	}
	if c.Scheduler.Enabled && c.Scheduler.Spec == "" {
		return fmt.Errorf("scheduler.spec must be set when the scheduler is enabled")
	}
	return nil
}

// FetchTimeout returns the per-request fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// SessionTTL returns how long finished sessions remain queryable.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLSeconds) * time.Second
}
