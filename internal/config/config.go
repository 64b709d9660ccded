// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	HostLimit HostLimitConfig `mapstructure:"hostlimit"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ArchiveConfig identifies the rate-limited archive and its fetch budget.
type ArchiveConfig struct {
	Site          string   `mapstructure:"site"`
	Hosts         []string `mapstructure:"hosts"`
	MinIntervalMs int      `mapstructure:"min_interval_ms"`
}

// MinInterval returns the minimum gap between archive fetches.
func (c ArchiveConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-request fetch timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HostLimitConfig governs fetches against hosts outside the archive budget.
type HostLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// WorkerConfig controls pipeline pacing and the cooldown circuit breaker.
type WorkerConfig struct {
	PollIntervalMs      int     `mapstructure:"poll_interval_ms"`
	ThinkMinMs          int     `mapstructure:"think_min_ms"`
	ThinkMaxMs          int     `mapstructure:"think_max_ms"`
	DelayMinMs          int     `mapstructure:"delay_min_ms"`
	DelayMaxMs          int     `mapstructure:"delay_max_ms"`
	LongDelayChance     float64 `mapstructure:"long_delay_chance"`
	LongDelayMinMs      int     `mapstructure:"long_delay_min_ms"`
	LongDelayMaxMs      int     `mapstructure:"long_delay_max_ms"`
	PauseEveryMin       int     `mapstructure:"pause_every_min"`
	PauseEveryMax       int     `mapstructure:"pause_every_max"`
	PauseMinMs          int     `mapstructure:"pause_min_ms"`
	PauseMaxMs          int     `mapstructure:"pause_max_ms"`
	LongWaitThresholdMs int     `mapstructure:"long_wait_threshold_ms"`
	HeartbeatIntervalMs int     `mapstructure:"heartbeat_interval_ms"`
	CooldownThreshold   int     `mapstructure:"cooldown_threshold"`
	CooldownMs          int     `mapstructure:"cooldown_ms"`
	SeriesEstimate      int     `mapstructure:"series_estimate"`
	SnapshotPrefix      string  `mapstructure:"snapshot_prefix"`
}

// ReaperConfig holds the staleness cutoffs for stuck-job recovery.
type ReaperConfig struct {
	IntervalMinutes         int `mapstructure:"interval_minutes"`
	PendingMaxAgeHours      int `mapstructure:"pending_max_age_hours"`
	ProcessingMaxAgeMinutes int `mapstructure:"processing_max_age_minutes"`
	SeriesMaxAgeMinutes     int `mapstructure:"series_max_age_minutes"`
	RetentionHours          int `mapstructure:"retention_hours"`
}

// PolicyConfig captures the curation rules.
type PolicyConfig struct {
	FandomSlugs   []string `mapstructure:"fandom_slugs"`
	FandomAliases []string `mapstructure:"fandom_aliases"`
	PairA         string   `mapstructure:"pair_a"`
	PairB         string   `mapstructure:"pair_b"`
	PairSlugs     []string `mapstructure:"pair_slugs"`
	Qualifiers    []string `mapstructure:"qualifiers"`
	AllowGeneral  bool     `mapstructure:"allow_general"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	// Backend selects the job/catalog store: "memory" or "postgres".
	Backend string `mapstructure:"backend"`
	// Blob selects the snapshot store: "memory", "local" or "gcs".
	Blob      string `mapstructure:"blob"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVIST")
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

	v.SetDefault("archive.site", "archive")
	v.SetDefault("archive.hosts", []string{"archiveofourown.org"})
	v.SetDefault("archive.min_interval_ms", 20000)

	v.SetDefault("fetch.user_agent", "archivist/1.0")
	v.SetDefault("fetch.timeout_seconds", 30)

	v.SetDefault("hostlimit.default_rps", 0.5)
	v.SetDefault("hostlimit.default_burst", 1)

	v.SetDefault("worker.poll_interval_ms", 5000)
	v.SetDefault("worker.think_min_ms", 1000)
	v.SetDefault("worker.think_max_ms", 4000)
	v.SetDefault("worker.delay_min_ms", 2000)
	v.SetDefault("worker.delay_max_ms", 8000)
	v.SetDefault("worker.long_delay_chance", 0.1)
	v.SetDefault("worker.long_delay_min_ms", 20000)
	v.SetDefault("worker.long_delay_max_ms", 60000)
	v.SetDefault("worker.pause_every_min", 10)
	v.SetDefault("worker.pause_every_max", 20)
	v.SetDefault("worker.pause_min_ms", 120000)
	v.SetDefault("worker.pause_max_ms", 300000)
	v.SetDefault("worker.long_wait_threshold_ms", 45000)
	v.SetDefault("worker.heartbeat_interval_ms", 30000)
	v.SetDefault("worker.cooldown_threshold", 3)
	v.SetDefault("worker.cooldown_ms", 600000)
	v.SetDefault("worker.series_estimate", 3)
	v.SetDefault("worker.snapshot_prefix", "snapshots")

	v.SetDefault("reaper.interval_minutes", 30)
	v.SetDefault("reaper.pending_max_age_hours", 24)
	v.SetDefault("reaper.processing_max_age_minutes", 90)
	v.SetDefault("reaper.series_max_age_minutes", 120)
	v.SetDefault("reaper.retention_hours", 3)

	v.SetDefault("policy.allow_general", true)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.blob", "memory")

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Archive.Hosts) == 0 {
		return fmt.Errorf("archive.hosts must name at least one host")
	}
	if c.Archive.MinIntervalMs <= 0 {
		return fmt.Errorf("archive.min_interval_ms must be > 0")
	}
	if c.Worker.CooldownThreshold <= 0 {
		return fmt.Errorf("worker.cooldown_threshold must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	switch c.Storage.Blob {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.blob must be memory, local or gcs, got %q", c.Storage.Blob)
	}
	if c.Storage.Backend == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when storage.backend is postgres")
	}
	if c.Storage.Blob == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.blob is gcs")
	}
	if c.Storage.Blob == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set when storage.blob is local")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if (c.Policy.PairA == "") != (c.Policy.PairB == "") {
		return fmt.Errorf("policy.pair_a and policy.pair_b must be set together")
	}
	return nil
}
