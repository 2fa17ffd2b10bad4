// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/goacyber/scamhound/internal/ensemble"
	"github.com/goacyber/scamhound/internal/logging"
	"github.com/goacyber/scamhound/internal/pipeline"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Ensemble  EnsembleConfig  `mapstructure:"ensemble"`
	Scorer    ScorerConfig    `mapstructure:"scorer"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Store     StoreConfig     `mapstructure:"store"`
	Feedback  FeedbackConfig  `mapstructure:"feedback"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Snapshots SnapshotConfig  `mapstructure:"snapshots"`
	Logging   logging.Config  `mapstructure:"logging"`
	Seeds     SeedsConfig     `mapstructure:"seeds"`
	Rules     []ensemble.Rule `mapstructure:"rules"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig governs the worker pool.
type PipelineConfig struct {
	Workers             int `mapstructure:"workers"`
	BatchSize           int `mapstructure:"batch_size"`
	PollIntervalMs      int `mapstructure:"poll_interval_ms"`
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`
}

// FrontierConfig tunes retry backoff and revisit scheduling.
type FrontierConfig struct {
	BackoffBaseSeconds  int     `mapstructure:"backoff_base_seconds"`
	BackoffMaxSeconds   int     `mapstructure:"backoff_max_seconds"`
	MaxAttempts         int     `mapstructure:"max_attempts"`
	RevisitHighHours    int     `mapstructure:"revisit_high_hours"`
	RevisitUncertainHrs int     `mapstructure:"revisit_uncertain_hours"`
	RevisitBenignHours  int     `mapstructure:"revisit_benign_hours"`
	HighRiskBoundary    float64 `mapstructure:"high_risk_boundary"`
}

// EnsembleConfig weights rule and model signals.
type EnsembleConfig struct {
	RuleWeight           float64 `mapstructure:"rule_weight"`
	UncertainBand        float64 `mapstructure:"uncertain_band"`
	ScorerTimeoutSeconds int     `mapstructure:"scorer_timeout_seconds"`
}

// ScorerConfig locates the model scorer backend.
type ScorerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// GatewayConfig locates the channel gateway.
type GatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	SampleSize     int    `mapstructure:"sample_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CrawlConfig governs page fetching.
type CrawlConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// ExtractConfig bounds extractor output.
type ExtractConfig struct {
	MaxTextLen     int `mapstructure:"max_text_len"`
	MaxDiscoveries int `mapstructure:"max_discoveries"`
}

// StoreConfig selects and configures the state store backend.
type StoreConfig struct {
	Backend         string `mapstructure:"backend"`
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_seconds"`
}

// FeedbackConfig selects and configures the feedback queue backend.
type FeedbackConfig struct {
	Backend     string `mapstructure:"backend"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// PublisherConfig selects the verdict event broker.
type PublisherConfig struct {
	Backend       string `mapstructure:"backend"`
	Topic         string `mapstructure:"topic"`
	KafkaBroker   string `mapstructure:"kafka_broker"`
	PubSubProject string `mapstructure:"pubsub_project"`
}

// SnapshotConfig selects the content snapshot store.
type SnapshotConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// SeedsConfig points at the seed target list.
type SeedsConfig struct {
	File string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCAMHOUND")
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
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.poll_interval_ms", 500)
	v.SetDefault("pipeline.fetch_timeout_seconds", 30)
	v.SetDefault("frontier.backoff_base_seconds", 30)
	v.SetDefault("frontier.backoff_max_seconds", 1800)
	v.SetDefault("frontier.max_attempts", 3)
	v.SetDefault("frontier.revisit_high_hours", 1)
	v.SetDefault("frontier.revisit_uncertain_hours", 6)
	v.SetDefault("frontier.revisit_benign_hours", 24)
	v.SetDefault("frontier.high_risk_boundary", 0.6)
	v.SetDefault("ensemble.rule_weight", 0.7)
	v.SetDefault("ensemble.uncertain_band", 0.1)
	v.SetDefault("ensemble.scorer_timeout_seconds", 10)
	v.SetDefault("gateway.sample_size", 50)
	v.SetDefault("crawl.user_agent", "scamhound-bot/0.1")
	v.SetDefault("crawl.respect_robots", false)
	v.SetDefault("crawl.timeout_seconds", 15)
	v.SetDefault("extract.max_text_len", 20000)
	v.SetDefault("extract.max_discoveries", 200)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("feedback.backend", "memory")
	v.SetDefault("feedback.redis_prefix", "scamhound:feedback")
	v.SetDefault("publisher.backend", "memory")
	v.SetDefault("publisher.topic", "scamhound.verdicts")
	v.SetDefault("snapshots.backend", "memory")
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Ensemble.RuleWeight < 0 || c.Ensemble.RuleWeight > 1 {
		return fmt.Errorf("ensemble.rule_weight must be within [0, 1]")
	}
	if c.Frontier.HighRiskBoundary <= 0 || c.Frontier.HighRiskBoundary >= 1 {
		return fmt.Errorf("frontier.high_risk_boundary must be within (0, 1)")
	}
	if c.Frontier.MaxAttempts <= 0 {
		return fmt.Errorf("frontier.max_attempts must be > 0")
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	switch c.Feedback.Backend {
	case "memory":
	case "redis":
		if c.Feedback.RedisAddr == "" {
			return fmt.Errorf("feedback.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown feedback.backend %q", c.Feedback.Backend)
	}
	switch c.Publisher.Backend {
	case "memory", "none":
	case "kafka":
		if c.Publisher.KafkaBroker == "" {
			return fmt.Errorf("publisher.kafka_broker is required for the kafka backend")
		}
	case "pubsub":
		if c.Publisher.PubSubProject == "" {
			return fmt.Errorf("publisher.pubsub_project is required for the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown publisher.backend %q", c.Publisher.Backend)
	}
	switch c.Snapshots.Backend {
	case "memory", "none":
	case "local":
		if c.Snapshots.LocalDir == "" {
			return fmt.Errorf("snapshots.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Snapshots.GCSBucket == "" {
			return fmt.Errorf("snapshots.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown snapshots.backend %q", c.Snapshots.Backend)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Backoff converts the frontier section into the retry policy.
func (c Config) Backoff() pipeline.Backoff {
	return pipeline.Backoff{
		Base:        time.Duration(c.Frontier.BackoffBaseSeconds) * time.Second,
		Max:         time.Duration(c.Frontier.BackoffMaxSeconds) * time.Second,
		MaxAttempts: c.Frontier.MaxAttempts,
	}
}

// RevisitPolicy converts the frontier section into the revisit policy.
func (c Config) RevisitPolicy() pipeline.RevisitPolicy {
	return pipeline.RevisitPolicy{
		HighRisk:  time.Duration(c.Frontier.RevisitHighHours) * time.Hour,
		Uncertain: time.Duration(c.Frontier.RevisitUncertainHrs) * time.Hour,
		Benign:    time.Duration(c.Frontier.RevisitBenignHours) * time.Hour,
		Boundary:  c.Frontier.HighRiskBoundary,
	}
}

// FetchTimeout returns the per-fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Pipeline.FetchTimeoutSeconds) * time.Second
}

// PollInterval returns the dispatcher idle sleep.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollIntervalMs) * time.Millisecond
}
