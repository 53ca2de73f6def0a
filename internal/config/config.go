// Package config loads and validates harvest configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lexharvest/lexharvest/internal/api"
	"github.com/lexharvest/lexharvest/internal/coordinator"
	"github.com/lexharvest/lexharvest/internal/discovery"
	"github.com/lexharvest/lexharvest/internal/fragment"
	"github.com/lexharvest/lexharvest/internal/logging"
	"github.com/lexharvest/lexharvest/internal/policy/breaker"
	"github.com/lexharvest/lexharvest/internal/policy/ratelimit"
	"github.com/lexharvest/lexharvest/internal/policy/retry"
)

// Source names accepted by crawler.source.
const (
	SourceCatalog = "catalog"
	SourceAwards  = "awards"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig      `mapstructure:"crawler"`
	HTTP       HTTPConfig         `mapstructure:"http"`
	RateLimit  ratelimit.Config   `mapstructure:"ratelimit"`
	Retry      retry.Config       `mapstructure:"retry"`
	Breaker    breaker.Config     `mapstructure:"breaker"`
	Checkpoint CheckpointConfig   `mapstructure:"checkpoint"`
	Fragment   fragment.Config    `mapstructure:"fragment"`
	Storage    StorageConfig      `mapstructure:"storage"`
	PubSub     PubSubConfig       `mapstructure:"pubsub"`
	Pipeline   coordinator.Config `mapstructure:"pipeline"`
	Discovery  discovery.Config   `mapstructure:"discovery"`
	Server     api.Config         `mapstructure:"server"`
	Logging    logging.Config     `mapstructure:"logging"`
}

// CrawlerConfig selects the source archive and search parameters.
type CrawlerConfig struct {
	Source     string `mapstructure:"source"`
	BaseURL    string `mapstructure:"base_url"`
	Query      string `mapstructure:"query"`
	MaxResults int    `mapstructure:"max_results"`
	UserAgent  string `mapstructure:"user_agent"`
}

// HTTPConfig configures the fetch layer.
type HTTPConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
}

// CheckpointConfig selects and configures the checkpoint store.
type CheckpointConfig struct {
	// Backend is one of "memory", "sqlite", or "postgres".
	Backend    string `mapstructure:"backend"`
	EveryItems int    `mapstructure:"every_items"`
	SQLitePath string `mapstructure:"sqlite_path"`
	DSN        string `mapstructure:"dsn"`
}

// StorageConfig selects and configures the asset sink.
type StorageConfig struct {
	// Backend is one of "memory", "local", or "gcs".
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ProjectID      string `mapstructure:"project_id"`
	RecordsTopic   string `mapstructure:"records_topic"`
	FragmentsTopic string `mapstructure:"fragments_topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEXHARVEST")
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
	v.SetDefault("crawler.source", SourceAwards)
	v.SetDefault("crawler.max_results", 100)
	v.SetDefault("crawler.user_agent", "lexharvest-bot/0.1")

	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_idle_conns", 100)
	v.SetDefault("http.max_idle_conns_per_host", 8)

	v.SetDefault("ratelimit.rps", 0.5)
	v.SetDefault("ratelimit.burst", 1)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "250ms")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.jitter_fraction", 0.2)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.open_timeout", "30s")

	v.SetDefault("checkpoint.backend", "sqlite")
	v.SetDefault("checkpoint.every_items", 25)
	v.SetDefault("checkpoint.sqlite_path", "lexharvest.db")

	v.SetDefault("fragment.size", fragment.DefaultSize)
	v.SetDefault("fragment.overlap", fragment.DefaultOverlap)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "assets")

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.records_topic", "lexharvest-records")
	v.SetDefault("pubsub.fragments_topic", "lexharvest-fragments")

	v.SetDefault("pipeline.download_assets", true)
	v.SetDefault("pipeline.fragment_text", true)

	v.SetDefault("discovery.default_max_results", 100)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", "30s")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Crawler.Source {
	case SourceCatalog, SourceAwards:
	default:
		return fmt.Errorf("crawler.source must be %q or %q, got %q",
			SourceCatalog, SourceAwards, c.Crawler.Source)
	}
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is required")
	}
	if c.Crawler.MaxResults < 0 {
		return fmt.Errorf("crawler.max_results must not be negative")
	}
	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("ratelimit.rps must be positive")
	}

	switch c.Checkpoint.Backend {
	case "memory":
	case "sqlite":
		if c.Checkpoint.SQLitePath == "" {
			return fmt.Errorf("checkpoint.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Checkpoint.DSN == "" {
			return fmt.Errorf("checkpoint.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}

	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub is enabled")
	}
	if c.Fragment.Overlap >= c.Fragment.Size && c.Fragment.Size > 0 {
		return fmt.Errorf("fragment.overlap must be smaller than fragment.size")
	}
	return nil
}
