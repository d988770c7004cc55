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
	Feed      FeedConfig      `mapstructure:"feed"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Clean     CleanConfig     `mapstructure:"clean"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Store     StoreConfig     `mapstructure:"store"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FeedConfig governs the keyword feed connector.
type FeedConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Keyword        string `mapstructure:"keyword"`
	MaxRecords     int    `mapstructure:"max_records"`
	Timespan       string `mapstructure:"timespan"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CrawlerConfig governs the differential site crawler.
type CrawlerConfig struct {
	TargetsPath string `mapstructure:"targets_path"`
	UserAgent   string `mapstructure:"user_agent"`
}

// CleanConfig sets the cleaning-stage filters.
type CleanConfig struct {
	MinBodyChars     int      `mapstructure:"min_body_chars"`
	AllowedLanguages []string `mapstructure:"allowed_languages"`
}

// EnrichConfig configures the remote language-model service.
type EnrichConfig struct {
	APIURL          string `mapstructure:"api_url"`
	AuthURL         string `mapstructure:"auth_url"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	ProjectID       string `mapstructure:"project_id"`
	APIVersion      string `mapstructure:"api_version"`
	GenerateModel   string `mapstructure:"generate_model"`
	EmbedModel      string `mapstructure:"embed_model"`
	EmbedDim        int    `mapstructure:"embed_dim"`
	MaxPromptChars  int    `mapstructure:"max_prompt_chars"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	InsecureSkipTLS bool   `mapstructure:"insecure_skip_tls"`
}

// StoreConfig selects and configures the document search store.
type StoreConfig struct {
	Provider        string   `mapstructure:"provider"`
	Addresses       []string `mapstructure:"addresses"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	InsecureSkipTLS bool     `mapstructure:"insecure_skip_tls"`
}

// PublisherConfig selects the article event publisher.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ArchiveConfig selects the optional raw-payload blob archive.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// SchedulerConfig controls job intervals and misfire tolerances.
type SchedulerConfig struct {
	FeedIntervalMinutes int `mapstructure:"feed_interval_minutes"`
	FeedGraceMinutes    int `mapstructure:"feed_grace_minutes"`
	CrawlGraceMinutes   int `mapstructure:"crawl_grace_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FeedTimeout returns the feed request timeout as a duration.
func (c FeedConfig) FeedTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EnrichTimeout returns the model request timeout as a duration.
func (c EnrichConfig) EnrichTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSETL")
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
	v.SetDefault("feed.base_url", "https://api.gdeltproject.org/api/v2/doc/doc")
	v.SetDefault("feed.keyword", "IBM")
	v.SetDefault("feed.max_records", 250)
	v.SetDefault("feed.timespan", "15min")
	v.SetDefault("feed.timeout_seconds", 30)
	v.SetDefault("crawler.targets_path", "crawl_targets.yaml")
	v.SetDefault("crawler.user_agent", "newsetl-bot/1.0")
	v.SetDefault("clean.min_body_chars", 100)
	v.SetDefault("clean.allowed_languages", []string{"en", "ja"})
	v.SetDefault("enrich.api_version", "2025-02-06")
	v.SetDefault("enrich.generate_model", "openai/gpt-oss-120b")
	v.SetDefault("enrich.embed_model", "ibm/granite-embedding-107m-multilingual")
	v.SetDefault("enrich.embed_dim", 384)
	v.SetDefault("enrich.max_prompt_chars", 4000)
	v.SetDefault("enrich.timeout_seconds", 120)
	v.SetDefault("store.provider", "opensearch")
	v.SetDefault("store.addresses", []string{"https://localhost:9200"})
	v.SetDefault("store.username", "admin")
	v.SetDefault("publisher.provider", "noop")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("scheduler.feed_interval_minutes", 15)
	v.SetDefault("scheduler.feed_grace_minutes", 5)
	v.SetDefault("scheduler.crawl_grace_minutes", 10)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits. Configuration
// errors are fatal at startup and never retried.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Feed.Keyword == "" {
		return fmt.Errorf("feed.keyword must be set")
	}
	if c.Feed.MaxRecords <= 0 {
		return fmt.Errorf("feed.max_records must be > 0")
	}
	if c.Feed.TimeoutSeconds <= 0 {
		return fmt.Errorf("feed.timeout_seconds must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Clean.MinBodyChars <= 0 {
		return fmt.Errorf("clean.min_body_chars must be > 0")
	}
	if len(c.Clean.AllowedLanguages) == 0 {
		return fmt.Errorf("clean.allowed_languages must not be empty")
	}
	if c.Enrich.EmbedDim <= 0 {
		return fmt.Errorf("enrich.embed_dim must be > 0")
	}
	if c.Enrich.MaxPromptChars <= 0 {
		return fmt.Errorf("enrich.max_prompt_chars must be > 0")
	}
	switch c.Store.Provider {
	case "opensearch":
		if len(c.Store.Addresses) == 0 {
			return fmt.Errorf("store.addresses must be set for the opensearch provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}
	switch c.Publisher.Provider {
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.TopicID == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_id must be set for pubsub")
		}
	case "memory", "noop":
	default:
		return fmt.Errorf("unknown publisher provider: %s", c.Publisher.Provider)
	}
	switch c.Archive.Provider {
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs provider")
		}
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local provider")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("unknown archive provider: %s", c.Archive.Provider)
	}
	if c.Scheduler.FeedIntervalMinutes <= 0 {
		return fmt.Errorf("scheduler.feed_interval_minutes must be > 0")
	}
	return nil
}
