// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/docharvest/docharvest/internal/archive/gcs"
	"github.com/docharvest/docharvest/internal/archive/local"
	pubpubsub "github.com/docharvest/docharvest/internal/publisher/pubsub"
	qpubsub "github.com/docharvest/docharvest/internal/queue/pubsub"
	"github.com/docharvest/docharvest/internal/scraper"
	"github.com/docharvest/docharvest/internal/store/postgres"
)

// Providers accepted by the pluggable sections.
const (
	ProviderNone     = "none"
	ProviderMemory   = "memory"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
	ProviderPostgres = "postgres"
	ProviderPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Split    SplitConfig    `mapstructure:"split"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Store    StoreConfig    `mapstructure:"store"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig supplies defaults for crawls submitted without explicit
// options, both from the CLI and over the API.
type CrawlConfig struct {
	MaxDepth        int      `mapstructure:"max_depth"`
	MaxPages        int      `mapstructure:"max_pages"`
	Concurrency     int      `mapstructure:"concurrency"`
	Scope           string   `mapstructure:"scope"`
	IncludePatterns []string `mapstructure:"include_patterns"`
	ExcludePatterns []string `mapstructure:"exclude_patterns"`
	FollowRedirects bool     `mapstructure:"follow_redirects"`
	AllowedSchemes  []string `mapstructure:"allowed_schemes"`
	RenderMode      string   `mapstructure:"render_mode"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxTabs       int  `mapstructure:"max_tabs"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// SplitConfig sets the chunk budget for splitting extracted page text.
type SplitConfig struct {
	MaxChunkSize int `mapstructure:"max_chunk_size"`
}

// ArchiveConfig selects where raw page bodies are archived, if anywhere.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Prefix   string `mapstructure:"prefix"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
}

// StoreConfig selects the crawl metadata store.
type StoreConfig struct {
	Provider           string `mapstructure:"provider"`
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// PublishConfig selects the page event publisher.
type PublishConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// QueueConfig selects the crawl submission queue.
type QueueConfig struct {
	Provider     string `mapstructure:"provider"`
	Depth        int    `mapstructure:"depth"`
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// WorkerConfig sizes the serve-mode crawl pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Addr                  string `mapstructure:"addr"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int    `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCHARVEST")
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
	v.SetDefault("crawl.max_depth", 3)
	v.SetDefault("crawl.max_pages", 200)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.scope", string(scraper.ScopeSubpages))
	v.SetDefault("crawl.follow_redirects", true)
	v.SetDefault("crawl.allowed_schemes", scraper.DefaultSchemes)
	v.SetDefault("crawl.render_mode", string(scraper.RenderNever))
	v.SetDefault("fetch.user_agent", "docharvest/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.max_body_bytes", 10*1024*1024)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_tabs", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("split.max_chunk_size", 4096)
	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("store.provider", ProviderMemory)
	v.SetDefault("publish.provider", ProviderNone)
	v.SetDefault("queue.provider", ProviderMemory)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_grace_seconds", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0")
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxTabs <= 0 {
		return fmt.Errorf("headless.max_tabs must be > 0 when headless is enabled")
	}
	if c.Split.MaxChunkSize <= 0 {
		return fmt.Errorf("split.max_chunk_size must be > 0")
	}
	switch c.Archive.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.provider is %q", ProviderLocal)
		}
	case ProviderGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.provider is %q", ProviderGCS)
		}
	default:
		return fmt.Errorf("archive.provider %q is not one of none, memory, local, gcs", c.Archive.Provider)
	}
	switch c.Store.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.provider is %q", ProviderPostgres)
		}
	default:
		return fmt.Errorf("store.provider %q is not one of memory, postgres", c.Store.Provider)
	}
	switch c.Publish.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.Publish.ProjectID == "" || c.Publish.Topic == "" {
			return fmt.Errorf("publish.project_id and publish.topic must be set when publish.provider is %q", ProviderPubSub)
		}
	default:
		return fmt.Errorf("publish.provider %q is not one of none, memory, pubsub", c.Publish.Provider)
	}
	switch c.Queue.Provider {
	case ProviderMemory:
	case ProviderPubSub:
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id, queue.topic and queue.subscription must be set when queue.provider is %q", ProviderPubSub)
		}
	default:
		return fmt.Errorf("queue.provider %q is not one of memory, pubsub", c.Queue.Provider)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}

	opts := c.Crawl.Options("https://example.com/")
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("crawl defaults: %w", err)
	}
	return nil
}

// Options builds normalized crawl options for the given seed from the
// configured defaults.
func (c CrawlConfig) Options(seedURL string) scraper.ScrapeOptions {
	opts := scraper.ScrapeOptions{
		SeedURL:         seedURL,
		MaxDepth:        c.MaxDepth,
		MaxPages:        c.MaxPages,
		MaxConcurrency:  c.Concurrency,
		Scope:           scraper.Scope(c.Scope),
		IncludePatterns: append([]string(nil), c.IncludePatterns...),
		ExcludePatterns: append([]string(nil), c.ExcludePatterns...),
		FollowRedirects: c.FollowRedirects,
		AllowedSchemes:  append([]string(nil), c.AllowedSchemes...),
		RenderMode:      scraper.RenderMode(c.RenderMode),
	}
	opts.Normalize()
	return opts
}

// Timeout converts the configured fetch timeout into a duration.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NavTimeout converts the configured navigation timeout into a duration.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// RequestTimeout converts the configured request timeout into a duration.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownGrace converts the configured shutdown grace into a duration.
func (c ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// Local maps the archive section onto the local archive config.
func (c ArchiveConfig) Local() local.Config {
	return local.Config{BaseDir: c.BaseDir}
}

// GCS maps the archive section onto the GCS archive config.
func (c ArchiveConfig) GCS() gcs.Config {
	return gcs.Config{Bucket: c.Bucket}
}

// Postgres maps the store section onto the postgres store config.
func (c StoreConfig) Postgres() postgres.Config {
	return postgres.Config{
		DSN:             c.DSN,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: time.Duration(c.ConnLifetimeMinute) * time.Minute,
	}
}

// PubSub maps the publish section onto the Pub/Sub publisher config.
func (c PublishConfig) PubSub() pubpubsub.Config {
	return pubpubsub.Config{ProjectID: c.ProjectID, Topic: c.Topic}
}

// PubSub maps the queue section onto the Pub/Sub queue config.
func (c QueueConfig) PubSub() qpubsub.Config {
	return qpubsub.Config{
		ProjectID:    c.ProjectID,
		Topic:        c.Topic,
		Subscription: c.Subscription,
	}
}
