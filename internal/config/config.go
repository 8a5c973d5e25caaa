// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/channelcrawler/internal/checkpoint"
	"github.com/JakeFAU/channelcrawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/channelcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/channelcrawler/internal/logging"
	"github.com/JakeFAU/channelcrawler/internal/proxy"
	"github.com/JakeFAU/channelcrawler/internal/publisher"
	"github.com/JakeFAU/channelcrawler/internal/store"
)

// Broker drivers accepted in BrokerConfig.Driver.
const (
	DriverPubSub = "pubsub"
	DriverMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler    crawler.Config      `mapstructure:"crawler"`
	Channels   ChannelsConfig      `mapstructure:"channels"`
	HTTP       collyfetcher.Config `mapstructure:"http"`
	Proxy      proxy.Config        `mapstructure:"proxy"`
	Store      store.Config        `mapstructure:"store"`
	Checkpoint checkpoint.Config   `mapstructure:"checkpoint"`
	Broker     BrokerConfig        `mapstructure:"broker"`
	Server     ServerConfig        `mapstructure:"server"`
	Logging    logging.Config      `mapstructure:"logging"`
}

// ChannelsConfig locates the channel list.
type ChannelsConfig struct {
	File string `mapstructure:"file"`
}

// BrokerConfig controls forwarding of saved records to the message broker.
type BrokerConfig struct {
	Enabled   bool             `mapstructure:"enabled"`
	Driver    string           `mapstructure:"driver"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Publisher publisher.Config `mapstructure:",squash"`
}

// PubSubConfig holds the Pub/Sub topic coordinates.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"interval":        "crawler.interval",
	"use-proxies":     "crawler.use_proxies",
	"require-proxies": "crawler.require_proxies",
	"broker":          "broker.enabled",
	"channels":        "channels.file",
	"concurrency":     "crawler.concurrency",
	"metrics-addr":    "server.addr",
	"log-level":       "logging.level",
}

// Load builds a Config from defaults, an optional file, CRAWLER_* environment
// variables and any flags in flags that were set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

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
	crawl := crawler.DefaultConfig()
	v.SetDefault("crawler.interval", crawl.Interval)
	v.SetDefault("crawler.batch_size", crawl.BatchSize)
	v.SetDefault("crawler.min_batch_size", crawl.MinBatchSize)
	v.SetDefault("crawler.rate_limit_delay", crawl.RateLimitDelay)
	v.SetDefault("crawler.politeness_delay", crawl.PolitenessDelay)
	v.SetDefault("crawler.failure_delay", crawl.FailureDelay)
	v.SetDefault("crawler.max_failure_delay", crawl.MaxFailureDelay)
	v.SetDefault("crawler.recovery_delay", crawl.RecoveryDelay)
	v.SetDefault("crawler.channel_timeout", crawl.ChannelTimeout)
	v.SetDefault("crawler.concurrency", crawl.Concurrency)
	v.SetDefault("crawler.use_proxies", false)
	v.SetDefault("crawler.require_proxies", false)

	v.SetDefault("channels.file", "config/users.json")

	v.SetDefault("http.base_url", "https://eitaa.com")
	v.SetDefault("http.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.attempts", 2)
	v.SetDefault("http.transport_retries", 5)
	v.SetDefault("http.transport_backoff", 2*time.Second)
	v.SetDefault("http.retry_statuses", collyfetcher.DefaultRetryStatuses)
	v.SetDefault("http.rate_limit_wait", 20*time.Second)
	v.SetDefault("http.rate_limit_max_wait", time.Minute)
	v.SetDefault("http.connect_backoff", 5*time.Second)
	v.SetDefault("http.max_rps", 0)
	v.SetDefault("http.connectivity_url", "https://www.google.com")

	sources := make([]map[string]any, 0, len(proxy.DefaultSources))
	for _, s := range proxy.DefaultSources {
		sources = append(sources, map[string]any{"url": s.URL, "format": s.Format})
	}
	v.SetDefault("proxy.sources", sources)
	v.SetDefault("proxy.refresh_interval", time.Hour)
	v.SetDefault("proxy.liveness_url", "https://www.google.com")
	v.SetDefault("proxy.ip_echo_url", "http://httpbin.org/ip")
	v.SetDefault("proxy.source_timeout", 30*time.Second)
	v.SetDefault("proxy.validate_timeout", 30*time.Second)
	v.SetDefault("proxy.validate_attempts", 2)
	v.SetDefault("proxy.retry_pause", 2*time.Second)
	v.SetDefault("proxy.concurrency", 16)

	v.SetDefault("store.messages_dir", "output/messages")
	v.SetDefault("store.bios_file", "output/bios.json")
	v.SetDefault("store.bios_dir", "output/bios")
	v.SetDefault("store.retention", 0)

	v.SetDefault("checkpoint.backend", checkpoint.BackendFile)
	v.SetDefault("checkpoint.path", "last_crawled_times.json")
	v.SetDefault("checkpoint.postgres.dsn", "")
	v.SetDefault("checkpoint.postgres.table", "channel_checkpoints")
	v.SetDefault("checkpoint.postgres.max_conns", 4)

	v.SetDefault("broker.enabled", false)
	v.SetDefault("broker.driver", DriverPubSub)
	v.SetDefault("broker.pubsub.project_id", "")
	v.SetDefault("broker.pubsub.topic_name", "Eitaa")
	v.SetDefault("broker.flush_timeout", 10*time.Second)
	v.SetDefault("broker.chunk_size", 1000)
	v.SetDefault("broker.reconnect_interval", 5*time.Minute)

	v.SetDefault("server.addr", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Crawler.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Channels.File) == "" {
		return fmt.Errorf("channels.file must be set")
	}
	if c.HTTP.Attempts <= 0 {
		return fmt.Errorf("http.attempts must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.TransportRetries < 0 {
		return fmt.Errorf("http.transport_retries must be >= 0")
	}
	if c.Store.MessagesDir == "" || c.Store.BiosFile == "" || c.Store.BiosDir == "" {
		return fmt.Errorf("store.messages_dir, store.bios_file and store.bios_dir must be set")
	}
	switch c.Checkpoint.Backend {
	case checkpoint.BackendFile:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path must be set for the file backend")
		}
	case checkpoint.BackendPostgres:
		if c.Checkpoint.Postgres.DSN == "" {
			return fmt.Errorf("checkpoint.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend %q is not supported", c.Checkpoint.Backend)
	}
	if c.Broker.Enabled {
		switch c.Broker.Driver {
		case DriverMemory:
		case DriverPubSub:
			if c.Broker.PubSub.ProjectID == "" || c.Broker.PubSub.TopicName == "" {
				return fmt.Errorf("broker.pubsub.project_id and broker.pubsub.topic_name must be set")
			}
		default:
			return fmt.Errorf("broker.driver %q is not supported", c.Broker.Driver)
		}
	}
	return nil
}

// searchPaths are tried in order by Discover.
var searchPaths = []string{".", "/etc/channelcrawler", "$HOME/.channelcrawler"}

// Discover returns the first config.yaml found on the search paths, or ""
// when there is none.
func Discover() string {
	for _, dir := range searchPaths {
		path := filepath.Join(os.ExpandEnv(dir), "config.yaml")
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
