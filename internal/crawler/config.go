package crawler

import (
	"errors"
	"fmt"
	"time"
)

// MinInterval is the shortest accepted pause between cycles.
const MinInterval = time.Minute

// ErrIntervalTooShort is returned when Interval is below MinInterval.
var ErrIntervalTooShort = errors.New("crawl interval below minimum")

// Config holds the orchestrator settings.
type Config struct {
	Interval        time.Duration `mapstructure:"interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	MinBatchSize    int           `mapstructure:"min_batch_size"`
	RateLimitDelay  time.Duration `mapstructure:"rate_limit_delay"`
	PolitenessDelay time.Duration `mapstructure:"politeness_delay"`
	FailureDelay    time.Duration `mapstructure:"failure_delay"`
	MaxFailureDelay time.Duration `mapstructure:"max_failure_delay"`
	RecoveryDelay   time.Duration `mapstructure:"recovery_delay"`
	ChannelTimeout  time.Duration `mapstructure:"channel_timeout"`
	Concurrency     int           `mapstructure:"concurrency"`
	UseProxies      bool          `mapstructure:"use_proxies"`
	RequireProxies  bool          `mapstructure:"require_proxies"`
}

// DefaultConfig returns the stock crawl settings.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Minute,
		BatchSize:       10,
		MinBatchSize:    3,
		RateLimitDelay:  30 * time.Second,
		PolitenessDelay: time.Second,
		FailureDelay:    5 * time.Second,
		MaxFailureDelay: time.Minute,
		RecoveryDelay:   5 * time.Minute,
		ChannelTimeout:  5 * time.Minute,
		Concurrency:     1,
	}
}

// Validate checks for obviously bad settings.
func (c Config) Validate() error {
	if c.Interval < MinInterval {
		return fmt.Errorf("%w: %s < %s", ErrIntervalTooShort, c.Interval, MinInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.MinBatchSize <= 0 {
		return fmt.Errorf("crawler.min_batch_size must be > 0")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.RateLimitDelay < 0 || c.PolitenessDelay < 0 || c.FailureDelay < 0 || c.MaxFailureDelay < 0 {
		return fmt.Errorf("crawler delays must be >= 0")
	}
	if c.RecoveryDelay <= 0 {
		return fmt.Errorf("crawler.recovery_delay must be > 0")
	}
	if c.ChannelTimeout < 0 {
		return fmt.Errorf("crawler.channel_timeout must be >= 0")
	}
	return nil
}
