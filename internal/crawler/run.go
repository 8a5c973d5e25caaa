package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Startup failures.
var (
	ErrNoChannels          = errors.New("no channels configured")
	ErrProxiesUnavailable  = errors.New("required proxies unavailable")
	errProxyCheckerMissing = errors.New("no proxy pool configured")
)

// Run validates the setup and then crawls until ctx is done. A failed or
// panicking cycle is retried after RecoveryDelay. The returned error is
// either a startup failure or ctx.Err().
func (c *Crawler) Run(ctx context.Context, channels []string) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if err := c.Preflight(ctx, channels); err != nil {
		return err
	}

	c.log.Info("starting crawl loop",
		zap.Int("channels", len(channels)),
		zap.Duration("interval", c.cfg.Interval),
		zap.Bool("use_proxies", c.cfg.UseProxies),
		zap.Bool("require_proxies", c.cfg.RequireProxies),
	)
	for cycle := 1; ; cycle++ {
		_, err := c.safeCycle(ctx, channels)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := c.cfg.Interval
		if err != nil {
			wait = c.cfg.RecoveryDelay
			c.log.Error("crawl cycle failed", zap.Int("cycle", cycle), zap.Duration("retry_in", wait), zap.Error(err))
		} else {
			c.log.Info("crawl cycle finished",
				zap.Int("cycle", cycle),
				zap.Time("next_run", c.deps.Clock.Now().Add(wait)),
			)
		}
		if err := c.deps.Clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Crawler) safeCycle(ctx context.Context, channels []string) (report CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl cycle panicked: %v", r)
		}
	}()
	return c.RunCycle(ctx, channels)
}

// Preflight runs the startup checks. Connectivity problems are warnings;
// an empty channel list is fatal, as is an unhealthy proxy pool when proxies
// are required.
func (c *Crawler) Preflight(ctx context.Context, channels []string) error {
	if len(channels) == 0 {
		return ErrNoChannels
	}
	blank := 0
	for _, ch := range channels {
		if strings.TrimSpace(ch) == "" {
			blank++
		}
	}
	if blank > 0 {
		c.log.Warn("channel list contains blank entries", zap.Int("blank", blank))
	}

	if c.deps.Connectivity != nil {
		if err := c.deps.Connectivity.CheckConnectivity(ctx); err != nil {
			c.log.Warn("connectivity check failed", zap.Error(err))
		} else {
			c.log.Info("connectivity check passed")
		}
	}

	if !c.cfg.UseProxies && !c.cfg.RequireProxies {
		return nil
	}
	err := errProxyCheckerMissing
	if c.deps.Proxies != nil {
		h, checkErr := c.deps.Proxies.CheckProxy(ctx)
		err = checkErr
		if err == nil {
			c.log.Info("proxy check passed",
				zap.Int("pool_size", h.PoolSize),
				zap.String("sample_ip", h.SampleIP),
			)
			return nil
		}
	}
	if c.cfg.RequireProxies {
		return fmt.Errorf("%w: %w", ErrProxiesUnavailable, err)
	}
	c.log.Warn("proxy check failed, proceeding direct", zap.Error(err))
	return nil
}
