// Package proxy maintains a validated pool of public HTTP proxies.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/channelcrawler/internal/clock"
	"github.com/JakeFAU/channelcrawler/internal/metrics"
)

// ErrNoProxy is returned when the pool is empty after a refresh.
var ErrNoProxy = errors.New("no proxy available")

// Config controls proxy discovery and validation.
type Config struct {
	Sources          []SourceConfig `mapstructure:"sources"`
	RefreshInterval  time.Duration  `mapstructure:"refresh_interval"`
	LivenessURL      string         `mapstructure:"liveness_url"`
	IPEchoURL        string         `mapstructure:"ip_echo_url"`
	SourceTimeout    time.Duration  `mapstructure:"source_timeout"`
	ValidateTimeout  time.Duration  `mapstructure:"validate_timeout"`
	ValidateAttempts int            `mapstructure:"validate_attempts"`
	RetryPause       time.Duration  `mapstructure:"retry_pause"`
	Concurrency      int            `mapstructure:"concurrency"`
}

// Health summarizes a proxy check.
type Health struct {
	PoolSize    int
	SampleProxy string
	SampleIP    string
}

// Pool hands out validated proxies. The member list is swapped atomically
// on refresh so readers never see a partial pool.
type Pool struct {
	cfg       Config
	sources   []Source
	validator *Validator
	clock     clock.Clock
	logger    *zap.Logger

	members atomic.Pointer[[]string]

	refreshMu   sync.Mutex
	lastRefresh time.Time
	refreshed   bool
}

// New builds a Pool from cfg. Unknown source formats are an error.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) (*Pool, error) {
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("proxy")

	client := &http.Client{Timeout: cfg.SourceTimeout}
	sources := make([]Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := NewSource(sc, client)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	p := &Pool{
		cfg:     cfg,
		sources: sources,
		validator: &Validator{
			livenessURL: cfg.LivenessURL,
			ipEchoURL:   cfg.IPEchoURL,
			timeout:     cfg.ValidateTimeout,
			attempts:    cfg.ValidateAttempts,
			pause:       cfg.RetryPause,
			clock:       clk,
			logger:      logger,
		},
		clock:  clk,
		logger: logger,
	}
	p.members.Store(&[]string{})
	return p, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Sources == nil {
		cfg.Sources = DefaultSources
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.LivenessURL == "" {
		cfg.LivenessURL = "https://www.google.com"
	}
	if cfg.IPEchoURL == "" {
		cfg.IPEchoURL = "http://httpbin.org/ip"
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 30 * time.Second
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = 30 * time.Second
	}
	if cfg.ValidateAttempts <= 0 {
		cfg.ValidateAttempts = 2
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = 2 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	return cfg
}

// Size returns the current pool size.
func (p *Pool) Size() int {
	return len(*p.members.Load())
}

// Refresh rebuilds the pool when it is empty, stale or force is set.
func (p *Pool) Refresh(ctx context.Context, force bool) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	now := p.clock.Now()
	if !force && p.refreshed && now.Sub(p.lastRefresh) < p.cfg.RefreshInterval && p.Size() > 0 {
		return nil
	}

	p.logger.Info("refreshing proxy pool")
	candidates := p.candidates(ctx)

	valid, err := p.validate(ctx, candidates)
	if err != nil {
		return err
	}

	p.members.Store(&valid)
	p.lastRefresh = now
	p.refreshed = true
	metrics.SetProxyPoolSize(len(valid))
	p.logger.Info("proxy pool updated",
		zap.Int("candidates", len(candidates)),
		zap.Int("size", len(valid)),
	)
	return nil
}

// RandomProxy refreshes if needed and returns a uniformly chosen member.
func (p *Pool) RandomProxy(ctx context.Context) (string, error) {
	if err := p.Refresh(ctx, false); err != nil {
		return "", err
	}
	proxy, ok := p.pick()
	if !ok {
		p.logger.Warn("no proxies available")
		return "", ErrNoProxy
	}
	return proxy, nil
}

func (p *Pool) pick() (string, bool) {
	members := *p.members.Load()
	if len(members) == 0 {
		return "", false
	}
	return members[rand.IntN(len(members))], true
}

// CheckProxy forces a refresh and probes one member through the IP-echo
// service.
func (p *Pool) CheckProxy(ctx context.Context) (Health, error) {
	if err := p.Refresh(ctx, true); err != nil {
		return Health{}, err
	}
	proxy, ok := p.pick()
	if !ok {
		return Health{}, ErrNoProxy
	}
	health := Health{PoolSize: p.Size(), SampleProxy: proxy}
	ip, err := p.validator.EchoIP(ctx, proxy)
	if err != nil {
		return health, fmt.Errorf("proxy check via %s: %w", proxy, err)
	}
	health.SampleIP = ip
	return health, nil
}

func (p *Pool) candidates(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, src := range p.sources {
		proxies, err := src.Fetch(ctx)
		if err != nil {
			p.logger.Warn("proxy source failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		p.logger.Info("fetched proxies", zap.String("source", src.Name()), zap.Int("count", len(proxies)))
		for _, proxy := range proxies {
			if _, dup := seen[proxy]; dup {
				continue
			}
			seen[proxy] = struct{}{}
			out = append(out, proxy)
		}
	}
	return out
}

func (p *Pool) validate(ctx context.Context, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return []string{}, ctx.Err()
	}
	localIP, err := p.validator.LocalIP(ctx)
	if err != nil {
		p.logger.Warn("failed to determine local ip", zap.Error(err))
	}

	keep := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, candidate := range candidates {
		g.Go(func() error {
			keep[i] = p.validator.Validate(gctx, candidate, localIP)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	valid := make([]string, 0, len(candidates))
	for i, ok := range keep {
		if ok {
			valid = append(valid, candidates[i])
		}
	}
	return valid, nil
}
