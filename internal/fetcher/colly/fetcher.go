// Package collyfetcher fetches public channel pages with gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/backoff"
	"github.com/JakeFAU/channelcrawler/internal/clock"
	"github.com/JakeFAU/channelcrawler/internal/metrics"
	"github.com/JakeFAU/channelcrawler/internal/policy/ratelimit"
)

// DefaultUserAgent is sent when none is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Fetch failures. Callers classify with errors.Is.
var (
	ErrNotFound         = errors.New("channel not found")
	ErrForbidden        = errors.New("access forbidden")
	ErrRateLimited      = errors.New("rate limited")
	ErrServerError      = errors.New("server error")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrInvalidPage      = errors.New("invalid or changed page structure")
	ErrConnection       = errors.New("connection error")
	ErrNoProxy          = errors.New("no proxy available")
	ErrParse            = errors.New("parse error")
)

// Config controls fetch behavior.
type Config struct {
	BaseURL          string        `mapstructure:"base_url"`
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Attempts         int           `mapstructure:"attempts"`
	TransportRetries int           `mapstructure:"transport_retries"`
	TransportBackoff time.Duration `mapstructure:"transport_backoff"`
	RetryStatuses    []int         `mapstructure:"retry_statuses"`
	RateLimitWait    time.Duration `mapstructure:"rate_limit_wait"`
	RateLimitMaxWait time.Duration `mapstructure:"rate_limit_max_wait"`
	ConnectBackoff   time.Duration `mapstructure:"connect_backoff"`
	MaxRPS           float64       `mapstructure:"max_rps"`
	ConnectivityURL  string        `mapstructure:"connectivity_url"`
	RequireProxy     bool          `mapstructure:"-"`
}

// ProxySource hands out a proxy URL per attempt.
type ProxySource interface {
	RandomProxy(ctx context.Context) (string, error)
}

// Page is a fetched and structurally checked channel page.
type Page struct {
	URL        string
	StatusCode int
	// Proxy is empty for direct requests.
	Proxy     string
	Document  *goquery.Document
	Fragments []*goquery.Selection
}

// Fetcher retrieves channel pages through a shared colly collector.
type Fetcher struct {
	cfg       Config
	collector *colly.Collector
	proxies   ProxySource
	limiter   *ratelimit.Limiter
	clock     clock.Clock
	logger    *zap.Logger
}

type result struct {
	status int
	body   []byte
	url    string
	err    error
}

// New builds a Fetcher. proxies may be nil when proxies are disabled.
func New(cfg Config, proxies ProxySource, clk clock.Clock, logger *zap.Logger) *Fetcher {
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("fetcher")

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.UserAgent = cfg.UserAgent

	// Clones share the backend client, so the transport is set once here. The
	// timeout applies per try inside RetryTransport; a client-wide timeout
	// would also count the backoff waits between tries.
	c.WithTransport(NewRetryTransport(newHTTPTransport(), RetryConfig{
		Retries:    cfg.TransportRetries,
		Backoff:    cfg.TransportBackoff,
		Statuses:   cfg.RetryStatuses,
		TryTimeout: cfg.Timeout,
	}, clk, logger))
	c.SetRequestTimeout(0)

	var limiter *ratelimit.Limiter
	if cfg.MaxRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.MaxRPS, DefaultBurst: 1})
	}

	return &Fetcher{
		cfg:       cfg,
		collector: c,
		proxies:   proxies,
		limiter:   limiter,
		clock:     clk,
		logger:    logger,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://eitaa.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = 20 * time.Second
	}
	if cfg.RateLimitMaxWait <= 0 {
		cfg.RateLimitMaxWait = 60 * time.Second
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = 5 * time.Second
	}
	if cfg.RetryStatuses == nil {
		cfg.RetryStatuses = DefaultRetryStatuses
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.ConnectivityURL == "" {
		cfg.ConnectivityURL = "https://www.google.com"
	}
	return cfg
}

// FetchChannelPage downloads and checks the page of channelID.
func (f *Fetcher) FetchChannelPage(ctx context.Context, channelID string, useProxy bool) (*Page, error) {
	url := f.cfg.BaseURL + "/" + channelID
	log := f.logger.With(zap.String("channel", channelID))

	rateLimit := backoff.Policy{Base: f.cfg.RateLimitWait, Multiplier: 2, Cap: f.cfg.RateLimitMaxWait, MaxAttempts: f.cfg.Attempts}
	connect := backoff.Policy{Base: f.cfg.ConnectBackoff, Multiplier: 2, MaxAttempts: f.cfg.Attempts}

	var lastErr error
	for attempt := 0; attempt < connect.Attempts(); attempt++ {
		more := connect.HasNext(attempt)

		proxy, err := f.resolveProxy(ctx, useProxy)
		if err != nil {
			metrics.ObserveFetch("no_proxy")
			return nil, err
		}

		res := f.visit(ctx, url, proxy)
		if res.err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch %s: %w", channelID, ctx.Err())
			}
			metrics.ObserveFetch("connection_error")
			lastErr = fmt.Errorf("%w: %s via %s: %w", ErrConnection, channelID, proxyLabel(proxy), res.err)
			log.Warn("connection error", zap.String("proxy", proxyLabel(proxy)), zap.Int("attempt", attempt+1), zap.Error(res.err))
			if more {
				if err := f.clock.Sleep(ctx, connect.Delay(attempt)); err != nil {
					return nil, fmt.Errorf("fetch %s: %w", channelID, err)
				}
			}
			continue
		}

		switch {
		case res.status == http.StatusNotFound:
			metrics.ObserveFetch("not_found")
			return nil, fmt.Errorf("%w (404): %s", ErrNotFound, channelID)
		case res.status == http.StatusForbidden:
			metrics.ObserveFetch("forbidden")
			return nil, fmt.Errorf("%w (403): %s", ErrForbidden, channelID)
		case res.status == http.StatusTooManyRequests:
			metrics.ObserveFetch("rate_limited")
			lastErr = fmt.Errorf("%w (429): %s", ErrRateLimited, channelID)
			if more {
				wait := rateLimit.Delay(attempt)
				log.Warn("rate limited, waiting before retry", zap.Duration("wait", wait))
				metrics.ObserveRateLimitDelay("http_429", wait)
				if err := f.clock.Sleep(ctx, wait); err != nil {
					return nil, fmt.Errorf("fetch %s: %w", channelID, err)
				}
			}
			continue
		case res.status >= 500:
			metrics.ObserveFetch("server_error")
			return nil, fmt.Errorf("%w (%d): %s", ErrServerError, res.status, channelID)
		case res.status < 200 || res.status > 299:
			metrics.ObserveFetch("unexpected_status")
			lastErr = fmt.Errorf("%w (%d): %s", ErrUnexpectedStatus, res.status, channelID)
			log.Warn("unexpected status", zap.Int("status", res.status), zap.String("proxy", proxyLabel(proxy)), zap.Int("attempt", attempt+1))
			continue
		}

		page, err := f.parse(res, proxy, channelID)
		if err != nil {
			return nil, err
		}
		metrics.ObserveFetch("ok")
		log.Info("fetched channel page",
			zap.Int("fragments", len(page.Fragments)),
			zap.String("proxy", proxyLabel(proxy)),
		)
		return page, nil
	}
	return nil, lastErr
}

// CheckConnectivity issues one GET against the connectivity URL.
func (f *Fetcher) CheckConnectivity(ctx context.Context) error {
	res := f.visit(ctx, f.cfg.ConnectivityURL, "")
	if res.err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, res.err)
	}
	if res.status >= 500 {
		return fmt.Errorf("%w (%d): connectivity check", ErrServerError, res.status)
	}
	return nil
}

func (f *Fetcher) resolveProxy(ctx context.Context, useProxy bool) (string, error) {
	if !useProxy || f.proxies == nil {
		if f.cfg.RequireProxy {
			return "", ErrNoProxy
		}
		return "", nil
	}
	proxy, err := f.proxies.RandomProxy(ctx)
	if err != nil || proxy == "" {
		if f.cfg.RequireProxy {
			return "", fmt.Errorf("%w: %w", ErrNoProxy, errOrEmpty(err))
		}
		f.logger.Debug("no proxy available, going direct", zap.Error(err))
		return "", nil
	}
	return proxy, nil
}

func (f *Fetcher) visit(ctx context.Context, url, proxy string) result {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return result{err: err}
		}
	}

	var res result
	collector := f.collector.Clone()
	collector.Context = withProxy(ctx, proxy)
	collector.OnRequest(func(r *colly.Request) {
		for key, value := range browserHeaders {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
		res.url = r.Request.URL.String()
	})
	collector.OnError(func(r *colly.Response, err error) {
		res.err = err
		if r != nil {
			res.status = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return result{err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if err != nil && res.err == nil {
			res.err = fmt.Errorf("colly visit failed: %w", err)
		}
		if res.err == nil && res.status == 0 {
			res.err = errors.New("no response received")
		}
		return res
	}
}

func (f *Fetcher) parse(res result, proxy, channelID string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.body))
	if err != nil {
		metrics.ObserveFetch("parse_error")
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, channelID, err)
	}
	if !looksLikeChannelPage(doc, len(res.body)) {
		metrics.ObserveFetch("invalid_page")
		f.logger.Warn("unexpected page structure",
			zap.String("channel", channelID),
			zap.String("sample", sample(res.body, 200)),
		)
		return nil, fmt.Errorf("%w: %s", ErrInvalidPage, channelID)
	}
	frags, selector := messageFragments(doc)
	if selector != primarySelector && len(frags) > 0 {
		f.logger.Info("messages found with alternative selector",
			zap.String("channel", channelID),
			zap.String("selector", selector),
			zap.Int("count", len(frags)),
		)
	}
	return &Page{
		URL:        res.url,
		StatusCode: res.status,
		Proxy:      proxy,
		Document:   doc,
		Fragments:  frags,
	}, nil
}

var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "fa-IR,fa;q=0.9,en-US;q=0.8,en;q=0.7",
	"Cache-Control":             "no-cache",
	"Pragma":                    "no-cache",
	"Upgrade-Insecure-Requests": "1",
}

func proxyLabel(proxy string) string {
	if proxy == "" {
		return "direct"
	}
	return proxy
}

func errOrEmpty(err error) error {
	if err == nil {
		return errors.New("empty pool")
	}
	return err
}

func sample(body []byte, n int) string {
	if len(body) > n {
		return string(body[:n]) + "..."
	}
	return string(body)
}
