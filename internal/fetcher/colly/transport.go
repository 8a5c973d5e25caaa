package collyfetcher

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/backoff"
	"github.com/JakeFAU/channelcrawler/internal/clock"
)

// DefaultRetryStatuses are retried by RetryTransport.
var DefaultRetryStatuses = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
}

type proxyKey struct{}

func withProxy(ctx context.Context, proxy string) context.Context {
	return context.WithValue(ctx, proxyKey{}, proxy)
}

// proxyFromContext routes a request through the proxy chosen for its attempt.
func proxyFromContext(req *http.Request) (*url.URL, error) {
	proxy, _ := req.Context().Value(proxyKey{}).(string)
	if proxy == "" {
		return nil, nil
	}
	return url.Parse(proxy)
}

// RetryConfig controls status-based retries. TryTimeout bounds each try,
// including reading its body, but not the waits between tries.
type RetryConfig struct {
	Retries    int
	Backoff    time.Duration
	Statuses   []int
	TryTimeout time.Duration
}

// RetryTransport retries responses with retryable statuses using exponential
// backoff. When retries run out the last response is returned as is.
type RetryTransport struct {
	base   http.RoundTripper
	cfg    RetryConfig
	policy backoff.Policy
	clock  clock.Clock
	logger *zap.Logger
}

// NewRetryTransport wraps base.
func NewRetryTransport(base http.RoundTripper, cfg RetryConfig, clk clock.Clock, logger *zap.Logger) *RetryTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryTransport{
		base:   base,
		cfg:    cfg,
		policy: backoff.Policy{Base: cfg.Backoff, Multiplier: 2, MaxAttempts: cfg.Retries + 1},
		clock:  clk,
		logger: logger,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := t.try(req)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		if !t.policy.HasNext(attempt) || !slices.Contains(t.cfg.Statuses, resp.StatusCode) {
			return resp, nil
		}
		if req.Body != nil && req.GetBody == nil {
			return resp, nil
		}

		wait := t.policy.Delay(attempt)
		t.logger.Debug("retrying request",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("wait", wait),
		)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if err := t.clock.Sleep(req.Context(), wait); err != nil {
			return nil, err //nolint:wrapcheck
		}
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err //nolint:wrapcheck
			}
			req = req.Clone(req.Context())
			req.Body = body
		}
	}
}

// try runs one round trip under TryTimeout. The deadline stays armed until
// the caller closes the response body.
func (t *RetryTransport) try(req *http.Request) (*http.Response, error) {
	if t.cfg.TryTimeout <= 0 {
		return t.base.RoundTrip(req) //nolint:wrapcheck
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.cfg.TryTimeout)
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err //nolint:wrapcheck
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: proxyFromContext,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
