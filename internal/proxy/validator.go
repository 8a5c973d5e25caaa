package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/clock"
)

var errRejected = errors.New("proxy rejected")

// Validator runs the liveness and IP-echo checks against a candidate.
type Validator struct {
	livenessURL string
	ipEchoURL   string
	timeout     time.Duration
	attempts    int
	pause       time.Duration
	clock       clock.Clock
	logger      *zap.Logger
}

type echoResponse struct {
	Origin string `json:"origin"`
}

// LocalIP asks the IP-echo service for this machine's public address.
func (v *Validator) LocalIP(ctx context.Context) (string, error) {
	client := &http.Client{Timeout: v.timeout}
	return v.echo(ctx, client)
}

// Validate reports whether proxy reaches the liveness URL and hides localIP.
// Transport errors are retried after a short pause; bad answers are final.
func (v *Validator) Validate(ctx context.Context, proxy, localIP string) bool {
	if localIP == "" {
		return false
	}
	client, closeIdle, err := v.clientFor(proxy)
	if err != nil {
		v.logger.Debug("bad proxy url", zap.String("proxy", proxy), zap.Error(err))
		return false
	}
	defer closeIdle()

	for attempt := 1; attempt <= v.attempts; attempt++ {
		origin, err := v.check(ctx, client)
		switch {
		case err == nil && origin == localIP:
			v.logger.Debug("proxy leaks local ip", zap.String("proxy", proxy), zap.Int("attempt", attempt))
			return false
		case err == nil:
			v.logger.Debug("proxy valid", zap.String("proxy", proxy), zap.String("ip", origin), zap.Int("attempt", attempt))
			return true
		case errors.Is(err, errRejected):
			v.logger.Debug("proxy check failed", zap.String("proxy", proxy), zap.Int("attempt", attempt), zap.Error(err))
			return false
		}
		v.logger.Debug("proxy test failed", zap.String("proxy", proxy), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < v.attempts {
			if v.clock.Sleep(ctx, v.pause) != nil {
				return false
			}
		}
	}
	return false
}

// EchoIP returns the address the IP-echo service sees through proxy.
func (v *Validator) EchoIP(ctx context.Context, proxy string) (string, error) {
	client, closeIdle, err := v.clientFor(proxy)
	if err != nil {
		return "", err
	}
	defer closeIdle()
	return v.echo(ctx, client)
}

func (v *Validator) check(ctx context.Context, client *http.Client) (string, error) {
	status, err := v.status(ctx, client, v.livenessURL)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: liveness status %d", errRejected, status)
	}
	return v.echo(ctx, client)
}

func (v *Validator) status(ctx context.Context, client *http.Client, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (v *Validator) echo(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.ipEchoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ip echo status %d", errRejected, resp.StatusCode)
	}
	var body echoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode ip echo: %w", errRejected, err)
	}
	if body.Origin == "" {
		return "", fmt.Errorf("%w: empty origin", errRejected)
	}
	return body.Origin, nil
}

func (v *Validator) clientFor(proxy string) (*http.Client, func(), error) {
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, nil, err
	}
	transport := &http.Transport{Proxy: http.ProxyURL(u)}
	client := &http.Client{Transport: transport, Timeout: v.timeout}
	return client, transport.CloseIdleConnections, nil
}
