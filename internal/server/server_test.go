package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/metrics"
)

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, New("", nil, nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ready  ReadinessFunc
		status int
		body   string
	}{
		{name: "no check", ready: nil, status: http.StatusOK, body: `{"status":"ready"}`},
		{name: "ready", ready: func(context.Context) error { return nil }, status: http.StatusOK, body: `{"status":"ready"}`},
		{
			name:   "not ready",
			ready:  func(context.Context) error { return errors.New("no proxies") },
			status: http.StatusServiceUnavailable,
			body:   `{"status":"unavailable","error":"no proxies"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, New("", tt.ready, zap.NewNop()), "/readyz")
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestServer_MetricsExposesCollectors(t *testing.T) {
	t.Parallel()

	metrics.ObserveChannel(true)
	s := New("", nil, nil)
	serve(t, s, "/healthz")

	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "channelcrawler_channels_total")
	assert.Contains(t, body, `channelcrawler_http_requests_total{code="200",method="GET",route="/healthz"}`)
}

func TestServer_UnknownRoute(t *testing.T) {
	t.Parallel()

	rec := serve(t, New("", nil, nil), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	s := New("", func(context.Context) error { panic("boom") }, zap.NewNop())
	rec := serve(t, s, "/readyz")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestServer_StartAndShutdown(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1:0", nil, zap.NewNop())
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestServer_StartBindError(t *testing.T) {
	t.Parallel()

	ln := httptest.NewServer(http.NotFoundHandler())
	defer ln.Close()

	s := New(ln.Listener.Addr().String(), nil, zap.NewNop())
	require.Error(t, s.Start())
}

func TestServer_ServesOverTCP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New("", nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}
