package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Eitaa.com/news", "eitaa.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserversUpdateCollectors(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(fetchTotal.WithLabelValues("not_found"))
	ObserveFetch("not_found")
	if got := testutil.ToFloat64(fetchTotal.WithLabelValues("not_found")); got != before+1 {
		t.Errorf("expected fetch counter %f, got %f", before+1, got)
	}

	SetProxyPoolSize(7)
	if got := testutil.ToFloat64(proxyPoolSize); got != 7 {
		t.Errorf("expected pool size 7, got %f", got)
	}

	postsBefore := testutil.ToFloat64(postsIngestedTotal)
	AddPostsIngested(3)
	AddPostsIngested(0)
	if got := testutil.ToFloat64(postsIngestedTotal); got != postsBefore+3 {
		t.Errorf("expected posts counter %f, got %f", postsBefore+3, got)
	}

	deliveredBefore := testutil.ToFloat64(brokerDeliveriesTotal.WithLabelValues("success"))
	ObserveDelivery(true)
	if got := testutil.ToFloat64(brokerDeliveriesTotal.WithLabelValues("success")); got != deliveredBefore+1 {
		t.Errorf("expected delivery counter %f, got %f", deliveredBefore+1, got)
	}

	ObserveChannel(false)
	ObserveExtractionError("post")
	ObserveCycle(time.Minute)
	ObserveRateLimitDelay("fetch", 20*time.Second)
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveFetch("ok")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "channelcrawler_fetch_total") {
		t.Fatalf("expected fetch counter in exposition, got %q", string(body))
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://eitaa.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
