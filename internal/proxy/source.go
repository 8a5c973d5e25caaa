package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// Source formats.
const (
	FormatText    = "text"
	FormatGeonode = "geonode"
)

// SourceConfig names a public proxy list and how to read it.
type SourceConfig struct {
	URL    string `mapstructure:"url"`
	Format string `mapstructure:"format"`
}

// DefaultSources are the public lists consulted when none are configured.
var DefaultSources = []SourceConfig{
	{URL: "https://api.proxyscrape.com/v2/?request=displayproxies&protocol=http&timeout=10000&country=all&ssl=all&anonymity=all", Format: FormatText},
	{URL: "https://proxylist.geonode.com/api/proxy-list?limit=50&page=1&sort_by=lastChecked&sort_type=desc&protocols=http", Format: FormatGeonode},
	{URL: "https://www.proxy-list.download/api/v1/get?type=http", Format: FormatText},
	{URL: "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt", Format: FormatText},
	{URL: "https://openproxylist.xyz/http.txt", Format: FormatText},
}

var hostPort = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+:\d+$`)

// Source yields candidate proxies as http://ip:port URLs.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]string, error)
}

// NewSource builds the reader for cfg.Format.
func NewSource(cfg SourceConfig, client *http.Client) (Source, error) {
	if client == nil {
		client = http.DefaultClient
	}
	switch cfg.Format {
	case FormatText, "":
		return &textSource{url: cfg.URL, client: client}, nil
	case FormatGeonode:
		return &geonodeSource{url: cfg.URL, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown proxy source format %q", cfg.Format)
	}
}

type textSource struct {
	url    string
	client *http.Client
}

func (s *textSource) Name() string { return s.url }

// Fetch keeps lines that look like ip:port.
func (s *textSource) Fetch(ctx context.Context) ([]string, error) {
	body, err := get(ctx, s.client, s.url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if hostPort.MatchString(line) {
			out = append(out, "http://"+line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.url, err)
	}
	return out, nil
}

type geonodeSource struct {
	url    string
	client *http.Client
}

type geonodeResponse struct {
	Data []struct {
		IP   string `json:"ip"`
		Port string `json:"port"`
	} `json:"data"`
}

func (s *geonodeSource) Name() string { return s.url }

// Fetch reads the data array of a geonode listing.
func (s *geonodeSource) Fetch(ctx context.Context) ([]string, error) {
	body, err := get(ctx, s.client, s.url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp geonodeResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.url, err)
	}
	out := make([]string, 0, len(resp.Data))
	for _, p := range resp.Data {
		if p.IP == "" || p.Port == "" {
			continue
		}
		out = append(out, "http://"+p.IP+":"+p.Port)
	}
	return out, nil
}

func get(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
