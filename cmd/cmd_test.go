package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channelcrawler/internal/config"
	"github.com/JakeFAU/channelcrawler/internal/crawler"
	"github.com/JakeFAU/channelcrawler/internal/proxy"
)

const newsPage = `<html><head><title>News</title></head><body>
<div class="etme_channel_info"><div class="etme_channel_info_header">
<div class="etme_channel_info_header_title"><span>News</span></div></div></div>
<div class="etme_widget_message_wrap js-widget_message_wrap"><div class="etme_widget_message" id="7">
<div class="etme_widget_message_text">hello</div>
<span class="etme_widget_message_date"><time datetime="2024-03-01T10:00:00Z">t</time></span></div></div>
</body></html>`

type workspace struct {
	dir      string
	config   string
	channels string
}

func newWorkspace(t *testing.T, baseURL string, extra string) workspace {
	t.Helper()
	dir := t.TempDir()
	channels := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(channels, []byte(`["news"]`), 0o600))

	body := fmt.Sprintf(`
crawler:
  politeness_delay: 0s
channels:
  file: %[1]s/users.json
http:
  base_url: %[2]s
  connectivity_url: %[2]s
store:
  messages_dir: %[1]s/messages
  bios_file: %[1]s/bios.json
  bios_dir: %[1]s/bios
checkpoint:
  path: %[1]s/checkpoints.json
logging:
  level: error
%[3]s`, dir, baseURL, extra)
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o600))
	return workspace{dir: dir, config: cfg, channels: channels}
}

func execute(ctx context.Context, args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file", ""))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestCrawl_MissingChannelFile(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t, "http://eitaa.test", "")
	_, err := execute(context.Background(), "crawl", "--config", ws.config,
		"--channels", filepath.Join(ws.dir, "absent.json"))
	require.ErrorIs(t, err, config.ErrChannelListMissing)
}

func TestCrawl_RejectsShortInterval(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t, "http://eitaa.test", "")
	_, err := execute(context.Background(), "crawl", "--config", ws.config, "--interval", "10s")
	require.ErrorIs(t, err, crawler.ErrIntervalTooShort)
}

func TestCrawl_RejectsArguments(t *testing.T) {
	t.Parallel()

	_, err := execute(context.Background(), "crawl", "news")
	require.Error(t, err)
}

func TestCrawl_RunsUntilCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/news" {
			_, _ = w.Write([]byte(newsPage))
		}
	}))
	defer srv.Close()
	ws := newWorkspace(t, srv.URL, "")
	checkpoints := filepath.Join(ws.dir, "checkpoints.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if _, err := os.Stat(checkpoints); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()

	_, err := execute(ctx, "crawl", "--config", ws.config)
	require.NoError(t, err)

	data, err := os.ReadFile(checkpoints)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"news"`)
}

func TestCheckProxies_EmptyPool(t *testing.T) {
	t.Parallel()

	list := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer list.Close()
	ws := newWorkspace(t, "http://eitaa.test", fmt.Sprintf(`proxy:
  sources:
    - url: %s
      format: text
`, list.URL))

	_, err := execute(context.Background(), "check-proxies", "--config", ws.config)
	require.ErrorIs(t, err, proxy.ErrNoProxy)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHANNELCRAWLER_TEST_TOKEN=abc\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CHANNELCRAWLER_TEST_TOKEN") })

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "abc", os.Getenv("CHANNELCRAWLER_TEST_TOKEN"))

	require.NoError(t, loadEnvFile(filepath.Join(dir, "missing.env")))
	require.NoError(t, loadEnvFile(""))
}
