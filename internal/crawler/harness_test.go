package crawler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channelcrawler/internal/checkpoint"
	"github.com/JakeFAU/channelcrawler/internal/clock/fake"
	"github.com/JakeFAU/channelcrawler/internal/extract"
	collyfetcher "github.com/JakeFAU/channelcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/channelcrawler/internal/id/uuid"
	"github.com/JakeFAU/channelcrawler/internal/storage"
	"github.com/JakeFAU/channelcrawler/internal/storage/local"
	"github.com/JakeFAU/channelcrawler/internal/store"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	clock    *fake.Clock
	fetcher  *MockFetcher
	messages *store.Messages
	bios     *store.Bios
	tracker  *checkpoint.Tracker
	deps     Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	clk := fake.New(t0.Add(24 * time.Hour))
	writer := local.New()
	hybrid := storage.NewHybrid(writer, nil, false, nil)
	storeCfg := store.Config{
		MessagesDir: filepath.Join(dir, "messages"),
		BiosFile:    filepath.Join(dir, "bios.json"),
		BiosDir:     filepath.Join(dir, "bios"),
		Retention:   -1,
	}
	h := &harness{
		clock:    clk,
		fetcher:  new(MockFetcher),
		messages: store.NewMessages(storeCfg, hybrid, writer, clk, nil),
		bios:     store.NewBios(storeCfg, hybrid, writer, clk, nil),
		tracker: checkpoint.NewTracker(context.Background(),
			checkpoint.NewFile(filepath.Join(dir, "checkpoints.json"), writer, nil), nil),
	}
	h.deps = Deps{
		Fetcher:     h.fetcher,
		Extractor:   extract.New("https://eitaa.com", clk, nil),
		Messages:    h.messages,
		Bios:        h.bios,
		Checkpoints: h.tracker,
		IDs:         uuid.New(),
		Clock:       clk,
	}
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChannelTimeout = 0
	return cfg
}

type fragment struct {
	id int64 // 0 renders a fragment without any id
	at time.Time
}

func msg(id int64, at time.Time) fragment {
	return fragment{id: id, at: at}
}

// page renders a channel page the way the site does and selects its
// message fragments.
func page(t *testing.T, title string, frags ...fragment) *collyfetcher.Page {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<html><head><title>` + title + `</title></head><body>`)
	b.WriteString(`<div class="etme_channel_info"><div class="etme_channel_info_header">`)
	b.WriteString(`<div class="etme_channel_info_header_title"><span>` + title + `</span></div></div></div>`)
	for _, f := range frags {
		b.WriteString(`<div class="etme_widget_message_wrap js-widget_message_wrap">`)
		if f.id == 0 {
			b.WriteString(`<div class="etme_widget_message"><div class="etme_widget_message_text">orphan</div></div></div>`)
			continue
		}
		fmt.Fprintf(&b, `<div class="etme_widget_message" id="%d"><div class="etme_widget_message_text">post</div>`, f.id)
		fmt.Fprintf(&b, `<span class="etme_widget_message_date"><time datetime="%s">t</time></span></div></div>`,
			f.at.UTC().Format(time.RFC3339))
	}
	b.WriteString(`</body></html>`)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(b.String()))
	require.NoError(t, err)
	var fragments []*goquery.Selection
	doc.Find(".etme_widget_message_wrap.js-widget_message_wrap").Each(func(_ int, s *goquery.Selection) {
		fragments = append(fragments, s)
	})
	return &collyfetcher.Page{StatusCode: 200, Document: doc, Fragments: fragments}
}

// cancelingClock cancels the run on the n-th wait of at least MinInterval
// and records those long waits.
type cancelingClock struct {
	*fake.Clock
	mu     sync.Mutex
	cancel context.CancelFunc
	after  int
	long   []time.Duration
}

func (c *cancelingClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := c.Clock.Sleep(ctx, d); err != nil {
		return err
	}
	if d < MinInterval {
		return nil
	}
	c.mu.Lock()
	c.long = append(c.long, d)
	done := len(c.long) >= c.after
	c.mu.Unlock()
	if done {
		c.cancel()
		return ctx.Err()
	}
	return nil
}

func (c *cancelingClock) longWaits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.long...)
}
