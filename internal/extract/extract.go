// Package extract turns channel page fragments into posts and bios.
//
// Every field is read by an ordered list of strategies; the first strategy
// that yields a value wins.
package extract

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/channel"
	"github.com/JakeFAU/channelcrawler/internal/clock"
)

// ErrNoID is returned when no strategy finds a numeric message id.
var ErrNoID = errors.New("extract: message id not found")

// ErrNilSelection is returned for empty input.
var ErrNilSelection = errors.New("extract: empty selection")

const noText = "No text"

var digits = regexp.MustCompile(`\d+`)

// Extractor reads posts and bios from goquery selections.
type Extractor struct {
	baseURL string
	clock   clock.Clock
	loc     *time.Location
	logger  *zap.Logger
}

// New creates an Extractor. baseURL prefixes post URLs.
func New(baseURL string, clk clock.Clock, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := time.LoadLocation("Asia/Tehran")
	if err != nil {
		loc = time.FixedZone("IRST", 3*3600+1800)
	}
	return &Extractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   clk,
		loc:     loc,
		logger:  logger.Named("extract"),
	}
}

// Post extracts one post from a message fragment.
func (e *Extractor) Post(frag *goquery.Selection, channelID string) (channel.Post, error) {
	if frag == nil || frag.Length() == 0 {
		return channel.Post{}, ErrNilSelection
	}

	rawID, ok := firstString(frag, channelID, idStrategies)
	if !ok {
		return channel.Post{}, ErrNoID
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return channel.Post{}, fmt.Errorf("%w: invalid id %q", ErrNoID, rawID)
	}

	ctx := frag.Find(".etme_widget_message").First()
	if ctx.Length() == 0 {
		ctx = frag
	}

	now := e.clock.Now().In(e.loc)
	post := channel.Post{
		Kind:             channel.KindMessage,
		ID:               id,
		ChannelID:        channelID,
		URL:              fmt.Sprintf("%s/%s/%d", e.baseURL, channelID, id),
		Text:             e.text(ctx),
		ViewCount:        viewCount(ctx),
		CrawledAt:        now,
		ExtractionErrors: []string{},
	}

	posted, ok := e.postedTime(ctx)
	if !ok {
		e.logger.Debug("no timestamp, using crawl time",
			zap.String("channel", channelID),
			zap.Int64("id", id),
		)
		posted = now
		post.ExtractionErrors = append(post.ExtractionErrors, "posted_time not found, crawl time used")
	}
	post.PostedAt = posted
	return post, nil
}

// Bio extracts channel metadata from the page header. Missing fields keep
// their defaults; it only fails on empty input.
func (e *Extractor) Bio(doc *goquery.Selection, channelID string) (channel.Bio, error) {
	bio := channel.Bio{
		Kind:             channel.KindChannel,
		ChannelID:        channelID,
		Username:         "@" + channelID,
		FollowerCount:    "0",
		ImageCount:       "0",
		VideoCount:       "0",
		FileCount:        "0",
		CrawledAt:        e.clock.Now().In(e.loc),
		ExtractionErrors: []string{},
	}
	if doc == nil || doc.Length() == 0 {
		bio.ExtractionErrors = append(bio.ExtractionErrors, "Failed to extract bio data")
		return bio, ErrNilSelection
	}

	if title, ok := firstText(doc, titleSelectors); ok {
		bio.Title = title
	}
	if username, ok := firstText(doc, usernameSelectors); ok {
		bio.Username = username
	}
	if desc, ok := firstText(doc, descriptionSelectors); ok {
		bio.Description = desc
	}
	counters := readCounters(doc)
	bio.FollowerCount = counters[followers]
	bio.ImageCount = counters[images]
	bio.VideoCount = counters[videos]
	bio.FileCount = counters[files]
	return bio, nil
}

func (e *Extractor) text(ctx *goquery.Selection) string {
	for _, sel := range textSelectors {
		node := ctx
		if sel != "" {
			node = ctx.Find(sel).First()
		}
		if node.Length() == 0 {
			continue
		}
		if text := cleanText(node.Text()); text != "" {
			return text
		}
	}
	return noText
}

func (e *Extractor) postedTime(ctx *goquery.Selection) (time.Time, bool) {
	for _, s := range timeStrategies {
		node := ctx.Find(s.selector).First()
		value, ok := node.Attr(s.attr)
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			continue
		}
		for _, layout := range s.layouts {
			loc := time.UTC
			if layout.local {
				loc = e.loc
			}
			if ts, err := time.ParseInLocation(layout.layout, value, loc); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func viewCount(ctx *goquery.Selection) int64 {
	for _, sel := range viewSelectors {
		node := ctx.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		var count int64
		for _, attr := range []string{"data-count", "content", "value"} {
			if v, ok := node.Attr(attr); ok {
				if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
					count = n
					break
				}
			}
		}
		if count == 0 {
			count = parseCount(node.Text())
		}
		if count > 0 {
			return count
		}
	}
	return 0
}

// parseCount reads display counts such as "1.2K" or "3M"; otherwise the
// first run of digits.
func parseCount(text string) int64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	upper := strings.ToUpper(text)
	for suffix, mult := range map[string]float64{"K": 1e3, "M": 1e6} {
		if num, ok := strings.CutSuffix(upper, suffix); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(num), 64); err == nil {
				return int64(math.Round(f * mult))
			}
		}
	}
	if m := digits.FindString(text); m != "" {
		n, _ := strconv.ParseInt(m, 10, 64)
		return n
	}
	return 0
}

func firstString(s *goquery.Selection, channelID string, strategies []idStrategy) (string, bool) {
	for _, strategy := range strategies {
		if v, ok := strategy(s, channelID); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func firstText(doc *goquery.Selection, selectors []string) (string, bool) {
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if text := cleanText(node.Text()); text != "" {
			return text, true
		}
	}
	return "", false
}

// cleanText trims every line and drops blank ones.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
