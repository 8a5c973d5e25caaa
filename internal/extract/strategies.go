package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type idStrategy func(s *goquery.Selection, channelID string) (string, bool)

var idStrategies = []idStrategy{
	numericAttr("id"),
	func(s *goquery.Selection, _ string) (string, bool) {
		return numericValue(s.Find(".etme_widget_message").First().AttrOr("id", ""))
	},
	idFromDataPost,
	idFromHref,
	idFromAttributes,
}

var idAttributes = []string{"id", "data-id", "data-message-id", "data-msg-id"}

func numericAttr(attr string) idStrategy {
	return func(s *goquery.Selection, _ string) (string, bool) {
		return numericValue(s.AttrOr(attr, ""))
	}
}

func numericValue(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if _, err := strconv.ParseInt(v, 10, 64); err != nil {
		return "", false
	}
	return v, true
}

func idFromDataPost(s *goquery.Selection, _ string) (string, bool) {
	post, ok := s.Find(".etme_widget_message").First().Attr("data-post")
	if !ok {
		post, ok = s.Attr("data-post")
	}
	if !ok {
		return "", false
	}
	parts := strings.Split(post, "/")
	return numericValue(parts[len(parts)-1])
}

func idFromHref(s *goquery.Selection, channelID string) (string, bool) {
	var id string
	s.Find(fmt.Sprintf(`a[href*=%q]`, channelID)).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		parts := strings.Split(strings.TrimRight(a.AttrOr("href", ""), "/"), "/")
		if len(parts) > 1 && parts[len(parts)-2] == channelID {
			if v, ok := numericValue(parts[len(parts)-1]); ok {
				id = v
				return false
			}
		}
		return true
	})
	return id, id != ""
}

func idFromAttributes(s *goquery.Selection, _ string) (string, bool) {
	for _, attr := range idAttributes {
		if m := digits.FindString(s.AttrOr(attr, "")); m != "" {
			return m, true
		}
	}
	for _, attr := range idAttributes {
		var id string
		s.Find("[" + attr + "]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
			id = digits.FindString(el.AttrOr(attr, ""))
			return id == ""
		})
		if id != "" {
			return id, true
		}
	}
	return "", false
}

// An empty selector means the whole context.
var textSelectors = []string{
	".etme_widget_message_text.js-message_text",
	".etme_widget_message_text",
	".js-message_text",
	`[class*="message"][class*="text"]`,
	"div.text",
	"",
}

var viewSelectors = []string{
	".etme_widget_message_views",
	".message_views",
	`[class*="view"][class*="count"]`,
}

type timeLayout struct {
	layout string
	// local layouts carry no zone and are read in the channel's zone.
	local bool
}

type timeStrategy struct {
	selector string
	attr     string
	layouts  []timeLayout
}

var (
	datetimeLayouts = []timeLayout{
		{layout: "2006-01-02T15:04:05Z07:00"},
		{layout: "2006-01-02T15:04:05-0700"},
		{layout: "2006-01-02T15:04:05"},
		{layout: "2006-01-02 15:04:05", local: true},
	}
	dataTimeLayouts = []timeLayout{
		{layout: "2006-01-02 15:04:05", local: true},
		{layout: "2006-01-02T15:04:05", local: true},
	}
)

var timeStrategies = []timeStrategy{
	{selector: ".etme_widget_message_date time", attr: "datetime", layouts: datetimeLayouts},
	{selector: ".message_date time", attr: "datetime", layouts: datetimeLayouts},
	{selector: "time", attr: "datetime", layouts: datetimeLayouts},
	{selector: "[datetime]", attr: "datetime", layouts: datetimeLayouts},
	{selector: ".etme_widget_message_date", attr: "data-time", layouts: dataTimeLayouts},
	{selector: "[data-time]", attr: "data-time", layouts: dataTimeLayouts},
}

var (
	titleSelectors = []string{
		".etme_channel_info_header_title > span",
		".channel_info_title",
		".channel_title",
		"h1.title",
		`[class*="channel"][class*="title"]`,
	}
	usernameSelectors = []string{
		".etme_channel_info_header_username > a",
		".channel_username",
		".username",
		`[class*="channel"][class*="username"]`,
	}
	descriptionSelectors = []string{
		".etme_channel_info_description",
		".channel_description",
		".description",
		`[class*="channel"][class*="description"]`,
	}
	counterSelectors = []string{
		".etme_channel_info_counters .etme_channel_info_counter",
		".channel_counters .counter",
		".counters .counter",
	}
)

type counterKind int

const (
	followers counterKind = iota
	images
	videos
	files
)

var directCounterSelectors = map[counterKind][]string{
	followers: {".follower-count", ".subscribers", "[data-followers]"},
	images:    {".image-count", ".photos-count", "[data-photos]"},
	videos:    {".video-count", ".videos-count", "[data-videos]"},
	files:     {".file-count", ".files-count", "[data-files]"},
}

func classifyCounter(label string) (counterKind, bool) {
	lower := strings.ToLower(label)
	switch {
	case label == "دنبال‌کننده" || strings.Contains(lower, "follower"):
		return followers, true
	case label == "عکس" || strings.Contains(lower, "image") || strings.Contains(lower, "photo"):
		return images, true
	case label == "ویدیو" || strings.Contains(lower, "video"):
		return videos, true
	case label == "فایل" || strings.Contains(lower, "file"):
		return files, true
	}
	return 0, false
}

// displayCount normalises the Persian thousands word to "k".
func displayCount(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "هزار", "k")
}

func readCounters(doc *goquery.Selection) map[counterKind]string {
	counters := map[counterKind]string{followers: "0", images: "0", videos: "0", files: "0"}
	found := false
	for _, sel := range counterSelectors {
		doc.Find(sel).Each(func(_ int, c *goquery.Selection) {
			value := c.Find(".counter_value, .value").First()
			label := c.Find(".counter_type, .type").First()
			if value.Length() == 0 || label.Length() == 0 {
				return
			}
			if kind, ok := classifyCounter(strings.TrimSpace(label.Text())); ok {
				counters[kind] = displayCount(value.Text())
				found = true
			}
		})
		if found {
			return counters
		}
	}

	for kind, selectors := range directCounterSelectors {
		for _, sel := range selectors {
			node := doc.Find(sel).First()
			if node.Length() == 0 {
				continue
			}
			if v, ok := node.Attr("data-count"); ok && v != "" {
				counters[kind] = v
			} else {
				counters[kind] = displayCount(node.Text())
			}
			break
		}
	}
	return counters
}
