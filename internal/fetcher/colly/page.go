package collyfetcher

import (
	"github.com/PuerkitoBio/goquery"
)

const primarySelector = ".etme_widget_message_wrap.js-widget_message_wrap"

var fallbackSelectors = []string{
	".etme_widget_message",
	".js-widget_message_wrap",
	".message-container",
	`[class*="message"][class*="wrap"]`,
}

var errorIndicators = []string{
	`[class*="error"]`,
	`div:contains("error")`,
	`div:contains("not found")`,
}

// looksLikeChannelPage applies a lenient structural check: two of five
// markers, otherwise no error markers and a non-trivial body.
func looksLikeChannelPage(doc *goquery.Document, size int) bool {
	markers := []bool{
		doc.Find(`div[class*="etme"]`).Length() > 0,
		doc.Find(`[class*="channel"]`).Length() > 0,
		doc.Find(`[class*="message"]`).Length() > 0,
		doc.Find("title").Length() > 0,
		doc.Find("div").Length() > 0,
	}
	present := 0
	for _, ok := range markers {
		if ok {
			present++
		}
	}
	if present >= 2 {
		return true
	}
	for _, sel := range errorIndicators {
		if doc.Find(sel).Length() > 0 {
			return false
		}
	}
	return size > 500
}

// messageFragments returns message fragments and the selector that found
// them. Fallbacks apply only on pages that still carry the channel header.
func messageFragments(doc *goquery.Document) ([]*goquery.Selection, string) {
	if frags := collect(doc.Find(primarySelector)); len(frags) > 0 {
		return frags, primarySelector
	}
	if doc.Find(".etme_channel_info_header").Length() == 0 {
		return nil, primarySelector
	}
	for _, sel := range fallbackSelectors {
		if frags := collect(doc.Find(sel)); len(frags) > 0 {
			return frags, sel
		}
	}
	return nil, primarySelector
}

func collect(s *goquery.Selection) []*goquery.Selection {
	out := make([]*goquery.Selection, 0, s.Length())
	s.Each(func(_ int, el *goquery.Selection) {
		out = append(out, el)
	})
	return out
}
