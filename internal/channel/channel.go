// Package channel defines the records harvested from public channel pages.
package channel

import (
	"strconv"
	"time"
)

// Record type markers carried in the "_" field of stored JSON.
const (
	KindMessage = "message"
	KindChannel = "channel"
)

// Post is a single message extracted from a channel page.
type Post struct {
	Kind             string    `json:"_"`
	ID               int64     `json:"id"`
	ChannelID        string    `json:"channel_id"`
	URL              string    `json:"url"`
	Text             string    `json:"text"`
	ViewCount        int64     `json:"view_count"`
	PostedAt         time.Time `json:"posted_time"`
	CrawledAt        time.Time `json:"crawled_at"`
	ExtractionErrors []string  `json:"extraction_errors"`
}

// DeliveryKey identifies the post on the broker.
func (p Post) DeliveryKey() string {
	return strconv.FormatInt(p.ID, 10) + "_" + p.ChannelID
}

// Bio is the channel metadata shown in the page header.
type Bio struct {
	Kind             string    `json:"_"`
	ChannelID        string    `json:"channel_id"`
	Title            string    `json:"title"`
	Username         string    `json:"username"`
	FollowerCount    string    `json:"follower_count"`
	ImageCount       string    `json:"image_count"`
	VideoCount       string    `json:"video_count"`
	FileCount        string    `json:"file_count"`
	Description      string    `json:"description"`
	CrawledAt        time.Time `json:"crawled_at"`
	ExtractionErrors []string  `json:"extraction_errors"`
}

// Posts is a stored collection of posts for one channel.
type Posts []Post

// Items exposes the collection element by element for publishing.
func (p Posts) Items() []any {
	out := make([]any, len(p))
	for i := range p {
		out[i] = p[i]
	}
	return out
}

// IDs returns the set of post ids in the collection.
func (p Posts) IDs() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(p))
	for _, post := range p {
		ids[post.ID] = struct{}{}
	}
	return ids
}

// Bios is a stored set of channel bios.
type Bios []Bio

// Items exposes the set element by element for publishing.
func (b Bios) Items() []any {
	out := make([]any, len(b))
	for i := range b {
		out[i] = b[i]
	}
	return out
}

// Merge returns b with every bio in newer replacing the entry for the same
// channel. Order of first appearance is preserved.
func (b Bios) Merge(newer Bios) Bios {
	index := make(map[string]int, len(b)+len(newer))
	out := make(Bios, 0, len(b)+len(newer))
	for _, bio := range append(append(Bios{}, b...), newer...) {
		if i, ok := index[bio.ChannelID]; ok {
			out[i] = bio
			continue
		}
		index[bio.ChannelID] = len(out)
		out = append(out, bio)
	}
	return out
}

// IsNew reports whether a fetched post should be appended to the stored
// collection: its id must be unknown and, when a checkpoint exists, it must
// have been posted strictly after it.
func IsNew(post Post, existing map[int64]struct{}, checkpoint *time.Time) bool {
	if _, seen := existing[post.ID]; seen {
		return false
	}
	return checkpoint == nil || post.PostedAt.After(*checkpoint)
}

// SelectNew filters fetched down to the posts that are new relative to the
// existing id set and checkpoint. Repeated ids within fetched are kept once.
// existing is not modified. The second return value is the latest posted
// time among the selected posts, or nil when nothing was selected.
func SelectNew(fetched []Post, existing map[int64]struct{}, checkpoint *time.Time) ([]Post, *time.Time) {
	seen := make(map[int64]struct{}, len(fetched))
	var (
		selected []Post
		latest   *time.Time
	)
	for _, post := range fetched {
		if _, dup := seen[post.ID]; dup {
			continue
		}
		if !IsNew(post, existing, checkpoint) {
			continue
		}
		seen[post.ID] = struct{}{}
		selected = append(selected, post)
		if latest == nil || post.PostedAt.After(*latest) {
			ts := post.PostedAt
			latest = &ts
		}
	}
	return selected, latest
}
