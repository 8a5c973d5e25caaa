package crawler

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/channelcrawler/internal/channel"
	collyfetcher "github.com/JakeFAU/channelcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/channelcrawler/internal/proxy"
)

// Fetcher downloads a channel page.
type Fetcher interface {
	FetchChannelPage(ctx context.Context, channelID string, useProxy bool) (*collyfetcher.Page, error)
}

// ConnectivityChecker verifies outbound network access.
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) error
}

// ProxyChecker reports proxy pool health.
type ProxyChecker interface {
	CheckProxy(ctx context.Context) (proxy.Health, error)
}

// Extractor turns page fragments into records.
type Extractor interface {
	Post(frag *goquery.Selection, channelID string) (channel.Post, error)
	Bio(doc *goquery.Selection, channelID string) (channel.Bio, error)
}

// MessageStore persists the post collection of each channel.
type MessageStore interface {
	Load(ctx context.Context, channelID string) channel.Posts
	Save(ctx context.Context, channelID string, posts channel.Posts) (string, error)
}

// BioStore persists channel bios.
type BioStore interface {
	Save(ctx context.Context, bios channel.Bios) (string, error)
}

// Checkpoints tracks the latest ingested post time per channel.
type Checkpoints interface {
	Get(channelID string) *time.Time
	Advance(ctx context.Context, channelID string, ts time.Time) (bool, error)
}

// IDGenerator produces cycle ids.
type IDGenerator interface {
	NewID() (string, error)
}
