package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/channel"
	"github.com/JakeFAU/channelcrawler/internal/clock"
	"github.com/JakeFAU/channelcrawler/internal/storage"
)

// Messages stores the post collection of each channel under
// <dir>/<channel>/messages_<ts>.json with <dir>/<channel>.json as the
// cumulative file.
type Messages struct {
	dir       string
	retention int
	hybrid    storage.Remote
	local     storage.Strategy
	clock     clock.Clock
	logger    *zap.Logger
}

// NewMessages builds a message store.
func NewMessages(cfg Config, hybrid storage.Remote, local storage.Strategy, clk clock.Clock, logger *zap.Logger) *Messages {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messages{
		dir:       cfg.MessagesDir,
		retention: cfg.Retention,
		hybrid:    hybrid,
		local:     local,
		clock:     clk,
		logger:    logger.Named("messages"),
	}
}

func (m *Messages) snapshots(channelID string) *snapshots {
	return &snapshots{
		dir:        filepath.Join(m.dir, channelID),
		prefix:     "messages",
		cumulative: filepath.Join(m.dir, channelID+".json"),
		retention:  m.retention,
		hybrid:     m.hybrid,
		local:      m.local,
		clock:      m.clock,
		logger:     m.logger.With(zap.String("channel", channelID)),
	}
}

// Load returns the stored posts of channelID. Elements that do not decode as
// posts are skipped; a missing store yields an empty collection.
func (m *Messages) Load(ctx context.Context, channelID string) channel.Posts {
	if !validChannelID(channelID) {
		return nil
	}
	elems := m.snapshots(channelID).load(ctx)
	posts := make(channel.Posts, 0, len(elems))
	skipped := 0
	for _, raw := range elems {
		var p channel.Post
		if err := json.Unmarshal(raw, &p); err != nil {
			skipped++
			continue
		}
		posts = append(posts, p)
	}
	if skipped > 0 {
		m.logger.Warn("skipped undecodable stored posts",
			zap.String("channel", channelID),
			zap.Int("skipped", skipped),
		)
	}
	return posts
}

// Save writes posts as a new snapshot of channelID and returns its path.
func (m *Messages) Save(ctx context.Context, channelID string, posts channel.Posts) (string, error) {
	if !validChannelID(channelID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, channelID)
	}
	path, err := m.snapshots(channelID).save(ctx, posts)
	if err != nil {
		return path, fmt.Errorf("channel %s: %w", channelID, err)
	}
	return path, nil
}
