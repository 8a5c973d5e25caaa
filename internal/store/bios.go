package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/channel"
	"github.com/JakeFAU/channelcrawler/internal/clock"
	"github.com/JakeFAU/channelcrawler/internal/storage"
)

// Bios stores the set of channel bios as bios_<ts>.json snapshots with an
// optional cumulative file.
type Bios struct {
	snaps  *snapshots
	logger *zap.Logger
}

// NewBios builds a bio store.
func NewBios(cfg Config, hybrid storage.Remote, local storage.Strategy, clk clock.Clock, logger *zap.Logger) *Bios {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("bios")
	return &Bios{
		snaps: &snapshots{
			dir:        cfg.BiosDir,
			prefix:     "bios",
			cumulative: cfg.BiosFile,
			retention:  cfg.Retention,
			hybrid:     hybrid,
			local:      local,
			clock:      clk,
			logger:     logger,
		},
		logger: logger,
	}
}

// Load returns every stored bio.
func (b *Bios) Load(ctx context.Context) channel.Bios {
	elems := b.snaps.load(ctx)
	bios := make(channel.Bios, 0, len(elems))
	for _, raw := range elems {
		var bio channel.Bio
		if err := json.Unmarshal(raw, &bio); err != nil {
			continue
		}
		bios = append(bios, bio)
	}
	return bios
}

// Save merges bios into the stored set, latest wins per channel, and writes
// the result as a new snapshot.
func (b *Bios) Save(ctx context.Context, bios channel.Bios) (string, error) {
	if len(bios) == 0 {
		return "", nil
	}
	merged := b.Load(ctx).Merge(bios)
	path, err := b.snaps.save(ctx, merged)
	if err != nil {
		return path, fmt.Errorf("bios: %w", err)
	}
	return path, nil
}
