package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tracker holds checkpoints in memory and persists the full map after every
// advance. Checkpoints only move forward.
type Tracker struct {
	mu     sync.Mutex
	store  Store
	points map[string]*time.Time
	logger *zap.Logger
}

// NewTracker loads the current checkpoints from store.
func NewTracker(ctx context.Context, store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	points := store.Load(ctx)
	logger.Named("checkpoint").Info("loaded checkpoints", zap.Int("channels", len(points)))
	return &Tracker{store: store, points: points, logger: logger.Named("checkpoint")}
}

// Get returns the checkpoint of channelID, or nil when there is none.
func (t *Tracker) Get(channelID string) *time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := t.points[channelID]
	if ts == nil {
		return nil
	}
	out := *ts
	return &out
}

// Advance moves the checkpoint of channelID to ts if ts is later and
// persists the map. It reports whether the checkpoint moved.
func (t *Tracker) Advance(ctx context.Context, channelID string, ts time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur := t.points[channelID]; cur != nil && !ts.After(*cur) {
		return false, nil
	}
	prev, had := t.points[channelID]
	t.points[channelID] = &ts
	if err := t.store.Save(ctx, clonePoints(t.points)); err != nil {
		// Memory must match what was persisted.
		if had {
			t.points[channelID] = prev
		} else {
			delete(t.points, channelID)
		}
		return false, fmt.Errorf("persist checkpoint %s: %w", channelID, err)
	}
	t.logger.Debug("checkpoint advanced", zap.String("channel", channelID), zap.Time("posted_at", ts))
	return true, nil
}

// Snapshot returns a copy of every checkpoint.
func (t *Tracker) Snapshot() map[string]*time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clonePoints(t.points)
}
