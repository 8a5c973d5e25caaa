package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Hybrid writes locally first and then forwards to the broker when enabled.
// Broker failures never fail a save: the local file is the durability floor.
type Hybrid struct {
	local         Strategy
	remote        Remote
	remoteEnabled bool
	logger        *zap.Logger
}

// NewHybrid builds a coordinator. remote may be nil when the broker is disabled.
func NewHybrid(local Strategy, remote Remote, remoteEnabled bool, logger *zap.Logger) *Hybrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hybrid{
		local:         local,
		remote:        remote,
		remoteEnabled: remoteEnabled && remote != nil,
		logger:        logger.Named("hybrid"),
	}
}

// Save writes data locally and, if that succeeds, forwards it to the broker.
func (h *Hybrid) Save(ctx context.Context, path string, data any) error {
	if err := h.local.Save(ctx, path, data); err != nil {
		return fmt.Errorf("local save %s: %w", path, err)
	}
	if !h.remoteEnabled {
		return nil
	}
	if err := h.remote.Save(ctx, path, data); err != nil {
		h.logger.Warn("broker save failed, keeping local copy",
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return nil
}

// Load reads through the local writer.
func (h *Hybrid) Load(ctx context.Context, path string) ([]byte, bool) {
	return h.local.Load(ctx, path)
}

// Delete removes the local file unless its broker delivery is still pending.
func (h *Hybrid) Delete(ctx context.Context, path string) error {
	if h.IsPending(path) {
		return fmt.Errorf("delete %s: %w", path, ErrPendingDelivery)
	}
	if err := h.local.Delete(ctx, path); err != nil {
		return fmt.Errorf("local delete %s: %w", path, err)
	}
	if h.remote != nil {
		if err := h.remote.Delete(ctx, path); err != nil {
			return fmt.Errorf("remote delete %s: %w", path, err)
		}
	}
	return nil
}

// IsPending reports whether path awaits broker confirmation.
func (h *Hybrid) IsPending(path string) bool {
	return h.remote != nil && h.remote.IsPending(path)
}
