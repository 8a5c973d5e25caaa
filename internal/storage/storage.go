// Package storage defines the persistence strategy shared by the local writer,
// the broker publisher and the hybrid coordinator that sequences them.
package storage

import (
	"context"
	"errors"
)

// ErrPendingDelivery is returned when deleting a file whose broker delivery
// has not been confirmed yet.
var ErrPendingDelivery = errors.New("storage: delivery pending")

// Strategy persists JSON-serialisable values under a path.
type Strategy interface {
	// Save persists data under path.
	Save(ctx context.Context, path string, data any) error
	// Load returns the stored bytes, or false when nothing is stored.
	Load(ctx context.Context, path string) ([]byte, bool)
	// Delete removes whatever is stored under path.
	Delete(ctx context.Context, path string) error
}

// PendingTracker reports which local files still await broker confirmation.
type PendingTracker interface {
	IsPending(path string) bool
}

// Remote is a broker-backed strategy that tracks pending deliveries.
type Remote interface {
	Strategy
	PendingTracker
}
