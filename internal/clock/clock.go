// Package clock abstracts wall time and timed waits so crawl timing can be
// driven deterministically in tests.
package clock

import (
	"context"
	"time"
)

// Clock returns the current time and performs cancellable waits.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}
