// Package checkpoint persists the latest posted time seen per channel.
package checkpoint

import (
	"context"
	"time"
)

// Backends accepted in Config.Backend.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config selects and configures the checkpoint backend.
type Config struct {
	Backend  string         `mapstructure:"backend"`
	Path     string         `mapstructure:"path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// Store loads and saves the full checkpoint map. A nil value means the
// channel is known but has no checkpoint yet.
type Store interface {
	// Load never fails: unreadable state degrades to an empty map.
	Load(ctx context.Context) map[string]*time.Time
	Save(ctx context.Context, points map[string]*time.Time) error
}

func clonePoints(points map[string]*time.Time) map[string]*time.Time {
	out := make(map[string]*time.Time, len(points))
	for k, v := range points {
		if v == nil {
			out[k] = nil
			continue
		}
		ts := *v
		out[k] = &ts
	}
	return out
}
