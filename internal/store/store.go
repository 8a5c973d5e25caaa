// Package store keeps per-channel post collections and the channel bio set
// as timestamped JSON snapshots, optionally mirrored in a cumulative file.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/clock"
	"github.com/JakeFAU/channelcrawler/internal/storage"
)

// TimestampLayout names snapshot files; it sorts lexicographically by time.
const TimestampLayout = "2006-01-02T15-04-05.000000"

// ErrInvalidChannel is returned for channel ids that cannot name a file.
var ErrInvalidChannel = errors.New("store: invalid channel id")

// Config locates the stores on disk.
type Config struct {
	MessagesDir string `mapstructure:"messages_dir"`
	BiosFile    string `mapstructure:"bios_file"`
	BiosDir     string `mapstructure:"bios_dir"`
	// Retention: 0 keeps every snapshot and no cumulative file, N > 0 keeps
	// the N newest snapshots plus the cumulative file, N < 0 keeps every
	// snapshot plus the cumulative file.
	Retention int `mapstructure:"retention"`
}

// snapshots manages one directory of <prefix>_<ts>.json files and its
// cumulative sibling.
type snapshots struct {
	dir        string
	prefix     string
	cumulative string
	retention  int
	hybrid     storage.Remote
	local      storage.Strategy
	clock      clock.Clock
	logger     *zap.Logger
}

// save writes a new snapshot through the hybrid, the cumulative file through
// the local writer only, then applies retention.
func (s *snapshots) save(ctx context.Context, data any) (string, error) {
	name := s.prefix + "_" + s.clock.Now().Format(TimestampLayout) + ".json"
	path := filepath.Join(s.dir, name)
	if err := s.hybrid.Save(ctx, path, data); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	if s.retention != 0 {
		if err := s.local.Save(ctx, s.cumulative, data); err != nil {
			return path, fmt.Errorf("save cumulative file: %w", err)
		}
	}
	if s.retention > 0 {
		s.prune(ctx)
	}
	return path, nil
}

// load returns the JSON array elements of the cumulative file when it holds
// any, otherwise those of the latest snapshot.
func (s *snapshots) load(ctx context.Context) []json.RawMessage {
	if data, ok := s.local.Load(ctx, s.cumulative); ok {
		if elems := decodeArray(data); len(elems) > 0 {
			return elems
		}
	}
	files := s.list()
	if len(files) == 0 {
		return nil
	}
	latest := files[len(files)-1]
	data, ok := s.local.Load(ctx, latest)
	if !ok {
		s.logger.Warn("latest snapshot unreadable", zap.String("path", latest))
		return nil
	}
	return decodeArray(data)
}

// list returns snapshot paths, oldest first.
func (s *snapshots) list() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, s.prefix+"_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		files = append(files, filepath.Join(s.dir, name))
	}
	sort.Strings(files)
	return files
}

// prune deletes the oldest snapshots beyond the retention count. Files with
// unconfirmed broker deliveries are skipped.
func (s *snapshots) prune(ctx context.Context) {
	files := s.list()
	excess := len(files) - s.retention
	for _, path := range files {
		if excess <= 0 {
			return
		}
		if s.hybrid.IsPending(path) {
			s.logger.Debug("retention skipped pending snapshot", zap.String("path", path))
			continue
		}
		if err := s.hybrid.Delete(ctx, path); err != nil {
			if !errors.Is(err, storage.ErrPendingDelivery) {
				s.logger.Error("retention delete failed", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		excess--
	}
}

func decodeArray(data []byte) []json.RawMessage {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil
	}
	return elems
}

func validChannelID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
