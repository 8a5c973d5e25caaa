package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/storage"
)

// Layouts accepted when reading timestamps; files written by older crawlers
// may lack a zone offset, in which case UTC is assumed.
var readLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// File keeps checkpoints in a JSON object of channel to timestamp or null.
// It writes through the local writer only, so the file never reaches the broker.
type File struct {
	path   string
	writer storage.Strategy
	logger *zap.Logger
}

// NewFile creates a file-backed checkpoint store.
func NewFile(path string, writer storage.Strategy, logger *zap.Logger) *File {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{path: path, writer: writer, logger: logger.Named("checkpoint")}
}

// Load reads the checkpoint file. Missing or corrupt files yield an empty
// map and unparsable entries are skipped.
func (f *File) Load(ctx context.Context) map[string]*time.Time {
	points := make(map[string]*time.Time)
	data, ok := f.writer.Load(ctx, f.path)
	if !ok {
		return points
	}
	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		f.logger.Warn("checkpoint file unreadable, starting empty", zap.String("path", f.path), zap.Error(err))
		return points
	}
	for channelID, value := range raw {
		if value == nil {
			points[channelID] = nil
			continue
		}
		ts, err := parseTimestamp(*value)
		if err != nil {
			f.logger.Warn("skipping unparsable checkpoint",
				zap.String("channel", channelID),
				zap.String("value", *value),
			)
			continue
		}
		points[channelID] = &ts
	}
	return points
}

// Save writes the full map.
func (f *File) Save(ctx context.Context, points map[string]*time.Time) error {
	out := make(map[string]*string, len(points))
	for channelID, ts := range points {
		if ts == nil {
			out[channelID] = nil
			continue
		}
		s := ts.Format(time.RFC3339Nano)
		out[channelID] = &s
	}
	if err := f.writer.Save(ctx, f.path, out); err != nil {
		return fmt.Errorf("save checkpoints: %w", err)
	}
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range readLayouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, lastErr)
}
