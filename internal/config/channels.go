package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Channel list failures. All of them are fatal at startup.
var (
	ErrChannelListMissing = errors.New("channel list not found")
	ErrChannelListInvalid = errors.New("channel list must be a JSON array of strings")
	ErrChannelListEmpty   = errors.New("channel list is empty")
)

// LoadChannels reads a JSON array of channel ids. Blank entries and repeats
// are dropped; order is kept.
func LoadChannels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrChannelListMissing, path)
		}
		return nil, fmt.Errorf("read channel list %s: %w", path, err)
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrChannelListInvalid, path, err)
	}

	seen := make(map[string]struct{}, len(raw))
	channels := make([]string, 0, len(raw))
	for _, ch := range raw {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelListEmpty, path)
	}
	return channels, nil
}
