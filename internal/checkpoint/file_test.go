package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channelcrawler/internal/storage/local"
)

func TestFile_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "last_crawled_times.json")
	store := NewFile(path, local.New(), nil)

	tehran := time.FixedZone("IRST", 3*3600+1800)
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, tehran)
	require.NoError(t, store.Save(ctx, map[string]*time.Time{"foo": &ts, "bar": nil}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"foo": "2024-03-01T12:30:00+03:30"`)
	assert.Contains(t, string(data), `"bar": null`)

	loaded := store.Load(ctx)
	require.Contains(t, loaded, "bar")
	assert.Nil(t, loaded["bar"])
	require.NotNil(t, loaded["foo"])
	assert.True(t, ts.Equal(*loaded["foo"]))
}

func TestFile_LoadMissingOrCorrupt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	assert.Empty(t, NewFile(filepath.Join(dir, "missing.json"), local.New(), nil).Load(ctx))

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o600))
	assert.Empty(t, NewFile(corrupt, local.New(), nil).Load(ctx))
}

func TestFile_LoadSkipsUnparsableEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"good": "2024-03-01T10:00:00+00:00",
		"naive": "2024-03-01T10:00:00.123456",
		"bad": "yesterday"
	}`), 0o600))

	loaded := NewFile(path, local.New(), nil).Load(context.Background())
	require.Len(t, loaded, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Unix(), loaded["good"].Unix())
	assert.Equal(t, 123456000, loaded["naive"].Nanosecond())
	assert.NotContains(t, loaded, "bad")
}
