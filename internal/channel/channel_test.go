package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(id int64, at time.Time) Post {
	return Post{Kind: KindMessage, ID: id, ChannelID: "foo", PostedAt: at}
}

func TestSelectNewWithoutCheckpoint(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	fetched := []Post{post(1, t0), post(2, t0.Add(time.Minute))}

	selected, latest := SelectNew(fetched, map[int64]struct{}{}, nil)

	require.Len(t, selected, 2)
	require.NotNil(t, latest)
	assert.Equal(t, t0.Add(time.Minute), *latest)
}

func TestSelectNewRespectsCheckpointAndExistingIDs(t *testing.T) {
	t.Parallel()

	cp := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	existing := Posts{post(1, cp.Add(-time.Hour)), post(2, cp)}.IDs()
	fetched := []Post{
		post(1, cp.Add(-time.Hour)),
		post(2, cp),
		post(3, cp.Add(time.Second)),
		post(4, cp), // not strictly after the checkpoint
	}

	selected, latest := SelectNew(fetched, existing, &cp)

	require.Len(t, selected, 1)
	assert.Equal(t, int64(3), selected[0].ID)
	assert.Equal(t, cp.Add(time.Second), *latest)
}

func TestSelectNewIsIdempotent(t *testing.T) {
	t.Parallel()

	cp := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	existing := map[int64]struct{}{7: {}}
	fetched := []Post{post(7, cp.Add(time.Hour)), post(8, cp.Add(time.Hour)), post(9, cp.Add(-time.Hour))}

	first, _ := SelectNew(fetched, existing, &cp)
	second, _ := SelectNew(fetched, existing, &cp)

	assert.Equal(t, first, second)
	assert.Len(t, existing, 1, "existing set must not be mutated")
}

func TestSelectNewCollapsesDuplicateIDs(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	fetched := []Post{post(5, t0), post(5, t0.Add(time.Minute))}

	selected, _ := SelectNew(fetched, nil, nil)

	require.Len(t, selected, 1)
	assert.Equal(t, t0, selected[0].PostedAt)
}

func TestSelectNewNothingSelected(t *testing.T) {
	t.Parallel()

	selected, latest := SelectNew(nil, nil, nil)
	assert.Empty(t, selected)
	assert.Nil(t, latest)
}

func TestPostDeliveryKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "42_news", Post{ID: 42, ChannelID: "news"}.DeliveryKey())
}

func TestBiosMergeLatestWins(t *testing.T) {
	t.Parallel()

	stored := Bios{{ChannelID: "a", Title: "old a"}, {ChannelID: "b", Title: "b"}}
	merged := stored.Merge(Bios{{ChannelID: "a", Title: "new a"}, {ChannelID: "c", Title: "c"}})

	require.Len(t, merged, 3)
	assert.Equal(t, "new a", merged[0].Title)
	assert.Equal(t, "b", merged[1].Title)
	assert.Equal(t, "c", merged[2].Title)
	assert.Equal(t, "old a", stored[0].Title)
}
