package crawler

import "time"

// CycleReport summarizes one pass over the channel list.
type CycleReport struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Batches   []BatchReport
	NewPosts  int
	Succeeded []string
	Failures  []ChannelFailure
}

// BatchReport describes one processed batch.
type BatchReport struct {
	Size        int
	Failures    int
	RateLimited bool
	// Shrunk is set when the batch was reduced after a rate-limited batch.
	Shrunk bool
}

// ChannelFailure records why a channel produced nothing this cycle.
type ChannelFailure struct {
	ChannelID string
	Reason    string
}

func (r *CycleReport) add(batch BatchReport, results []channelResult) {
	r.Batches = append(r.Batches, batch)
	for _, res := range results {
		if res.err != nil {
			r.Failures = append(r.Failures, ChannelFailure{ChannelID: res.channelID, Reason: res.err.Error()})
			continue
		}
		r.Succeeded = append(r.Succeeded, res.channelID)
		r.NewPosts += res.newPosts
	}
}

func sampleFailures(failures []ChannelFailure, n int) []ChannelFailure {
	if len(failures) > n {
		return failures[:n]
	}
	return failures
}
