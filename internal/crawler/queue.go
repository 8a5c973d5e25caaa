package crawler

// batchQueue hands out channels in batches. After a rate-limited batch the
// next one is halved, never below the floor; the channels left out stay
// queued for later batches.
type batchQueue struct {
	channels []string
	size     int
	floor    int
}

func newBatchQueue(channels []string, size, floor int) *batchQueue {
	return &batchQueue{channels: channels, size: size, floor: floor}
}

func (q *batchQueue) empty() bool {
	return len(q.channels) == 0
}

// remaining reports how many channels have not been handed out.
func (q *batchQueue) remaining() int {
	return len(q.channels)
}

func (q *batchQueue) next(rateLimited bool) ([]string, bool) {
	n := min(q.size, len(q.channels))
	shrunk := false
	if rateLimited && n > q.floor {
		n = max(q.floor, n/2)
		shrunk = true
	}
	batch := q.channels[:n:n]
	q.channels = q.channels[n:]
	return batch, shrunk
}
