package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_FlushReportsDelivery(t *testing.T) {
	t.Parallel()

	p := New()
	var got []error
	require.NoError(t, p.Produce(context.Background(), "k", []byte("v"), func(err error) { got = append(got, err) }))
	assert.Empty(t, got, "reports wait for flush")

	require.NoError(t, p.Flush(context.Background()))
	require.Len(t, got, 1)
	assert.NoError(t, got[0])

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "k", msgs[0].Key)
	assert.Equal(t, []byte("v"), msgs[0].Value)
}

func TestProducer_DeliveryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := New(WithDeliveryError(func(key string) error {
		if key == "bad" {
			return boom
		}
		return nil
	}))
	results := map[string]error{}
	for _, key := range []string{"good", "bad"} {
		require.NoError(t, p.Produce(context.Background(), key, nil, func(err error) { results[key] = err }))
	}
	require.NoError(t, p.Flush(context.Background()))

	assert.NoError(t, results["good"])
	assert.ErrorIs(t, results["bad"], boom)
}

func TestProducer_ProduceError(t *testing.T) {
	t.Parallel()

	p := New(WithProduceError(func(string) error { return errors.New("queue full") }))
	assert.Error(t, p.Produce(context.Background(), "k", nil, nil))
	assert.Empty(t, p.Messages())
}

func TestProducer_HoldAndRelease(t *testing.T) {
	t.Parallel()

	p := New(WithHold())
	reported := 0
	require.NoError(t, p.Produce(context.Background(), "k", nil, func(error) { reported++ }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Flush(ctx), context.DeadlineExceeded)
	assert.Equal(t, 0, reported)

	p.Release()
	assert.Equal(t, 1, reported)
}

func TestProducer_Close(t *testing.T) {
	t.Parallel()

	p := New(WithHold())
	reported := 0
	require.NoError(t, p.Produce(context.Background(), "k", nil, func(error) { reported++ }))
	require.NoError(t, p.Close())
	assert.Equal(t, 1, reported)
	assert.ErrorIs(t, p.Produce(context.Background(), "k", nil, nil), ErrClosed)
}
