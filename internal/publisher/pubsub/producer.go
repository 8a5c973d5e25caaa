// Package pubsub implements a broker producer on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"
)

// KeyAttribute carries the delivery key on every message.
const KeyAttribute = "delivery_key"

type inflight struct {
	result     *pubsub.PublishResult
	onDelivery func(error)
}

// Producer publishes to a single topic and reports results on Flush.
type Producer struct {
	client *pubsub.Client
	topic  *pubsub.Topic

	mu       sync.Mutex
	inflight []inflight
}

// New wraps an existing client and topic.
func New(client *pubsub.Client, topic *pubsub.Topic) *Producer {
	return &Producer{client: client, topic: topic}
}

// Dial connects to projectID and verifies that topicID exists.
func Dial(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Producer, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !ok {
		_ = client.Close()
		return nil, fmt.Errorf("topic %s does not exist", topicID)
	}
	return New(client, topic), nil
}

// Produce publishes value asynchronously.
func (p *Producer) Produce(ctx context.Context, key string, value []byte, onDelivery func(error)) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	msg := &pubsub.Message{
		Data:       value,
		Attributes: map[string]string{KeyAttribute: key},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := p.topic.Publish(ctx, msg)
	p.mu.Lock()
	p.inflight = append(p.inflight, inflight{result: result, onDelivery: onDelivery})
	p.mu.Unlock()
	return nil
}

// Flush waits for buffered messages to be sent, bounded by ctx, then reports
// every result that is ready. Results still outstanding stay queued.
func (p *Producer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.topic.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	p.report(false)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close sends remaining messages, reports them and closes the client.
func (p *Producer) Close() error {
	p.topic.Stop()
	p.report(true)
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (p *Producer) report(all bool) {
	p.mu.Lock()
	var ready, waiting []inflight
	for _, f := range p.inflight {
		select {
		case <-f.result.Ready():
			ready = append(ready, f)
		default:
			if all {
				ready = append(ready, f)
			} else {
				waiting = append(waiting, f)
			}
		}
	}
	p.inflight = waiting
	p.mu.Unlock()

	for _, f := range ready {
		_, err := f.result.Get(context.Background())
		if f.onDelivery != nil {
			f.onDelivery(err)
		}
	}
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
