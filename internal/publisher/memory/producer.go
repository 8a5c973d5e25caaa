// Package memory contains an in-memory broker producer for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Produce after Close.
var ErrClosed = errors.New("memory producer closed")

// Message captures one produce call.
type Message struct {
	Key   string
	Value []byte
}

type queued struct {
	msg        Message
	onDelivery func(error)
}

// Producer records messages and reports their delivery on Flush.
type Producer struct {
	mu        sync.Mutex
	messages  []Message
	queue     []queued
	closed    bool
	hold      bool
	produceFn func(key string) error
	deliverFn func(key string) error
}

// Option configures a Producer.
type Option func(*Producer)

// WithProduceError makes Produce fail for keys where fn returns an error.
func WithProduceError(fn func(key string) error) Option {
	return func(p *Producer) { p.produceFn = fn }
}

// WithDeliveryError reports fn's result as the delivery outcome of each key.
func WithDeliveryError(fn func(key string) error) Option {
	return func(p *Producer) { p.deliverFn = fn }
}

// WithHold keeps delivery reports queued until Release is called.
func WithHold() Option {
	return func(p *Producer) { p.hold = true }
}

// New returns a memory Producer.
func New(opts ...Option) *Producer {
	p := &Producer{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Produce records the message and queues its delivery report.
func (p *Producer) Produce(_ context.Context, key string, value []byte, onDelivery func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.produceFn != nil {
		if err := p.produceFn(key); err != nil {
			return err
		}
	}
	msg := Message{Key: key, Value: append([]byte(nil), value...)}
	p.messages = append(p.messages, msg)
	p.queue = append(p.queue, queued{msg: msg, onDelivery: onDelivery})
	return nil
}

// Flush dispatches queued delivery reports unless the producer is holding them.
func (p *Producer) Flush(ctx context.Context) error {
	p.mu.Lock()
	hold := p.hold
	p.mu.Unlock()
	if hold {
		<-ctx.Done()
		return ctx.Err()
	}
	p.dispatch()
	return nil
}

// Release stops holding and dispatches every queued report.
func (p *Producer) Release() {
	p.mu.Lock()
	p.hold = false
	p.mu.Unlock()
	p.dispatch()
}

// Close dispatches outstanding reports and rejects further messages.
func (p *Producer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.dispatch()
	return nil
}

// Messages returns the recorded messages.
func (p *Producer) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *Producer) dispatch() {
	p.mu.Lock()
	queue := p.queue
	p.queue = nil
	deliverFn := p.deliverFn
	p.mu.Unlock()

	for _, q := range queue {
		var err error
		if deliverFn != nil {
			err = deliverFn(q.msg.Key)
		}
		if q.onDelivery != nil {
			q.onDelivery(err)
		}
	}
}
