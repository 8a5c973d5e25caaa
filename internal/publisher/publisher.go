// Package publisher forwards saved records to a message broker and deletes
// the local copy once every message of a save has been confirmed.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/clock"
	"github.com/JakeFAU/channelcrawler/internal/hash/sha256"
	"github.com/JakeFAU/channelcrawler/internal/metrics"
)

// ErrUnavailable is returned by Save while the broker is considered down.
var ErrUnavailable = errors.New("publisher: broker unavailable")

// Producer is a broker client with asynchronous delivery reports.
type Producer interface {
	// Produce enqueues one message. onDelivery is called exactly once with the
	// delivery outcome, during Flush or Close.
	Produce(ctx context.Context, key string, value []byte, onDelivery func(error)) error
	// Flush waits for outstanding messages until ctx is done and dispatches
	// the delivery reports that arrived.
	Flush(ctx context.Context) error
	Close() error
}

// ProducerFactory creates a connected producer.
type ProducerFactory func(ctx context.Context) (Producer, error)

// Config controls publishing behaviour.
type Config struct {
	FlushTimeout      time.Duration `mapstructure:"flush_timeout"`
	ChunkSize         int           `mapstructure:"chunk_size"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

// Keyed values publish as a single message under their own key.
type Keyed interface {
	DeliveryKey() string
}

// Batch values publish item by item in chunks sharing a key.
type Batch interface {
	Items() []any
}

type message struct {
	key   string
	value []byte
}

// delivery is shared by every message of one save.
type delivery struct {
	path        string
	outstanding int
	failed      bool
	forgotten   bool
	tokens      []string
}

// Publisher implements storage.Remote on top of a Producer.
type Publisher struct {
	cfg     Config
	factory ProducerFactory
	clock   clock.Clock
	hasher  *sha256.Hasher
	logger  *zap.Logger

	mu          sync.Mutex
	producer    Producer
	lastAttempt time.Time
	available   atomic.Bool

	pendingMu sync.Mutex
	pending   map[string]*delivery
	seq       uint64
}

// New creates a Publisher. The producer is created lazily on first Save.
func New(cfg Config, factory ProducerFactory, clk clock.Clock, logger *zap.Logger) *Publisher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:     cfg,
		factory: factory,
		clock:   clk,
		hasher:  sha256.New(16),
		logger:  logger.Named("publisher"),
		pending: make(map[string]*delivery),
	}
}

// Available reports whether the last producer interaction succeeded.
func (p *Publisher) Available() bool {
	return p.available.Load()
}

// Save publishes data and, if the local file at path exists, schedules it
// for deletion once every message is confirmed.
func (p *Publisher) Save(ctx context.Context, path string, data any) error {
	producer, err := p.acquire(ctx)
	if err != nil {
		return err
	}

	msgs, err := p.encode(data)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	var d *delivery
	if fileExists(path) {
		d = p.track(path, msgs)
	}

	for i, msg := range msgs {
		if err := producer.Produce(ctx, msg.key, msg.value, p.onDelivery(msg.key, d)); err != nil {
			// Messages never produced will never report; settle them as failed.
			p.abandon(d, len(msgs)-i)
			p.markUnavailable(err)
			return fmt.Errorf("produce %s: %w", msg.key, err)
		}
	}
	p.logger.Info("sent records to broker",
		zap.String("path", path),
		zap.Int("messages", len(msgs)),
	)

	flushCtx, cancel := context.WithTimeout(ctx, p.cfg.FlushTimeout)
	defer cancel()
	if err := producer.Flush(flushCtx); err != nil {
		p.logger.Warn("flush incomplete, deliveries remain unconfirmed",
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return nil
}

// Load always reports absent: the broker is write-only.
func (p *Publisher) Load(context.Context, string) ([]byte, bool) {
	return nil, false
}

// Delete forgets pending deliveries for path. The file itself is left alone.
func (p *Publisher) Delete(_ context.Context, path string) error {
	p.Forget(path)
	return nil
}

// Forget drops every pending entry for path so later confirmations do not
// delete it.
func (p *Publisher) Forget(path string) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for token, d := range p.pending {
		if d.path == path {
			d.forgotten = true
			delete(p.pending, token)
		}
	}
}

// IsPending reports whether path has unconfirmed deliveries.
func (p *Publisher) IsPending(path string) bool {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for _, d := range p.pending {
		if d.path == path {
			return true
		}
	}
	return false
}

// PendingCount returns the number of unconfirmed delivery keys.
func (p *Publisher) PendingCount() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}

// Close flushes and closes the producer, if one was created.
func (p *Publisher) Close() error {
	p.mu.Lock()
	producer := p.producer
	p.producer = nil
	p.mu.Unlock()
	p.available.Store(false)
	if producer == nil {
		return nil
	}
	if err := producer.Close(); err != nil {
		return fmt.Errorf("close producer: %w", err)
	}
	return nil
}

func (p *Publisher) acquire(ctx context.Context) (Producer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.producer != nil && p.available.Load() {
		return p.producer, nil
	}
	now := p.clock.Now()
	if !p.lastAttempt.IsZero() && now.Sub(p.lastAttempt) < p.cfg.ReconnectInterval {
		return nil, ErrUnavailable
	}
	p.lastAttempt = now

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Debug("closing failed producer", zap.Error(err))
		}
		p.producer = nil
	}
	producer, err := p.factory(ctx)
	if err != nil {
		p.logger.Error("broker producer init failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	p.producer = producer
	p.available.Store(true)
	p.logger.Info("broker producer initialized")
	return producer, nil
}

func (p *Publisher) markUnavailable(err error) {
	p.available.Store(false)
	p.mu.Lock()
	p.lastAttempt = p.clock.Now()
	p.mu.Unlock()
	p.logger.Error("broker send failed", zap.Error(err))
}

func (p *Publisher) encode(data any) ([]message, error) {
	switch v := data.(type) {
	case Keyed:
		value, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		key := v.DeliveryKey()
		if strings.Trim(key, "_") == "" {
			if key, err = p.singleKey(value); err != nil {
				return nil, err
			}
		}
		return []message{{key: key, value: value}}, nil
	case Batch:
		items := v.Items()
		msgs := make([]message, 0, len(items))
		for start := 0; start < len(items); start += p.cfg.ChunkSize {
			chunk := items[start:min(start+p.cfg.ChunkSize, len(items))]
			digest, err := p.hasher.HashJSON(chunk[:1])
			if err != nil {
				return nil, fmt.Errorf("batch key: %w", err)
			}
			key := "batch_" + digest
			for _, item := range chunk {
				value, err := json.Marshal(item)
				if err != nil {
					return nil, fmt.Errorf("marshal item: %w", err)
				}
				msgs = append(msgs, message{key: key, value: value})
			}
		}
		return msgs, nil
	default:
		value, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		key, err := p.singleKey(value)
		if err != nil {
			return nil, err
		}
		return []message{{key: key, value: value}}, nil
	}
}

func (p *Publisher) singleKey(value []byte) (string, error) {
	digest, err := p.hasher.Hash(value)
	if err != nil {
		return "", fmt.Errorf("single key: %w", err)
	}
	return "single_" + digest, nil
}

// track registers one pending entry per distinct key, all pointing at the
// same delivery record.
func (p *Publisher) track(path string, msgs []message) *delivery {
	d := &delivery{path: path, outstanding: len(msgs)}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	seen := make(map[string]struct{})
	for _, msg := range msgs {
		if _, ok := seen[msg.key]; ok {
			continue
		}
		seen[msg.key] = struct{}{}
		token := msg.key
		if _, taken := p.pending[token]; taken {
			p.seq++
			token = msg.key + "#" + strconv.FormatUint(p.seq, 10)
		}
		p.pending[token] = d
		d.tokens = append(d.tokens, token)
		p.logger.Debug("tracking file for deletion on confirmation",
			zap.String("path", path),
			zap.String("key", msg.key),
		)
	}
	return d
}

func (p *Publisher) onDelivery(key string, d *delivery) func(error) {
	return func(err error) {
		metrics.ObserveDelivery(err == nil)
		if err != nil {
			p.logger.Error("message delivery failed", zap.String("key", key), zap.Error(err))
		}
		p.settle(d, 1, err != nil)
	}
}

func (p *Publisher) abandon(d *delivery, n int) {
	p.settle(d, n, true)
}

func (p *Publisher) settle(d *delivery, n int, failed bool) {
	if d == nil {
		return
	}
	p.pendingMu.Lock()
	if failed {
		d.failed = true
	}
	d.outstanding -= n
	done := d.outstanding <= 0
	if done {
		for _, token := range d.tokens {
			if p.pending[token] == d {
				delete(p.pending, token)
			}
		}
	}
	remove := done && !d.failed && !d.forgotten
	keep := done && d.failed && !d.forgotten
	p.pendingMu.Unlock()

	switch {
	case remove:
		if err := os.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Error("failed to delete local file after delivery",
				zap.String("path", d.path),
				zap.Error(err),
			)
			return
		}
		p.logger.Info("deleted local file after broker delivery", zap.String("path", d.path))
	case keep:
		p.logger.Info("keeping local file due to delivery failure", zap.String("path", d.path))
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
