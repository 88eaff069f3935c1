// Package bus connects front ends to the engine: utterances go in on a
// single buffered queue, persona lines come back to the handler registered
// for the originating channel.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"flatshare/internal/domain"
)

const (
	defaultBuffer         = 100
	defaultPublishTimeout = 10 * time.Second
)

// Config configures an InMemoryBus.
type Config struct {
	Buffer         int
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// InMemoryBus is a channel-backed domain.MessageBus.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	timeout  time.Duration
	handlers map[string]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	dropped  atomic.Int64
	logger   *slog.Logger
}

// New creates a bus.
func New(cfg Config) *InMemoryBus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, cfg.Buffer),
		timeout:  cfg.PublishTimeout,
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   cfg.Logger,
	}
}

// Publish queues an utterance. A full queue blocks for up to the publish
// timeout before the utterance is dropped.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("publish on closed bus", "channel", msg.Channel)
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case b.inbound <- msg:
		return
	default:
	}

	b.logger.Warn("inbound queue full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
	case <-timer.C:
		b.dropped.Add(1)
		b.logger.Error("utterance dropped: queue full",
			"channel", msg.Channel,
			"sender", msg.SenderID,
			"waited", b.timeout,
		)
	}
}

// Subscribe returns the inbound queue. It is closed by Close.
func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound hands msg to its channel's handler.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}
	handler(msg)
}

// OnOutbound registers the handler for channelName, replacing any earlier one.
func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

// Dropped reports how many utterances timed out on a full queue.
func (b *InMemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes the inbound queue. It is safe to call more than once.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
