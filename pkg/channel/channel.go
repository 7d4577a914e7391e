// Package channel wraps the publish/subscribe transport with the reliability
// the session layer needs: heartbeat staleness detection, reconnection with
// exponential backoff, and duplicate suppression.
package channel

import (
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/ban-chess-server/pkg/events"
)

// Channel errors.
var (
	ErrClosed        = errors.New("channel closed")
	ErrNotSubscribed = errors.New("channel not subscribed")
)

// Transport is the raw pub/sub link beneath a ReliableChannel.
type Transport interface {
	Subscribe(topic string, handler events.Handler) (*events.Subscription, error)
	Unsubscribe(sub *events.Subscription) error
	Publish(msg events.Message) error
}

// PublisherTransport adapts an events.Publisher to the Transport interface.
type PublisherTransport struct {
	Publisher *events.Publisher
}

// Subscribe registers the handler on the underlying publisher.
func (t *PublisherTransport) Subscribe(topic string, handler events.Handler) (*events.Subscription, error) {
	return t.Publisher.Subscribe(topic, handler), nil
}

// Unsubscribe removes the subscription from the underlying publisher.
func (t *PublisherTransport) Unsubscribe(sub *events.Subscription) error {
	t.Publisher.Unsubscribe(sub)
	return nil
}

// Publish forwards the message to the underlying publisher.
func (t *PublisherTransport) Publish(msg events.Message) error {
	t.Publisher.Publish(msg)
	return nil
}

// State is the channel's connection state as seen by consumers.
type State string

// Channel states. Failed is terminal: the retry budget was exhausted and the
// failure is surfaced upward instead of retrying forever.
const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// Config tunes the reliability wrapper.
type Config struct {
	HeartbeatInterval time.Duration // expected inbound heartbeat cadence
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	JitterMax         time.Duration
	SettleDelay       time.Duration
	MaxAttempts       int
	DedupCapacity     int
	DedupTTL          time.Duration
}

// DefaultConfig returns production defaults. The heartbeat interval stays
// strictly below the transport's 30s liveness timeout.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 25 * time.Second,
		BackoffBase:       time.Second,
		BackoffCap:        30 * time.Second,
		JitterMax:         time.Second,
		SettleDelay:       250 * time.Millisecond,
		MaxAttempts:       8,
		DedupCapacity:     256,
		DedupTTL:          5 * time.Minute,
	}
}

// ReliableChannel is a logical channel over the transport. Once subscribed it
// delivers deduplicated messages on Messages() and connection transitions on
// StateChanges().
type ReliableChannel struct {
	transport Transport
	cfg       Config
	dedup     *Deduplicator
	logger    *zap.Logger

	mu          sync.Mutex
	topic       string
	sub         *events.Subscription
	lastInbound time.Time
	state       State
	closed      bool

	msgs   chan events.Message
	states chan State
	done   chan struct{}
}

// New creates a reliable channel over the given transport.
func New(transport Transport, cfg Config, logger *zap.Logger) *ReliableChannel {
	return &ReliableChannel{
		transport: transport,
		cfg:       cfg,
		dedup:     NewDeduplicator(cfg.DedupCapacity, cfg.DedupTTL),
		logger:    logger,
		state:     StateDisconnected,
		msgs:      make(chan events.Message, 64),
		states:    make(chan State, 8),
		done:      make(chan struct{}),
	}
}

// Subscribe establishes the logical channel and starts the staleness monitor.
func (c *ReliableChannel) Subscribe(topic string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.topic = topic
	c.mu.Unlock()

	if err := c.subscribe(); err != nil {
		return err
	}

	go c.monitor()
	return nil
}

// Publish sends a message out on the channel's topic.
func (c *ReliableChannel) Publish(msgType string, payload any) error {
	c.mu.Lock()
	topic := c.topic
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if topic == "" {
		return ErrNotSubscribed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return c.transport.Publish(events.Message{
		Topic:     topic,
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now(),
	})
}

// Messages returns the stream of deduplicated inbound messages.
func (c *ReliableChannel) Messages() <-chan events.Message {
	return c.msgs
}

// StateChanges returns connection state transitions.
func (c *ReliableChannel) StateChanges() <-chan State {
	return c.states
}

// State returns the current connection state.
func (c *ReliableChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears down the channel and cancels its timers.
func (c *ReliableChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	close(c.done)
	if sub != nil {
		_ = c.transport.Unsubscribe(sub)
	}
}

func (c *ReliableChannel) subscribe() error {
	c.mu.Lock()
	topic := c.topic
	c.mu.Unlock()

	sub, err := c.transport.Subscribe(topic, c.handleMessage)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sub = sub
	c.lastInbound = time.Now()
	c.mu.Unlock()

	c.setState(StateConnected)
	return nil
}

func (c *ReliableChannel) handleMessage(msg events.Message) {
	c.mu.Lock()
	c.lastInbound = time.Now()
	c.mu.Unlock()

	id := ContentID([]byte(msg.Topic), []byte(msg.Type), msg.Payload)
	if c.dedup.Seen(id) {
		c.logger.Debug("duplicate message suppressed",
			zap.String("topic", msg.Topic),
			zap.String("type", msg.Type))
		return
	}

	select {
	case c.msgs <- msg:
	case <-c.done:
	default:
		// Consumer is behind; it recovers via a full-snapshot sync.
		c.logger.Warn("inbound buffer full, dropping message",
			zap.String("topic", msg.Topic),
			zap.String("type", msg.Type))
	}
}

// monitor declares the channel stale when no inbound traffic arrives within
// twice the expected heartbeat interval, then drives reconnection.
func (c *ReliableChannel) monitor() {
	interval := c.cfg.HeartbeatInterval / 2
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := c.state == StateConnected &&
				time.Since(c.lastInbound) > 2*c.cfg.HeartbeatInterval
			c.mu.Unlock()

			if !stale {
				continue
			}

			c.logger.Warn("channel stale, reconnecting", zap.String("topic", c.topic))
			if !c.reconnect() {
				return
			}
		}
	}
}

// reconnect runs the unsubscribe / settle / resubscribe sequence under the
// backoff schedule. Returns false when the channel is closed or the attempt
// budget is exhausted.
func (c *ReliableChannel) reconnect() bool {
	c.setState(StateDisconnected)

	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		_ = c.transport.Unsubscribe(sub)
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if !c.sleep(c.BackoffDelay(attempt)) {
			return false
		}
		if !c.sleep(c.cfg.SettleDelay) {
			return false
		}

		if err := c.subscribe(); err != nil {
			c.logger.Warn("resubscribe failed",
				zap.String("topic", c.topic),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		c.logger.Info("channel reconnected",
			zap.String("topic", c.topic),
			zap.Int("attempt", attempt))
		return true
	}

	c.logger.Error("reconnect budget exhausted", zap.String("topic", c.topic))
	c.setState(StateFailed)
	return false
}

// BackoffDelay is the delay before the given 1-based attempt:
// min(base * 2^(attempt-1), cap) plus uniform jitter.
func (c *ReliableChannel) BackoffDelay(attempt int) time.Duration {
	delay := c.baseDelay(attempt)
	if c.cfg.JitterMax > 0 {
		delay += time.Duration(rand.Int63n(int64(c.cfg.JitterMax)))
	}
	return delay
}

func (c *ReliableChannel) baseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := c.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.BackoffCap {
			return c.cfg.BackoffCap
		}
	}
	if delay > c.cfg.BackoffCap {
		return c.cfg.BackoffCap
	}
	return delay
}

func (c *ReliableChannel) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.done:
		return false
	case <-timer.C:
		return true
	}
}

func (c *ReliableChannel) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	select {
	case c.states <- s:
	default:
		// Slow consumer; the latest state is still readable via State().
	}
}
