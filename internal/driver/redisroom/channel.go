// Package redisroom binds the room channel and the shared blob to Redis so
// members in different processes share one session.
package redisroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ex-vellum/pkg/vellum"
)

const (
	// DefaultPrefix namespaces every key and pub/sub channel.
	DefaultPrefix = "vellum:room:"

	defaultBuffer         = 256
	defaultHandlerTimeout = 3 * time.Second
)

// Option mutates channel configuration.
type Option func(*Channel)

// WithPrefix namespaces one room.
func WithPrefix(prefix string) Option {
	return func(channel *Channel) {
		if prefix != "" {
			channel.prefix = prefix
		}
	}
}

// WithMaxPayloadBytes rejects larger publishes with ErrPayloadTooLarge.
func WithMaxPayloadBytes(limit int) Option {
	return func(channel *Channel) {
		channel.maxPayloadBytes = limit
	}
}

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(channel *Channel) {
		if logger != nil {
			channel.logger = logger
		}
	}
}

// Channel is a vellum.RoomChannel over Redis pub/sub.
//
// Delivery is best effort: members that are not subscribed when a message is
// published never see it.
type Channel struct {
	client          redis.UniversalClient
	prefix          string
	maxPayloadBytes int
	logger          *slog.Logger

	mu            sync.Mutex
	closed        bool
	subscriptions map[*subscription]struct{}
}

// NewChannel creates a room channel on client.
func NewChannel(client redis.UniversalClient, opts ...Option) (*Channel, error) {
	if client == nil {
		return nil, fmt.Errorf("new redis room channel: nil client")
	}

	channel := &Channel{
		client:        client,
		prefix:        DefaultPrefix,
		logger:        slog.Default(),
		subscriptions: make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(channel)
	}

	return channel, nil
}

// Publish broadcasts payload to every subscriber of channel.
func (c *Channel) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return fmt.Errorf("publish: %w: empty channel", vellum.ErrInvalidMessage)
	}
	if c.maxPayloadBytes > 0 && len(payload) > c.maxPayloadBytes {
		return fmt.Errorf("publish %s: %d bytes exceeds %d: %w",
			channel, len(payload), c.maxPayloadBytes, vellum.ErrPayloadTooLarge)
	}
	if c.isClosed() {
		return fmt.Errorf("publish %s: %w", channel, vellum.ErrChannelUnavailable)
	}

	if err := c.client.Publish(ctx, c.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w: %w", channel, vellum.ErrChannelUnavailable, err)
	}

	return nil
}

// Subscribe starts delivering messages of spec.Channel to handler.
//
// Messages are handled sequentially in arrival order.
func (c *Channel) Subscribe(
	ctx context.Context,
	spec vellum.SubscriptionSpec,
	handler vellum.MessageHandler,
) (vellum.Subscription, error) {
	if spec.Channel == "" {
		return nil, fmt.Errorf("subscribe: %w: empty channel", vellum.ErrInvalidSubscription)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: %w: nil handler", spec.Channel, vellum.ErrInvalidSubscription)
	}
	if c.isClosed() {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Channel, vellum.ErrChannelUnavailable)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = defaultBuffer
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = defaultHandlerTimeout
	}
	if spec.Name == "" {
		spec.Name = "redis-" + spec.Channel
	}

	pubsub := c.client.Subscribe(ctx, c.prefix+spec.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w: %w", spec.Channel, vellum.ErrChannelUnavailable, err)
	}

	sub := &subscription{
		spec:    spec,
		handler: handler,
		pubsub:  pubsub,
		parent:  c,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", spec.Channel, vellum.ErrChannelUnavailable)
	}
	c.subscriptions[sub] = struct{}{}
	c.mu.Unlock()

	go sub.run(pubsub.Channel(redis.WithChannelSize(spec.Buffer)))

	return sub, nil
}

// Close stops every subscription and rejects further use.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*subscription, 0, len(c.subscriptions))
	for sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subscriptions = make(map[*subscription]struct{})
	c.mu.Unlock()

	var closeErrs []error
	for _, sub := range subs {
		if err := sub.shutdown(ctx); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}
	if len(closeErrs) > 0 {
		return fmt.Errorf("close redis room channel: %w", errors.Join(closeErrs...))
	}

	return nil
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Channel) remove(sub *subscription) {
	c.mu.Lock()
	delete(c.subscriptions, sub)
	c.mu.Unlock()
}

type subscription struct {
	spec    vellum.SubscriptionSpec
	handler vellum.MessageHandler
	pubsub  *redis.PubSub
	parent  *Channel
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) Name() string {
	return s.spec.Name
}

// Close unsubscribes. It must not be called from the subscription's own handler.
func (s *subscription) Close(ctx context.Context) error {
	s.parent.remove(s)

	return s.shutdown(ctx)
}

func (s *subscription) shutdown(ctx context.Context) error {
	var closeErr error
	s.once.Do(func() {
		closeErr = s.pubsub.Close()
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
	if closeErr != nil {
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, closeErr)
	}

	return nil
}

func (s *subscription) run(messages <-chan *redis.Message) {
	defer close(s.done)

	for message := range messages {
		s.handle(vellum.Message{
			Channel:   s.spec.Channel,
			Payload:   []byte(message.Payload),
			Timestamp: time.Now().UTC(),
		})
	}
}

func (s *subscription) handle(message vellum.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.spec.HandlerTimeout)
	defer cancel()

	defer func() {
		if recovered := recover(); recovered != nil {
			s.parent.logger.ErrorContext(ctx, "room handler panic",
				"subscription", s.spec.Name,
				"channel", s.spec.Channel,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := s.handler(ctx, message); err != nil {
		s.parent.logger.WarnContext(ctx, "room handler failed",
			"subscription", s.spec.Name,
			"channel", s.spec.Channel,
			"error", err,
		)
	}
}
