package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ex-vellum/pkg/vellum"
)

// RoomBus is the in-process room channel: channel-keyed asynchronous pub/sub
// with bounded per-subscriber queues and a payload size limit.
type RoomBus struct {
	mu                    sync.RWMutex
	nextID                int64
	closed                bool
	subscriptions         map[int64]*busSubscription
	defaultBuffer         int
	defaultWorkers        int
	defaultHandlerTimeout time.Duration
	maxPayloadBytes       int
	onAsyncError          func(context.Context, string, error)
}

// NewRoomBus creates an in-process room bus. maxPayloadBytes <= 0 disables the size limit.
func NewRoomBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	maxPayloadBytes int,
	onAsyncError func(context.Context, string, error),
) *RoomBus {
	return &RoomBus{
		subscriptions:         make(map[int64]*busSubscription),
		defaultBuffer:         defaultBuffer,
		defaultWorkers:        defaultWorkers,
		defaultHandlerTimeout: defaultHandlerTimeout,
		maxPayloadBytes:       maxPayloadBytes,
		onAsyncError:          onAsyncError,
	}
}

// Publish dispatches payload to every subscriber of channel.
//
// Oversized payloads fail with ErrPayloadTooLarge before any delivery; a
// closed bus fails with ErrChannelUnavailable. Per-subscriber drops are
// reported to the async error sink and do not fail the publish.
func (b *RoomBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return fmt.Errorf("publish: %w: empty channel", vellum.ErrInvalidMessage)
	}
	if b.maxPayloadBytes > 0 && len(payload) > b.maxPayloadBytes {
		return fmt.Errorf("publish %s: %d bytes exceeds %d: %w",
			channel, len(payload), b.maxPayloadBytes, vellum.ErrPayloadTooLarge)
	}

	subs, err := b.snapshotSubscriptions(channel)
	if err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}

	message := vellum.Message{
		Channel:   channel,
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}

	var publishErrs []error
	for _, sub := range subs {
		if err := sub.enqueue(ctx, message); err != nil {
			if errors.Is(err, vellum.ErrMessageDropped) || errors.Is(err, vellum.ErrSubscriptionClosed) {
				b.reportAsyncError(ctx, sub.spec.Name, err)
				continue
			}
			publishErrs = append(publishErrs, err)
		}
	}

	if len(publishErrs) > 0 {
		return fmt.Errorf("publish %s: %w", channel, errors.Join(publishErrs...))
	}

	return nil
}

// Subscribe registers a bounded asynchronous consumer of spec.Channel.
func (b *RoomBus) Subscribe(
	ctx context.Context,
	spec vellum.SubscriptionSpec,
	handler vellum.MessageHandler,
) (vellum.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}
	if spec.Channel == "" {
		return nil, fmt.Errorf("subscribe %s: %w: empty channel", spec.Name, vellum.ErrInvalidSubscription)
	}

	subID := atomic.AddInt64(&b.nextID, 1)
	spec = b.normalizeSpec(spec, subID)
	sub := newBusSubscription(subID, spec, handler, b)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.signalClose()
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, vellum.ErrChannelUnavailable)
	}
	b.subscriptions[subID] = sub

	return sub, nil
}

// Close stops all active subscriptions and rejects further publishes and subscribes.
func (b *RoomBus) Close(ctx context.Context) error {
	subs := make([]*busSubscription, 0)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[int64]*busSubscription)
	b.mu.Unlock()

	var closeErrs []error
	for _, sub := range subs {
		if err := sub.shutdown(ctx); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}

	if len(closeErrs) > 0 {
		return fmt.Errorf("close room bus: %w", errors.Join(closeErrs...))
	}

	return nil
}

// SubscriberCount returns the number of active subscriptions on channel.
func (b *RoomBus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, sub := range b.subscriptions {
		if sub.spec.Channel == channel {
			count++
		}
	}

	return count
}

// snapshotSubscriptions returns a stable copy of channel subscribers for
// lock-free fan-out. It fails when the bus is closed.
func (b *RoomBus) snapshotSubscriptions(channel string) ([]*busSubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, vellum.ErrChannelUnavailable
	}

	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.spec.Channel == channel {
			subs = append(subs, sub)
		}
	}

	return subs, nil
}

// normalizeSpec applies runtime defaults when callers omit optional fields.
func (b *RoomBus) normalizeSpec(spec vellum.SubscriptionSpec, subID int64) vellum.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", subID)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaultBuffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaultWorkers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaultHandlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = vellum.BackpressureDropNewest
	}

	return spec
}

// unsubscribe removes and shuts down a subscription by id.
func (b *RoomBus) unsubscribe(ctx context.Context, subID int64) error {
	b.mu.Lock()
	sub, found := b.subscriptions[subID]
	if found {
		delete(b.subscriptions, subID)
	}
	b.mu.Unlock()

	if !found {
		return nil
	}

	if err := sub.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

func (b *RoomBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

// busSubscription owns queueing and worker lifecycle for a single subscriber.
// Queue closure is driven by context cancellation rather than channel close.
type busSubscription struct {
	id      int64
	spec    vellum.SubscriptionSpec
	handler vellum.MessageHandler
	queue   chan vellum.Message
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
	bus     *RoomBus
}

func newBusSubscription(
	subID int64,
	spec vellum.SubscriptionSpec,
	handler vellum.MessageHandler,
	bus *RoomBus,
) *busSubscription {
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &busSubscription{
		id:      subID,
		spec:    spec,
		handler: handler,
		queue:   make(chan vellum.Message, spec.Buffer),
		ctx:     subCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		bus:     bus,
	}

	sub.startWorkers()

	return sub
}

// Name returns the stable subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close unregisters this subscription from its parent bus. It must not be
// called from the subscription's own handler.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

// enqueue applies the configured backpressure policy for the subscriber queue.
func (s *busSubscription) enqueue(ctx context.Context, message vellum.Message) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, vellum.ErrSubscriptionClosed)
	}

	switch s.spec.Backpressure {
	case vellum.BackpressureDropNewest:
		return s.enqueueDropNewest(message)
	case vellum.BackpressureDropOldest:
		return s.enqueueDropOldest(message)
	case vellum.BackpressureBlock:
		return s.enqueueBlock(ctx, message)
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, vellum.ErrInvalidSubscription)
	}
}

func (s *busSubscription) enqueueDropNewest(message vellum.Message) error {
	select {
	case s.queue <- message:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, vellum.ErrMessageDropped)
	}
}

// enqueueDropOldest evicts one queued message before enqueueing the new one.
func (s *busSubscription) enqueueDropOldest(message vellum.Message) error {
	select {
	case s.queue <- message:
		return nil
	default:
	}

	select {
	case <-s.queue:
	default:
	}

	select {
	case s.queue <- message:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, vellum.ErrMessageDropped)
	}
}

func (s *busSubscription) enqueueBlock(ctx context.Context, message vellum.Message) error {
	select {
	case s.queue <- message:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
	case <-s.ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, vellum.ErrSubscriptionClosed)
	}
}

// startWorkers launches worker goroutines and closes done after all workers exit.
func (s *busSubscription) startWorkers() {
	workerWG := &sync.WaitGroup{}
	for workerID := range s.spec.Workers {
		workerWG.Add(1)
		go s.runWorker(workerWG, workerID)
	}

	go func() {
		workerWG.Wait()
		close(s.done)
	}()
}

// runWorker drains the queue until subscription context cancellation.
// Every handler failure is routed to the async error sink.
func (s *busSubscription) runWorker(workerWG *sync.WaitGroup, workerID int) {
	defer workerWG.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case message := <-s.queue:
			if err := s.handleMessage(s.ctx, workerID, message); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

// handleMessage executes one handler call with optional timeout and panic recovery.
func (s *busSubscription) handleMessage(ctx context.Context, workerID int, message vellum.Message) error {
	handlerCtx := ctx
	cancel := func() {}
	if s.spec.HandlerTimeout > 0 {
		handlerCtx, cancel = context.WithTimeout(ctx, s.spec.HandlerTimeout)
	}
	defer cancel()

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, workerID)
	if err := runSafely(scope, func() error {
		return s.handler(handlerCtx, message)
	}); err != nil {
		return fmt.Errorf("%s handle %s: %w", scope, message.Channel, err)
	}

	return nil
}

// signalClose marks the subscription closed exactly once and cancels workers.
func (s *busSubscription) signalClose() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// shutdown waits for worker exit or returns when the supplied context expires.
func (s *busSubscription) shutdown(ctx context.Context) error {
	s.signalClose()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
