package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ex-vellum/internal/metrics"
	"ex-vellum/pkg/vellum"
)

// DefaultRequestTimeout bounds every request/response wait.
const DefaultRequestTimeout = 5 * time.Second

const unsubscribeTimeout = time.Second

// RequesterOption mutates requester configuration.
type RequesterOption func(*Requester)

// WithTimeout sets the fixed response wait.
func WithTimeout(timeout time.Duration) RequesterOption {
	return func(requester *Requester) {
		if timeout > 0 {
			requester.timeout = timeout
		}
	}
}

// WithRequesterLogger injects a logger.
func WithRequesterLogger(logger *slog.Logger) RequesterOption {
	return func(requester *Requester) {
		if logger != nil {
			requester.logger = logger
		}
	}
}

// WithRequesterMetrics records request outcomes.
func WithRequesterMetrics(m *metrics.Metrics) RequesterOption {
	return func(requester *Requester) {
		requester.metrics = m
	}
}

// Requester performs one-shot request/response exchanges over a room channel.
//
// Each exchange owns a private subscription that is removed on the first
// matching reply or on expiry, so repeated requests never accumulate listeners.
type Requester struct {
	channel  vellum.RoomChannel
	identity vellum.MemberIdentity
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRequester creates a requester publishing as identity.
func NewRequester(channel vellum.RoomChannel, identity vellum.MemberIdentity, opts ...RequesterOption) (*Requester, error) {
	if channel == nil {
		return nil, fmt.Errorf("new requester: nil room channel")
	}

	requester := &Requester{
		channel:  channel,
		identity: identity,
		timeout:  DefaultRequestTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(requester)
	}

	return requester, nil
}

// Timeout returns the configured response wait.
func (r *Requester) Timeout() time.Duration {
	return r.timeout
}

// Identity returns the member identity requests are sent as.
func (r *Requester) Identity() vellum.MemberIdentity {
	return r.identity
}

// Request publishes body on requestChannel and waits for the first envelope on
// responseChannel carrying the same request id.
//
// Expiry returns ErrDistributionTimeout no earlier than the configured timeout.
func (r *Requester) Request(ctx context.Context, requestChannel string, responseChannel string, body any) (Envelope, error) {
	requestID := uuid.NewString()
	envelope, err := NewEnvelope(requestChannel, r.identity, requestID, body)
	if err != nil {
		return Envelope{}, fmt.Errorf("request %s: %w", requestChannel, err)
	}
	payload, err := Encode(envelope)
	if err != nil {
		return Envelope{}, fmt.Errorf("request %s: %w", requestChannel, err)
	}

	replies := make(chan Envelope, 1)
	spec := vellum.SubscriptionSpec{
		Name:         "request-" + requestID,
		Channel:      responseChannel,
		Buffer:       8,
		Workers:      1,
		Backpressure: vellum.BackpressureDropOldest,
	}
	subscription, err := r.channel.Subscribe(ctx, spec, func(_ context.Context, message vellum.Message) error {
		reply, err := Decode(message.Payload)
		if err != nil {
			return err
		}
		if reply.RequestID != requestID {
			return nil
		}
		select {
		case replies <- reply:
		default:
		}
		return nil
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("request %s: subscribe %s: %w", requestChannel, responseChannel, err)
	}
	defer r.unsubscribe(ctx, subscription)

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	if err := r.channel.Publish(ctx, requestChannel, payload); err != nil {
		r.metrics.DistributionRequest(requestChannel, metrics.OutcomeFailed)
		if errors.Is(err, vellum.ErrPayloadTooLarge) {
			r.metrics.PayloadRejected("channel")
		}
		return Envelope{}, fmt.Errorf("request %s: %w", requestChannel, err)
	}

	select {
	case reply := <-replies:
		r.metrics.DistributionRequest(requestChannel, metrics.OutcomeFulfilled)
		return reply, nil
	case <-timer.C:
		r.metrics.DistributionRequest(requestChannel, metrics.OutcomeTimedOut)
		r.logger.DebugContext(ctx, "distribution request timed out",
			"channel", requestChannel,
			"request_id", requestID,
			"timeout", r.timeout,
		)
		return Envelope{}, fmt.Errorf("request %s %s: %w", requestChannel, requestID, vellum.ErrDistributionTimeout)
	case <-ctx.Done():
		return Envelope{}, fmt.Errorf("request %s: %w", requestChannel, ctx.Err())
	}
}

func (r *Requester) unsubscribe(ctx context.Context, subscription vellum.Subscription) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unsubscribeTimeout)
	defer cancel()

	if err := subscription.Close(closeCtx); err != nil {
		r.logger.WarnContext(ctx, "distribution request unsubscribe failed",
			"subscription", subscription.Name(),
			"error", err,
		)
	}
}

// Reply publishes body on channel as the answer to request.
func Reply(
	ctx context.Context,
	channel vellum.RoomChannel,
	sender vellum.MemberIdentity,
	request Envelope,
	responseChannel string,
	body any,
) error {
	envelope, err := NewEnvelope(responseChannel, sender, request.RequestID, body)
	if err != nil {
		return fmt.Errorf("reply %s: %w", responseChannel, err)
	}

	return Publish(ctx, channel, envelope)
}

// Publish encodes and broadcasts envelope on its channel.
func Publish(ctx context.Context, channel vellum.RoomChannel, envelope Envelope) error {
	payload, err := Encode(envelope)
	if err != nil {
		return fmt.Errorf("publish %s: %w", envelope.Channel, err)
	}
	if err := channel.Publish(ctx, envelope.Channel, payload); err != nil {
		return fmt.Errorf("publish %s: %w", envelope.Channel, err)
	}

	return nil
}
