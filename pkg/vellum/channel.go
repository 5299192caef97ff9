package vellum

import (
	"context"
	"time"
)

// Distribution channel names shared by every member of a session.
const (
	ChannelContentRequest   = "vellum.content.request"
	ChannelContentResponse  = "vellum.content.response"
	ChannelSubsetPublish    = "vellum.subset.publish"
	ChannelSubsetRequest    = "vellum.subset.request"
	ChannelSnapshotRequest  = "vellum.snapshot.request"
	ChannelSnapshotResponse = "vellum.snapshot.response"
)

// BackpressurePolicy defines how queues behave when subscriber buffers are full.
type BackpressurePolicy string

const (
	// BackpressureDropNewest drops the incoming message when full.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest evicts the oldest queued message before enqueue.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock blocks until queue space is available or context is canceled.
	BackpressureBlock BackpressurePolicy = "block"
)

// Message is one distribution message as delivered on the wire.
//
// Messages are ephemeral and never persisted.
type Message struct {
	Channel   string
	Payload   []byte
	Timestamp time.Time
}

// MessageHandler processes one delivered message.
type MessageHandler func(ctx context.Context, message Message) error

// SubscriptionSpec configures a single channel subscription.
type SubscriptionSpec struct {
	Name           string
	Channel        string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

// Subscription controls an active channel registration. Closing it is the
// unsubscribe operation.
type Subscription interface {
	// Name returns the subscription identifier.
	Name() string
	// Close stops delivery for this subscription.
	Close(ctx context.Context) error
}

// RoomChannel is the best-effort, size-limited broadcast channel shared by the session.
type RoomChannel interface {
	// Publish broadcasts payload on channel.
	//
	// It returns ErrPayloadTooLarge when payload exceeds the channel limit and
	// ErrChannelUnavailable when the transport cannot accept the message.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers handler for messages published on spec.Channel.
	Subscribe(ctx context.Context, spec SubscriptionSpec, handler MessageHandler) (Subscription, error)
}

// NewSubscriptionSpec returns a subscription spec with runtime defaults for channel.
func NewSubscriptionSpec(name string, channel string) SubscriptionSpec {
	return SubscriptionSpec{
		Name:         name,
		Channel:      channel,
		Backpressure: BackpressureDropNewest,
	}
}
