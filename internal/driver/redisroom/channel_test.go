package redisroom

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"ex-vellum/pkg/vellum"
)

func newOfflineClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestChannelRejectsBeforeNetwork(t *testing.T) {
	t.Parallel()

	channel, err := NewChannel(newOfflineClient(t), WithMaxPayloadBytes(8))
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	tests := []struct {
		name    string
		channel string
		payload []byte
		wantErr error
	}{
		{name: "oversized payload", channel: vellum.ChannelContentRequest, payload: []byte("123456789"), wantErr: vellum.ErrPayloadTooLarge},
		{name: "empty channel", payload: []byte("x"), wantErr: vellum.ErrInvalidMessage},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := channel.Publish(context.Background(), testCase.channel, testCase.payload)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("error = %v, want %v", err, testCase.wantErr)
			}
		})
	}
}

func TestChannelUnreachableIsUnavailable(t *testing.T) {
	t.Parallel()

	channel, err := NewChannel(newOfflineClient(t))
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	err = channel.Publish(context.Background(), vellum.ChannelContentRequest, []byte("x"))
	if !errors.Is(err, vellum.ErrChannelUnavailable) {
		t.Fatalf("error = %v, want ErrChannelUnavailable", err)
	}
	if errors.Is(err, vellum.ErrPayloadTooLarge) {
		t.Fatal("unavailability must be distinct from oversize")
	}
}

func TestClosedChannelRejectsUse(t *testing.T) {
	t.Parallel()

	channel, err := NewChannel(newOfflineClient(t))
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if err := channel.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := channel.Publish(context.Background(), vellum.ChannelContentRequest, []byte("x")); !errors.Is(err, vellum.ErrChannelUnavailable) {
		t.Fatalf("publish error = %v, want ErrChannelUnavailable", err)
	}
	_, err = channel.Subscribe(context.Background(), vellum.NewSubscriptionSpec("s", vellum.ChannelContentRequest),
		func(context.Context, vellum.Message) error { return nil })
	if !errors.Is(err, vellum.ErrChannelUnavailable) {
		t.Fatalf("subscribe error = %v, want ErrChannelUnavailable", err)
	}
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewChannel(nil); err == nil {
		t.Fatal("expected channel error")
	}
	if _, err := NewBlob(nil); err == nil {
		t.Fatal("expected blob error")
	}
}
