package kernel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ex-vellum/pkg/vellum"
)

const testChannel = "vellum.test"

func TestRoomBusPublishDeliversChannelSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewRoomBus(8, 1, time.Second, 0, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	received := make(chan vellum.Message, 1)
	other := make(chan vellum.Message, 1)
	if _, err := bus.Subscribe(context.Background(), vellum.NewSubscriptionSpec("match", testChannel),
		func(_ context.Context, message vellum.Message) error {
			received <- message
			return nil
		}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if _, err := bus.Subscribe(context.Background(), vellum.NewSubscriptionSpec("other", "vellum.other"),
		func(_ context.Context, message vellum.Message) error {
			other <- message
			return nil
		}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	payload := []byte("hello")
	if err := bus.Publish(context.Background(), testChannel, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	payload[0] = 'j'

	select {
	case message := <-received:
		if string(message.Payload) != "hello" || message.Channel != testChannel || message.Timestamp.IsZero() {
			t.Fatalf("message = %+v", message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	select {
	case message := <-other:
		t.Fatalf("unexpected delivery on other channel: %+v", message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomBusBackpressurePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policy   vellum.BackpressurePolicy
		wantSeen []string
	}{
		{
			name:     "drop newest keeps queued oldest",
			policy:   vellum.BackpressureDropNewest,
			wantSeen: []string{"m1", "m2"},
		},
		{
			name:     "drop oldest keeps latest",
			policy:   vellum.BackpressureDropOldest,
			wantSeen: []string{"m1", "m3"},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var dropped sync.WaitGroup
			dropped.Add(1)
			var dropOnce sync.Once
			bus := NewRoomBus(1, 1, time.Second, 0, func(_ context.Context, _ string, err error) {
				if errors.Is(err, vellum.ErrMessageDropped) {
					dropOnce.Do(dropped.Done)
				}
			})
			t.Cleanup(func() {
				_ = bus.Close(context.Background())
			})

			release := make(chan struct{})
			blocked := make(chan struct{}, 1)
			processed := make([]string, 0, 3)
			var first sync.Once
			var mu sync.Mutex

			spec := vellum.SubscriptionSpec{
				Name:         "policy",
				Channel:      testChannel,
				Workers:      1,
				Buffer:       1,
				Backpressure: testCase.policy,
			}
			_, err := bus.Subscribe(context.Background(), spec, func(_ context.Context, message vellum.Message) error {
				first.Do(func() {
					blocked <- struct{}{}
					<-release
				})
				mu.Lock()
				processed = append(processed, string(message.Payload))
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			if err := bus.Publish(context.Background(), testChannel, []byte("m1")); err != nil {
				t.Fatalf("publish m1 failed: %v", err)
			}
			select {
			case <-blocked:
			case <-time.After(time.Second):
				t.Fatal("handler did not block as expected")
			}
			for _, payload := range []string{"m2", "m3"} {
				if err := bus.Publish(context.Background(), testChannel, []byte(payload)); err != nil {
					t.Fatalf("publish %s failed: %v", payload, err)
				}
			}

			close(release)
			eventually(t, 2*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(processed) == 2
			})
			if testCase.policy == vellum.BackpressureDropNewest {
				dropped.Wait()
			}

			mu.Lock()
			got := append([]string(nil), processed...)
			mu.Unlock()
			if got[0] != testCase.wantSeen[0] || got[1] != testCase.wantSeen[1] {
				t.Fatalf("processed = %v, want %v", got, testCase.wantSeen)
			}
		})
	}
}

func TestRoomBusRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	bus := NewRoomBus(8, 1, time.Second, 16, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	delivered := make(chan struct{}, 1)
	if _, err := bus.Subscribe(context.Background(), vellum.NewSubscriptionSpec("sink", testChannel),
		func(context.Context, vellum.Message) error {
			delivered <- struct{}{}
			return nil
		}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	err := bus.Publish(context.Background(), testChannel, []byte(strings.Repeat("x", 17)))
	if !errors.Is(err, vellum.ErrPayloadTooLarge) {
		t.Fatalf("publish error = %v, want ErrPayloadTooLarge", err)
	}
	if errors.Is(err, vellum.ErrChannelUnavailable) {
		t.Fatal("payload rejection must be distinct from channel unavailability")
	}

	select {
	case <-delivered:
		t.Fatal("oversized payload was delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomBusCloseMakesChannelUnavailable(t *testing.T) {
	t.Parallel()

	bus := NewRoomBus(8, 1, time.Second, 0, nil)
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := bus.Publish(context.Background(), testChannel, []byte("x")); !errors.Is(err, vellum.ErrChannelUnavailable) {
		t.Fatalf("publish error = %v, want ErrChannelUnavailable", err)
	}
	_, err := bus.Subscribe(context.Background(), vellum.NewSubscriptionSpec("late", testChannel),
		func(context.Context, vellum.Message) error { return nil })
	if !errors.Is(err, vellum.ErrChannelUnavailable) {
		t.Fatalf("subscribe error = %v, want ErrChannelUnavailable", err)
	}
}

func TestRoomBusSubscriptionCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewRoomBus(8, 1, time.Second, 0, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	sub, err := bus.Subscribe(context.Background(), vellum.NewSubscriptionSpec("once", testChannel),
		func(context.Context, vellum.Message) error { return nil })
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if bus.SubscriberCount(testChannel) != 1 {
		t.Fatalf("subscriber count = %d, want 1", bus.SubscriberCount(testChannel))
	}
	if err := sub.Close(context.Background()); err != nil {
		t.Fatalf("close subscription failed: %v", err)
	}
	if bus.SubscriberCount(testChannel) != 0 {
		t.Fatalf("subscriber count after close = %d, want 0", bus.SubscriberCount(testChannel))
	}
}

func TestRoomBusRecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 1)
	bus := NewRoomBus(8, 1, time.Second, 0, func(_ context.Context, _ string, err error) {
		reported <- err
	})
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	if _, err := bus.Subscribe(context.Background(), vellum.NewSubscriptionSpec("panics", testChannel),
		func(context.Context, vellum.Message) error { panic("boom") }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := bus.Publish(context.Background(), testChannel, []byte("x")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case err := <-reported:
		if !strings.Contains(err.Error(), "panic recovered") {
			t.Fatalf("reported error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not reported")
	}
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
