package distribution

import (
	"context"
	"testing"
	"time"

	"ex-vellum/internal/kernel"
	"ex-vellum/pkg/vellum"
)

func newTestRoom(t *testing.T) *kernel.RoomBus {
	t.Helper()

	room := kernel.NewRoomBus(16, 1, time.Second, 64*1024, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := room.Close(ctx); err != nil {
			t.Errorf("close room: %v", err)
		}
	})

	return room
}

func newTestRequester(t *testing.T, room vellum.RoomChannel, role vellum.Role, timeout time.Duration) *Requester {
	t.Helper()

	requester, err := NewRequester(room, vellum.MemberIdentity{MemberID: string(role) + "-1", Role: role}, WithTimeout(timeout))
	if err != nil {
		t.Fatalf("new requester: %v", err)
	}

	return requester
}

// serveContent answers content requests from lookup until the test ends.
func serveContent(t *testing.T, room vellum.RoomChannel, lookup func(pageID string) (string, bool)) {
	t.Helper()

	host := vellum.MemberIdentity{MemberID: "host-1", Role: vellum.RoleHost}
	subscription, err := room.Subscribe(context.Background(),
		vellum.NewSubscriptionSpec("test-content-host", vellum.ChannelContentRequest),
		func(ctx context.Context, message vellum.Message) error {
			request, err := Decode(message.Payload)
			if err != nil {
				return err
			}
			var body ContentRequest
			if err := request.DecodeBody(&body); err != nil {
				return err
			}
			markup, found := lookup(body.PageID)
			if !found {
				return nil
			}
			return Reply(ctx, room, host, request, vellum.ChannelContentResponse, NewContentResponse(body.PageID, markup))
		},
	)
	if err != nil {
		t.Fatalf("subscribe content host: %v", err)
	}
	t.Cleanup(func() {
		_ = subscription.Close(context.Background())
	})
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
