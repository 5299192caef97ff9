package distribution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ex-vellum/pkg/vellum"
)

func testFullConfig() vellum.NavigationConfig {
	return vellum.NavigationConfig{Categories: []vellum.Category{
		{
			ID: "public", Name: "Public", VisibleToGuests: true,
			Pages: []vellum.PageRef{
				{ID: "p1", Title: "Welcome", VisibleToGuests: true},
				{ID: "p2", Title: "Draft"},
			},
		},
		{ID: "staff", Name: "Staff", Pages: []vellum.PageRef{{ID: "p3", Title: "Runbook"}}},
	}}
}

func publishSubset(t *testing.T, room vellum.RoomChannel, config vellum.NavigationConfig) {
	t.Helper()

	digest, err := config.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	envelope, err := NewEnvelope(vellum.ChannelSubsetPublish, vellum.MemberIdentity{MemberID: "host-1", Role: vellum.RoleHost},
		"", SubsetPublish{Digest: digest, Config: config})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := Publish(context.Background(), room, envelope); err != nil {
		t.Fatalf("publish subset: %v", err)
	}
}

func TestSubsetMirrorAppliesPublications(t *testing.T) {
	t.Parallel()

	room := newTestRoom(t)
	mirror, err := NewSubsetMirror(context.Background(), newTestRequester(t, room, vellum.RoleGuest, time.Second), nil)
	if err != nil {
		t.Fatalf("new subset mirror: %v", err)
	}
	t.Cleanup(func() { _ = mirror.Close(context.Background()) })

	changes := make(chan vellum.NavigationChange, 4)
	unwatch := mirror.Watch(func(change vellum.NavigationChange) { changes <- change })
	defer unwatch()

	subset := testFullConfig().VisibleSubset()
	publishSubset(t, room, subset)
	publishSubset(t, room, subset)

	select {
	case change := <-changes:
		if diff := cmp.Diff(subset, change.Config); diff != "" {
			t.Fatalf("applied config mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("subset was not applied")
	}

	eventually(t, time.Second, func() bool { return mirror.Digest() != "" })
	select {
	case change := <-changes:
		t.Fatalf("duplicate publication applied twice: %+v", change)
	case <-time.After(50 * time.Millisecond):
	}
	if mirror.Current().ContainsPage("p2") || mirror.Current().ContainsPage("p3") {
		t.Fatal("mirror holds hidden pages")
	}
}

func TestSubsetResendWithoutHostReturnsEmpty(t *testing.T) {
	t.Parallel()

	room := newTestRoom(t)
	mirror, err := NewSubsetMirror(context.Background(), newTestRequester(t, room, vellum.RoleGuest, 30*time.Millisecond), nil)
	if err != nil {
		t.Fatalf("new subset mirror: %v", err)
	}
	t.Cleanup(func() { _ = mirror.Close(context.Background()) })

	config, err := mirror.RequestResend(context.Background())
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if len(config.Categories) != 0 {
		t.Fatalf("config = %+v, want empty", config)
	}
}

func TestSubsetResendAppliesHostAnswer(t *testing.T) {
	t.Parallel()

	room := newTestRoom(t)
	subset := testFullConfig().VisibleSubset()
	host := vellum.MemberIdentity{MemberID: "host-1", Role: vellum.RoleHost}
	subscription, err := room.Subscribe(context.Background(),
		vellum.NewSubscriptionSpec("test-subset-host", vellum.ChannelSubsetRequest),
		func(ctx context.Context, message vellum.Message) error {
			request, err := Decode(message.Payload)
			if err != nil {
				return err
			}
			return Reply(ctx, room, host, request, vellum.ChannelSubsetPublish, SubsetPublish{Config: subset})
		},
	)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = subscription.Close(context.Background()) })

	mirror, err := NewSubsetMirror(context.Background(), newTestRequester(t, room, vellum.RoleGuest, time.Second), nil)
	if err != nil {
		t.Fatalf("new subset mirror: %v", err)
	}
	t.Cleanup(func() { _ = mirror.Close(context.Background()) })

	config, err := mirror.RequestResend(context.Background())
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if !config.ContainsPage("p1") {
		t.Fatalf("config = %+v, want p1", config)
	}
}

func TestRequestSnapshot(t *testing.T) {
	t.Parallel()

	room := newTestRoom(t)
	full := testFullConfig()
	host := vellum.MemberIdentity{MemberID: "host-1", Role: vellum.RoleHost}
	subscription, err := room.Subscribe(context.Background(),
		vellum.NewSubscriptionSpec("test-snapshot-host", vellum.ChannelSnapshotRequest),
		func(ctx context.Context, message vellum.Message) error {
			request, err := Decode(message.Payload)
			if err != nil {
				return err
			}
			if !request.SenderRole.SeesFullConfig() {
				return nil
			}
			return Reply(ctx, room, host, request, vellum.ChannelSnapshotResponse, SnapshotResponse{Config: full})
		},
	)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = subscription.Close(context.Background()) })

	t.Run("privileged peer receives full config", func(t *testing.T) {
		config, err := RequestSnapshot(context.Background(), newTestRequester(t, room, vellum.RolePrivilegedPeer, time.Second))
		if err != nil {
			t.Fatalf("snapshot failed: %v", err)
		}
		if diff := cmp.Diff(full, config); diff != "" {
			t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("guest is refused locally", func(t *testing.T) {
		_, err := RequestSnapshot(context.Background(), newTestRequester(t, room, vellum.RoleGuest, time.Second))
		if !errors.Is(err, vellum.ErrRoleNotPermitted) {
			t.Fatalf("error = %v, want ErrRoleNotPermitted", err)
		}
	})
}

func TestRequestSnapshotTimesOutWithoutHost(t *testing.T) {
	t.Parallel()

	room := newTestRoom(t)
	_, err := RequestSnapshot(context.Background(), newTestRequester(t, room, vellum.RolePrivilegedPeer, 30*time.Millisecond))
	if !errors.Is(err, vellum.ErrDistributionTimeout) {
		t.Fatalf("error = %v, want ErrDistributionTimeout", err)
	}
}
