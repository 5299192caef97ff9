package subsetsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"ex-vellum/internal/distribution"
	"ex-vellum/internal/kernel"
	"ex-vellum/internal/navigation"
	"ex-vellum/pkg/vellum"
)

func testConfig() vellum.NavigationConfig {
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

func TestModulePublishesSubsetOnChange(t *testing.T) {
	t.Parallel()

	store, err := navigation.NewStore(testConfig())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	room := kernel.NewRoomBus(16, 1, time.Second, 0, nil)
	t.Cleanup(func() { _ = room.Close(context.Background()) })

	guest := newRequester(t, room, vellum.RoleGuest, time.Second)
	mirror, err := distribution.NewSubsetMirror(context.Background(), guest, nil)
	if err != nil {
		t.Fatalf("new subset mirror: %v", err)
	}
	t.Cleanup(func() { _ = mirror.Close(context.Background()) })

	startHost(t, room, store)

	eventually(t, func() bool { return mirror.Current().ContainsPage("p1") })
	if mirror.Current().ContainsPage("p2") || mirror.Current().ContainsPage("p3") {
		t.Fatal("guest mirror received hidden pages")
	}

	next := store.Current()
	next.Categories[0].Pages[1].VisibleToGuests = true
	if _, err := store.Set(next); err != nil {
		t.Fatalf("set config: %v", err)
	}
	eventually(t, func() bool { return mirror.Current().ContainsPage("p2") })
}

func TestModuleAnswersResend(t *testing.T) {
	t.Parallel()

	store, err := navigation.NewStore(testConfig())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	room := kernel.NewRoomBus(16, 1, time.Second, 0, nil)
	t.Cleanup(func() { _ = room.Close(context.Background()) })
	startHost(t, room, store)

	mirror, err := distribution.NewSubsetMirror(context.Background(), newRequester(t, room, vellum.RoleGuest, time.Second), nil)
	if err != nil {
		t.Fatalf("new subset mirror: %v", err)
	}
	t.Cleanup(func() { _ = mirror.Close(context.Background()) })

	config, err := mirror.RequestResend(context.Background())
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if !config.ContainsPage("p1") || config.ContainsPage("p3") {
		t.Fatalf("resent config = %+v", config)
	}
}

func TestModuleSnapshotOnlyForPrivilegedMembers(t *testing.T) {
	t.Parallel()

	store, err := navigation.NewStore(testConfig())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	room := kernel.NewRoomBus(16, 1, time.Second, 0, nil)
	t.Cleanup(func() { _ = room.Close(context.Background()) })
	startHost(t, room, store)

	config, err := distribution.RequestSnapshot(context.Background(), newRequester(t, room, vellum.RolePrivilegedPeer, time.Second))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !config.ContainsPage("p3") {
		t.Fatalf("snapshot is missing hidden pages: %+v", config)
	}

	// A guest that forges around the local role check is still ignored by the Host.
	guest := newRequester(t, room, vellum.RoleGuest, 50*time.Millisecond)
	_, err = guest.Request(context.Background(), vellum.ChannelSnapshotRequest, vellum.ChannelSnapshotResponse,
		distribution.SnapshotRequest{})
	if !errors.Is(err, vellum.ErrDistributionTimeout) {
		t.Fatalf("guest snapshot error = %v, want ErrDistributionTimeout", err)
	}
}

func startHost(t *testing.T, room *kernel.RoomBus, store *navigation.Store) {
	t.Helper()

	k := kernel.New(
		kernel.WithRoomChannel(room),
		kernel.WithMemberIdentity(vellum.MemberIdentity{MemberID: "host-1", Role: vellum.RoleHost}),
	)
	if err := k.RegisterService(vellum.ServiceNavigation, store); err != nil {
		t.Fatalf("register navigation: %v", err)
	}
	if err := k.RegisterModule(context.Background(), New()); err != nil {
		t.Fatalf("register module: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- k.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newRequester(t *testing.T, room vellum.RoomChannel, role vellum.Role, timeout time.Duration) *distribution.Requester {
	t.Helper()

	requester, err := distribution.NewRequester(room, vellum.MemberIdentity{MemberID: string(role) + "-1", Role: role},
		distribution.WithTimeout(timeout))
	if err != nil {
		t.Fatalf("new requester: %v", err)
	}

	return requester
}

func eventually(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
