// Package subsetsync keeps members' navigation mirrors in step with the Host.
package subsetsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ex-vellum/internal/distribution"
	"ex-vellum/pkg/vellum"
)

const publishTimeout = 5 * time.Second

// Module publishes the visible subset of the Host's navigation config on every
// change, answers resend requests, and answers full snapshot requests from
// privileged members.
type Module struct {
	navigation vellum.NavigationSource
	identity   vellum.MemberIdentity
	channel    vellum.RoomChannel
	logger     *slog.Logger

	mu            sync.Mutex
	unwatch       func()
	publishedHash string
}

// New creates a subset sync module.
func New() *Module {
	return &Module{logger: slog.Default()}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "subsetsync"
}

// Spec declares resend and snapshot handlers.
func (m *Module) Spec() vellum.ModuleSpec {
	required := []string{vellum.ServiceNavigation, vellum.ServiceMemberIdentity}
	hostOnly := []vellum.Role{vellum.RoleHost}

	return vellum.ModuleSpec{
		Handlers: []vellum.ModuleHandler{
			{
				Capability: vellum.Capability{
					Name:             "subset-resend",
					Description:      "republishes the visible subset on request",
					Channels:         []string{vellum.ChannelSubsetRequest, vellum.ChannelSubsetPublish},
					Roles:            hostOnly,
					RequiredServices: required,
				},
				Subscription: vellum.NewSubscriptionSpec("subsetsync-resend", vellum.ChannelSubsetRequest),
				Handler:      m.handleResend,
			},
			{
				Capability: vellum.Capability{
					Name:             "config-snapshot",
					Description:      "sends the full navigation config to privileged members",
					Channels:         []string{vellum.ChannelSnapshotRequest, vellum.ChannelSnapshotResponse},
					Roles:            hostOnly,
					RequiredServices: required,
				},
				Subscription: vellum.NewSubscriptionSpec("subsetsync-snapshot", vellum.ChannelSnapshotRequest),
				Handler:      m.handleSnapshot,
			},
		},
	}
}

// OnRegister resolves the navigation source and member identity.
func (m *Module) OnRegister(_ context.Context, runtime vellum.ModuleRuntime) error {
	navigation, err := vellum.ResolveAs[vellum.NavigationSource](runtime.Services(), vellum.ServiceNavigation)
	if err != nil {
		return fmt.Errorf("subsetsync resolve navigation: %w", err)
	}
	identity, err := vellum.ResolveAs[vellum.MemberIdentity](runtime.Services(), vellum.ServiceMemberIdentity)
	if err != nil {
		return fmt.Errorf("subsetsync resolve member identity: %w", err)
	}
	if logger, err := vellum.ResolveAs[*slog.Logger](runtime.Services(), vellum.ServiceLogger); err == nil && logger != nil {
		m.logger = logger
	}

	m.navigation = navigation
	m.identity = identity
	m.channel = runtime.Channel()

	return nil
}

// OnStart publishes the current subset and starts watching for changes.
func (m *Module) OnStart(ctx context.Context) error {
	if err := m.publishIfChanged(ctx, m.navigation.Current()); err != nil {
		return fmt.Errorf("subsetsync initial publish: %w", err)
	}

	unwatch := m.navigation.Watch(func(change vellum.NavigationChange) {
		publishCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := m.publishIfChanged(publishCtx, change.Config); err != nil {
			m.logger.WarnContext(publishCtx, "subset publish failed", "error", err)
		}
	})

	m.mu.Lock()
	m.unwatch = unwatch
	m.mu.Unlock()

	return nil
}

// OnShutdown stops watching the navigation source.
func (m *Module) OnShutdown(_ context.Context) error {
	m.mu.Lock()
	unwatch := m.unwatch
	m.unwatch = nil
	m.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}

	return nil
}

// publishIfChanged broadcasts the visible subset of config unless an identical
// subset was already published.
func (m *Module) publishIfChanged(ctx context.Context, config vellum.NavigationConfig) error {
	subset := config.VisibleSubset()
	digest, err := subset.Digest()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if digest == m.publishedHash {
		m.mu.Unlock()
		return nil
	}
	m.publishedHash = digest
	m.mu.Unlock()

	envelope, err := distribution.NewEnvelope(vellum.ChannelSubsetPublish, m.identity, "",
		distribution.SubsetPublish{Digest: digest, Config: subset})
	if err != nil {
		return err
	}
	if err := distribution.Publish(ctx, m.channel, envelope); err != nil {
		m.mu.Lock()
		m.publishedHash = ""
		m.mu.Unlock()
		return err
	}

	m.logger.DebugContext(ctx, "visible subset published", "digest", digest)

	return nil
}

func (m *Module) handleResend(ctx context.Context, message vellum.Message) error {
	request, err := distribution.Decode(message.Payload)
	if err != nil {
		return fmt.Errorf("subsetsync decode resend: %w", err)
	}

	subset := m.navigation.Current().VisibleSubset()
	digest, err := subset.Digest()
	if err != nil {
		return fmt.Errorf("subsetsync resend: %w", err)
	}
	if err := distribution.Reply(ctx, m.channel, m.identity, request, vellum.ChannelSubsetPublish,
		distribution.SubsetPublish{Digest: digest, Config: subset}); err != nil {
		return fmt.Errorf("subsetsync resend: %w", err)
	}

	return nil
}

func (m *Module) handleSnapshot(ctx context.Context, message vellum.Message) error {
	request, err := distribution.Decode(message.Payload)
	if err != nil {
		return fmt.Errorf("subsetsync decode snapshot request: %w", err)
	}
	if !request.SenderRole.SeesFullConfig() {
		m.logger.DebugContext(ctx, "snapshot request ignored",
			"sender", request.Sender,
			"role", string(request.SenderRole),
		)
		return nil
	}

	config := m.navigation.Current()
	digest, err := config.Digest()
	if err != nil {
		return fmt.Errorf("subsetsync snapshot: %w", err)
	}
	if err := distribution.Reply(ctx, m.channel, m.identity, request, vellum.ChannelSnapshotResponse,
		distribution.SnapshotResponse{Digest: digest, Config: config}); err != nil {
		return fmt.Errorf("subsetsync snapshot: %w", err)
	}

	return nil
}
