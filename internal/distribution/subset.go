package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ex-vellum/pkg/vellum"
)

// SubsetMirror keeps the latest visible subset the Host published.
//
// It implements vellum.NavigationSource for members without the full config.
type SubsetMirror struct {
	requester    *Requester
	logger       *slog.Logger
	subscription vellum.Subscription

	mu       sync.RWMutex
	current  vellum.NavigationConfig
	digest   string
	nextID   int
	watchers map[int]func(vellum.NavigationChange)
}

// NewSubsetMirror subscribes to subset publications on the requester's channel.
func NewSubsetMirror(ctx context.Context, requester *Requester, logger *slog.Logger) (*SubsetMirror, error) {
	if requester == nil {
		return nil, fmt.Errorf("new subset mirror: nil requester")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mirror := &SubsetMirror{
		requester: requester,
		logger:    logger,
		watchers:  make(map[int]func(vellum.NavigationChange)),
	}

	spec := vellum.NewSubscriptionSpec("subset-mirror", vellum.ChannelSubsetPublish)
	spec.Backpressure = vellum.BackpressureDropOldest
	subscription, err := requester.channel.Subscribe(ctx, spec, mirror.handlePublish)
	if err != nil {
		return nil, fmt.Errorf("new subset mirror: %w", err)
	}
	mirror.subscription = subscription

	return mirror, nil
}

// Current returns the latest applied subset.
func (m *SubsetMirror) Current() vellum.NavigationConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current.Clone()
}

// Digest returns the digest of the latest applied subset.
func (m *SubsetMirror) Digest() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.digest
}

// Watch registers fn for every applied change.
func (m *SubsetMirror) Watch(fn func(change vellum.NavigationChange)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// Close stops receiving publications.
func (m *SubsetMirror) Close(ctx context.Context) error {
	if err := m.subscription.Close(ctx); err != nil {
		return fmt.Errorf("close subset mirror: %w", err)
	}

	return nil
}

// RequestResend asks the Host to republish its subset and applies the answer.
//
// Silence is not an error: the mirror keeps whatever it had, which is empty
// when nothing was ever published.
func (m *SubsetMirror) RequestResend(ctx context.Context) (vellum.NavigationConfig, error) {
	reply, err := m.requester.Request(ctx, vellum.ChannelSubsetRequest, vellum.ChannelSubsetPublish, SubsetRequest{})
	if errors.Is(err, vellum.ErrDistributionTimeout) {
		m.logger.DebugContext(ctx, "subset resend unanswered")
		return m.Current(), nil
	}
	if err != nil {
		return vellum.NavigationConfig{}, fmt.Errorf("request subset resend: %w", err)
	}

	var publish SubsetPublish
	if err := reply.DecodeBody(&publish); err != nil {
		return vellum.NavigationConfig{}, fmt.Errorf("request subset resend: %w", err)
	}
	if err := m.apply(ctx, publish.Config); err != nil {
		return vellum.NavigationConfig{}, fmt.Errorf("request subset resend: %w", err)
	}

	return m.Current(), nil
}

func (m *SubsetMirror) handlePublish(ctx context.Context, message vellum.Message) error {
	envelope, err := Decode(message.Payload)
	if err != nil {
		return err
	}
	// Replies to a resend are applied by RequestResend as well; apply is idempotent.
	var publish SubsetPublish
	if err := envelope.DecodeBody(&publish); err != nil {
		return err
	}

	return m.apply(ctx, publish.Config)
}

// apply installs config unless its digest matches the current one.
func (m *SubsetMirror) apply(ctx context.Context, config vellum.NavigationConfig) error {
	digest, err := config.Digest()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if digest == m.digest {
		m.mu.Unlock()
		return nil
	}
	m.current = config.Clone()
	m.digest = digest
	watchers := make([]func(vellum.NavigationChange), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "navigation subset applied", "digest", digest)
	for _, fn := range watchers {
		fn(vellum.NavigationChange{Config: config.Clone(), Digest: digest})
	}

	return nil
}

// RequestSnapshot asks the Host for its full configuration.
//
// Only Host and Privileged Peer members may ask; the Host also refuses to
// answer anyone else.
func RequestSnapshot(ctx context.Context, requester *Requester) (vellum.NavigationConfig, error) {
	role := requester.Identity().Role
	if !role.SeesFullConfig() {
		return vellum.NavigationConfig{}, fmt.Errorf("request snapshot as %s: %w", role, vellum.ErrRoleNotPermitted)
	}

	reply, err := requester.Request(ctx, vellum.ChannelSnapshotRequest, vellum.ChannelSnapshotResponse, SnapshotRequest{})
	if err != nil {
		return vellum.NavigationConfig{}, fmt.Errorf("request snapshot: %w", err)
	}

	var response SnapshotResponse
	if err := reply.DecodeBody(&response); err != nil {
		return vellum.NavigationConfig{}, fmt.Errorf("request snapshot: %w", err)
	}
	if err := response.Config.Validate(); err != nil {
		return vellum.NavigationConfig{}, fmt.Errorf("request snapshot: %w: %w", vellum.ErrInvalidMessage, err)
	}

	return response.Config, nil
}
