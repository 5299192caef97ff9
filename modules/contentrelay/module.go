// Package contentrelay serves rendered page markup to members without provider
// credentials.
//
// The relay runs on the Host only. It answers a content request once when the
// Rendered-Output Cache holds the page and stays silent otherwise, leaving the
// requester to time out and retry later. Guests are only answered for pages in
// the visible subset.
package contentrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ex-vellum/internal/distribution"
	"ex-vellum/internal/metrics"
	"ex-vellum/pkg/vellum"
)

// Option mutates module configuration.
type Option func(*Module)

// WithMetrics records rejected oversized replies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(module *Module) {
		module.metrics = m
	}
}

// Module answers guest content requests from the Rendered-Output Cache.
type Module struct {
	rendered   vellum.RenderedOutputStore
	navigation vellum.NavigationSource
	identity   vellum.MemberIdentity
	channel    vellum.RoomChannel
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New creates a content relay module.
func New(opts ...Option) *Module {
	module := &Module{logger: slog.Default()}
	for _, opt := range opts {
		opt(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "contentrelay"
}

// Spec declares the content request handler.
func (m *Module) Spec() vellum.ModuleSpec {
	return vellum.ModuleSpec{
		Handlers: []vellum.ModuleHandler{
			{
				Capability: vellum.Capability{
					Name:        "content-relay",
					Description: "answers guest content requests from rendered output",
					Channels:    []string{vellum.ChannelContentRequest, vellum.ChannelContentResponse},
					Roles:       []vellum.Role{vellum.RoleHost},
					RequiredServices: []string{
						vellum.ServiceRenderedOutput,
						vellum.ServiceNavigation,
						vellum.ServiceMemberIdentity,
					},
				},
				Subscription: vellum.NewSubscriptionSpec("contentrelay-requests", vellum.ChannelContentRequest),
				Handler:      m.handleRequest,
			},
		},
	}
}

// OnRegister resolves the rendered output store, navigation and member identity.
func (m *Module) OnRegister(_ context.Context, runtime vellum.ModuleRuntime) error {
	rendered, err := vellum.ResolveAs[vellum.RenderedOutputStore](runtime.Services(), vellum.ServiceRenderedOutput)
	if err != nil {
		return fmt.Errorf("contentrelay resolve rendered output: %w", err)
	}
	navigation, err := vellum.ResolveAs[vellum.NavigationSource](runtime.Services(), vellum.ServiceNavigation)
	if err != nil {
		return fmt.Errorf("contentrelay resolve navigation: %w", err)
	}
	identity, err := vellum.ResolveAs[vellum.MemberIdentity](runtime.Services(), vellum.ServiceMemberIdentity)
	if err != nil {
		return fmt.Errorf("contentrelay resolve member identity: %w", err)
	}
	if logger, err := vellum.ResolveAs[*slog.Logger](runtime.Services(), vellum.ServiceLogger); err == nil && logger != nil {
		m.logger = logger
	}

	m.rendered = rendered
	m.navigation = navigation
	m.identity = identity
	m.channel = runtime.Channel()

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleRequest(ctx context.Context, message vellum.Message) error {
	request, err := distribution.Decode(message.Payload)
	if err != nil {
		return fmt.Errorf("contentrelay decode request: %w", err)
	}
	var body distribution.ContentRequest
	if err := request.DecodeBody(&body); err != nil {
		return fmt.Errorf("contentrelay decode request: %w", err)
	}
	if body.PageID == "" || request.RequestID == "" {
		return nil
	}

	if !m.mayRead(request.SenderRole, body.PageID) {
		m.logger.WarnContext(ctx, "content request for page outside visible subset",
			"page_id", body.PageID,
			"sender", request.Sender,
			"sender_role", string(request.SenderRole),
		)
		return nil
	}

	markup, found := m.rendered.Get(body.PageID)
	if !found {
		m.logger.DebugContext(ctx, "content request for unrendered page",
			"page_id", body.PageID,
			"sender", request.Sender,
		)
		return nil
	}

	err = distribution.Reply(ctx, m.channel, m.identity, request, vellum.ChannelContentResponse,
		distribution.NewContentResponse(body.PageID, markup))
	if errors.Is(err, vellum.ErrPayloadTooLarge) {
		m.metrics.PayloadRejected("channel")
		m.logger.WarnContext(ctx, "rendered page too large to relay",
			"page_id", body.PageID,
			"bytes", len(markup),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("contentrelay reply %s: %w", body.PageID, err)
	}

	return nil
}

// mayRead reports whether a member with role may receive pageID.
func (m *Module) mayRead(role vellum.Role, pageID string) bool {
	if role.SeesFullConfig() {
		return true
	}

	return m.navigation.Current().VisibleSubset().ContainsPage(pageID)
}
