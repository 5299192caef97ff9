package kernel

import (
	"context"
	"log/slog"
	"time"

	"ex-vellum/pkg/vellum"
)

const (
	defaultModuleHookTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// BusLimits bounds the in-process room bus the kernel creates when no
// external room channel is injected. Zero fields keep their defaults.
type BusLimits struct {
	// QueueDepth is the default per-subscription queue capacity.
	QueueDepth int
	// Workers is the default number of handler goroutines per subscription.
	Workers int
	// HandlerTimeout bounds one handler invocation.
	HandlerTimeout time.Duration
	// MaxPayloadBytes rejects larger publishes with ErrPayloadTooLarge.
	MaxPayloadBytes int
}

// DefaultBusLimits returns the limits used for a kernel-owned room bus.
func DefaultBusLimits() BusLimits {
	return BusLimits{
		QueueDepth:      256,
		Workers:         1,
		HandlerTimeout:  3 * time.Second,
		MaxPayloadBytes: 64 * 1024,
	}
}

func (l BusLimits) merge(override BusLimits) BusLimits {
	if override.QueueDepth > 0 {
		l.QueueDepth = override.QueueDepth
	}
	if override.Workers > 0 {
		l.Workers = override.Workers
	}
	if override.HandlerTimeout > 0 {
		l.HandlerTimeout = override.HandlerTimeout
	}
	if override.MaxPayloadBytes > 0 {
		l.MaxPayloadBytes = override.MaxPayloadBytes
	}

	return l
}

type config struct {
	moduleHookTimeout time.Duration
	shutdownTimeout   time.Duration
	bus               BusLimits
	identity          vellum.MemberIdentity
	channel           vellum.RoomChannel
	logger            *slog.Logger
	onAsyncError      func(context.Context, string, error)
}

// Option mutates kernel construction configuration.
type Option func(*config)

// defaultConfig starts every member as an anonymous Guest on a private bus.
func defaultConfig() config {
	logger := slog.Default()

	return config{
		moduleHookTimeout: defaultModuleHookTimeout,
		shutdownTimeout:   defaultShutdownTimeout,
		bus:               DefaultBusLimits(),
		identity:          vellum.MemberIdentity{Role: vellum.RoleGuest},
		logger:            logger,
		onAsyncError:      asyncErrorLogger(logger),
	}
}

func asyncErrorLogger(logger *slog.Logger) func(context.Context, string, error) {
	return func(ctx context.Context, scope string, err error) {
		logger.ErrorContext(ctx, "vellum async error", "scope", scope, "error", err)
	}
}

// WithLifecycleTimeouts bounds each module hook and the whole shutdown.
// Non-positive values keep the defaults.
func WithLifecycleTimeouts(moduleHook time.Duration, shutdown time.Duration) Option {
	return func(cfg *config) {
		if moduleHook > 0 {
			cfg.moduleHookTimeout = moduleHook
		}
		if shutdown > 0 {
			cfg.shutdownTimeout = shutdown
		}
	}
}

// WithBusLimits overrides the non-zero fields of the kernel-owned bus limits.
// It has no effect when WithRoomChannel injects a channel.
func WithBusLimits(limits BusLimits) Option {
	return func(cfg *config) {
		cfg.bus = cfg.bus.merge(limits)
	}
}

// WithMemberIdentity sets the identity used for capability role checks and
// registered as the member identity service.
func WithMemberIdentity(identity vellum.MemberIdentity) Option {
	return func(cfg *config) {
		cfg.identity = identity
	}
}

// WithRoomChannel replaces the in-process bus with an external room channel.
// Its creator stays responsible for closing it.
func WithRoomChannel(channel vellum.RoomChannel) Option {
	return func(cfg *config) {
		if channel != nil {
			cfg.channel = channel
		}
	}
}

// WithLogger configures logger used by kernel and default async error sink.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}

		cfg.logger = logger
		cfg.onAsyncError = asyncErrorLogger(logger)
	}
}

// WithAsyncErrorHandler receives handler failures, dropped messages and
// recovered panics from the bus workers.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}
