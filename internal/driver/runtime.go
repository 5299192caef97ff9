// Package driver builds the session transport (room channel, shared blob and
// local store) from one configured definition.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"ex-vellum/pkg/vellum"
)

// Definition describes the configured transport.
type Definition struct {
	// Type identifies which builder should construct this runtime.
	Type string
	// MemberID namespaces member-private state such as the local store.
	MemberID string
	// Config stores transport-type-specific JSON payload.
	Config []byte
}

// Runtime contains one fully built transport.
type Runtime struct {
	// Channel is nil when the kernel's in-process bus should be used.
	Channel vellum.RoomChannel
	// Blob is the shared document, nil when the transport has none.
	Blob vellum.SharedBlobStore
	// LocalStore backs the member's Content Cache.
	LocalStore vellum.LocalStore

	closers []func(ctx context.Context) error
}

// OnClose appends a release hook run by Close in reverse order.
func (r *Runtime) OnClose(closer func(ctx context.Context) error) {
	if closer != nil {
		r.closers = append(r.closers, closer)
	}
}

// Close releases transport resources after the session stopped.
func (r *Runtime) Close(ctx context.Context) error {
	var closeErr error
	for idx := len(r.closers) - 1; idx >= 0; idx-- {
		if err := r.closers[idx](ctx); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	r.closers = nil

	if closeErr != nil {
		return fmt.Errorf("close transport: %w", closeErr)
	}

	return nil
}

// BuilderFunc builds one runtime from one configured definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (*Runtime, error)

// Descriptor binds one transport type token to its runtime builder.
type Descriptor struct {
	// Type is the transport type token from configuration (for example "redis").
	Type string
	// Builder constructs one runtime instance for this type.
	Builder BuilderFunc
}

// Registry maps transport types to runtime builders.
type Registry struct {
	builders map[string]BuilderFunc
	types    []string
}

// NewRegistry creates one immutable transport registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	builders := make(map[string]BuilderFunc, len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Type == "" {
			return nil, fmt.Errorf("new registry: empty descriptor type")
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := builders[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}

		builders[descriptor.Type] = descriptor.Builder
		types = append(types, descriptor.Type)
	}
	sort.Strings(types)

	return &Registry{
		builders: builders,
		types:    types,
	}, nil
}

// Types returns all registered transport types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	types := make([]string, len(r.types))
	copy(types, r.types)

	return types
}

// Supports reports an error when transportType has no builder.
func (r *Registry) Supports(transportType string) error {
	if r == nil {
		return fmt.Errorf("resolve transport: nil registry")
	}
	if _, exists := r.builders[transportType]; !exists {
		return fmt.Errorf("unsupported type %s", transportType)
	}

	return nil
}

// Build constructs the runtime for definition.
func (r *Registry) Build(ctx context.Context, definition Definition, logger *slog.Logger) (*Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build transport: nil registry")
	}
	if definition.Type == "" {
		return nil, fmt.Errorf("build transport: empty type")
	}
	builder, exists := r.builders[definition.Type]
	if !exists {
		return nil, fmt.Errorf("build transport type %s: unsupported type", definition.Type)
	}
	if logger == nil {
		logger = slog.Default()
	}

	runtime, err := builder(ctx, definition, logger)
	if err != nil {
		return nil, fmt.Errorf("build transport type %s: %w", definition.Type, err)
	}
	if runtime == nil {
		return nil, fmt.Errorf("build transport type %s: nil runtime", definition.Type)
	}
	if runtime.LocalStore == nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("build transport type %s: missing local store", definition.Type)
	}

	return runtime, nil
}
