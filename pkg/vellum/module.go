package vellum

import (
	"context"
	"fmt"
)

// ModuleRuntime provides session facilities to modules during registration.
type ModuleRuntime interface {
	// Services exposes the service registry for dependency lookup.
	Services() ServiceRegistry
	// Channel returns the room channel for publishing replies.
	Channel() RoomChannel
	// Subscribe registers a channel handler owned by the module.
	Subscribe(ctx context.Context, spec SubscriptionSpec, handler MessageHandler) (Subscription, error)
}

// Module is a lifecycle-aware session plugin.
//
// Modules must be concurrency-safe because handlers can run on multiple workers.
type Module interface {
	// Name returns a stable module identifier.
	Name() string
	// Spec declares channel handlers and required services.
	Spec() ModuleSpec
	// OnStart is called when the session begins runtime execution.
	OnStart(ctx context.Context) error
	// OnShutdown is called during orderly shutdown.
	OnShutdown(ctx context.Context) error
}

// ModuleRegistrar is implemented by modules needing registration-time setup.
type ModuleRegistrar interface {
	OnRegister(ctx context.Context, runtime ModuleRuntime) error
}

// ModuleSpec declares what a module listens to and depends on.
type ModuleSpec struct {
	Handlers               []ModuleHandler
	AdditionalCapabilities []Capability
}

// ModuleHandler binds one channel capability to its handler.
type ModuleHandler struct {
	Capability   Capability
	Subscription SubscriptionSpec
	Handler      MessageHandler
}

// Capability describes which channels a module consumes and which services it requires.
type Capability struct {
	Name             string
	Description      string
	Channels         []string
	Roles            []Role
	RequiredServices []string
}

// Capabilities returns every declared capability in declaration order.
func (s ModuleSpec) Capabilities() []Capability {
	capabilities := make([]Capability, 0, len(s.Handlers)+len(s.AdditionalCapabilities))
	for _, handler := range s.Handlers {
		capabilities = append(capabilities, handler.Capability)
	}
	capabilities = append(capabilities, s.AdditionalCapabilities...)

	return capabilities
}

// Validate ensures declarative module definitions are coherent.
func (s ModuleSpec) Validate() error {
	seenCapabilities := make(map[string]struct{}, len(s.Handlers)+len(s.AdditionalCapabilities))
	for idx, handler := range s.Handlers {
		if handler.Capability.Name == "" {
			return fmt.Errorf("module handler %d: empty capability name", idx)
		}
		if _, exists := seenCapabilities[handler.Capability.Name]; exists {
			return fmt.Errorf("module handler %d: duplicate capability name %s", idx, handler.Capability.Name)
		}
		seenCapabilities[handler.Capability.Name] = struct{}{}

		if handler.Handler == nil {
			return fmt.Errorf("module handler %s: nil handler", handler.Capability.Name)
		}
		if handler.Subscription.Channel == "" {
			return fmt.Errorf("module handler %s: empty channel", handler.Capability.Name)
		}
		if !handler.Capability.AllowsChannel(handler.Subscription.Channel) {
			return fmt.Errorf(
				"module handler %s: channel %s not declared by capability",
				handler.Capability.Name,
				handler.Subscription.Channel,
			)
		}
	}
	for idx, capability := range s.AdditionalCapabilities {
		if capability.Name == "" {
			return fmt.Errorf("additional capability %d: empty capability name", idx)
		}
		if _, exists := seenCapabilities[capability.Name]; exists {
			return fmt.Errorf("additional capability %d: duplicate capability name %s", idx, capability.Name)
		}
		seenCapabilities[capability.Name] = struct{}{}
	}

	return nil
}

// AllowsChannel reports whether the capability declares channel.
func (c Capability) AllowsChannel(channel string) bool {
	for _, candidate := range c.Channels {
		if candidate == channel {
			return true
		}
	}

	return false
}

// AllowsRole reports whether a member with role may run this capability.
// An empty role list allows every role.
func (c Capability) AllowsRole(role Role) bool {
	if len(c.Roles) == 0 {
		return true
	}
	for _, candidate := range c.Roles {
		if candidate == role {
			return true
		}
	}

	return false
}
