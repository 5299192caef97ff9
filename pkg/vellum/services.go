package vellum

import (
	"fmt"
)

// Canonical service registry keys shared by session modules.
const (
	// ServiceLogger resolves the session *slog.Logger.
	ServiceLogger = "logger"
	// ServiceRenderedOutput resolves the Host's RenderedOutputStore.
	ServiceRenderedOutput = "vellum.rendered_output"
	// ServiceNavigation resolves the Host's NavigationSource.
	ServiceNavigation = "vellum.navigation"
	// ServiceMemberIdentity resolves the local MemberIdentity.
	ServiceMemberIdentity = "vellum.member_identity"
)

// ServiceRegistry provides runtime dependency injection to session modules.
type ServiceRegistry interface {
	// Register binds a singleton service value to a stable name.
	Register(name string, service any) error
	// Resolve returns a registered service by name.
	Resolve(name string) (any, error)
}

// ResolveAs resolves a service and casts it to the requested type.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return typed, nil
}

// MemberIdentity identifies the local session member.
type MemberIdentity struct {
	MemberID string
	Role     Role
}

// RenderedOutputStore is the Host-local cache of fully rendered page markup.
type RenderedOutputStore interface {
	// Get returns cached markup for pageID.
	Get(pageID string) (markup string, found bool)
	// Put records markup produced by a complete resolve and format cycle.
	Put(pageID string, markup string)
}

// NavigationSource exposes the Host's authoritative navigation configuration.
type NavigationSource interface {
	// Current returns a copy of the full, unfiltered configuration.
	Current() NavigationConfig
	// Watch registers fn to run after every configuration change and returns
	// the function that removes it.
	Watch(fn func(change NavigationChange)) (unwatch func())
}

// NavigationChange carries one applied configuration revision.
type NavigationChange struct {
	Config NavigationConfig
	Digest string
}
