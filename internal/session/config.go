package session

import (
	"fmt"
	"time"

	"ex-vellum/internal/render"
	"ex-vellum/pkg/vellum"
)

// Config describes one member's session.
type Config struct {
	// Identity is the local member.
	Identity vellum.MemberIdentity
	// Provider is required for the Host, optional for a Privileged Peer and
	// forbidden for a Guest.
	Provider vellum.ContentProvider
	// LocalStore backs the Content Cache. Nil uses an unbounded in-memory store.
	LocalStore vellum.LocalStore
	// Channel is the room channel. Nil uses the kernel's in-process bus.
	Channel vellum.RoomChannel
	// Blob is the shared size-bounded document. Nil disables blob sharing.
	Blob vellum.SharedBlobStore
	// Navigation is the Host's initial navigation config.
	Navigation vellum.NavigationConfig

	Format           render.Format
	RenderedCapacity int
	RequestTimeout   time.Duration
	BlobBudget       int
	BlobHeadroom     int
	// SharePagesViaBlob makes the Host copy rendered pages that fit the blob
	// budget into the shared blob.
	SharePagesViaBlob bool
}

func (c Config) validate() error {
	if c.Identity.MemberID == "" {
		return fmt.Errorf("session config: empty member id")
	}
	if _, err := vellum.ParseRole(string(c.Identity.Role)); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	switch c.Identity.Role {
	case vellum.RoleHost:
		if c.Provider == nil {
			return fmt.Errorf("session config: host requires a content provider")
		}
	case vellum.RoleGuest:
		if c.Provider != nil {
			return fmt.Errorf("session config: guest cannot hold a content provider: %w", vellum.ErrRoleNotPermitted)
		}
	}
	if c.RenderedCapacity < 0 {
		return fmt.Errorf("session config: negative rendered capacity %d", c.RenderedCapacity)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("session config: negative request timeout %s", c.RequestTimeout)
	}
	if err := c.Navigation.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	return nil
}
