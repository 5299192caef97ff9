package vellum

import "fmt"

// Role distinguishes session members by their content access rights.
type Role string

const (
	// RoleHost holds provider credentials and is authoritative.
	RoleHost Role = "host"
	// RolePrivilegedPeer has Host-equivalent editing rights and may request full snapshots.
	RolePrivilegedPeer Role = "privileged_peer"
	// RoleGuest holds no credentials and sees only the visible subset.
	RoleGuest Role = "guest"
)

// ParseRole validates a configured role name.
func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleHost, RolePrivilegedPeer, RoleGuest:
		return Role(value), nil
	default:
		return "", fmt.Errorf("parse role: unsupported role %q", value)
	}
}

// CanWriteBlob reports whether members with this role may write the shared blob.
func (r Role) CanWriteBlob() bool {
	return r == RoleHost || r == RolePrivilegedPeer
}

// SeesFullConfig reports whether members with this role may receive the unfiltered navigation config.
func (r Role) SeesFullConfig() bool {
	return r == RoleHost || r == RolePrivilegedPeer
}
