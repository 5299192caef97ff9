package vellum

import "errors"

var (
	// ErrUnauthorized indicates the content provider rejected the member's credentials.
	ErrUnauthorized = errors.New("vellum: unauthorized")
	// ErrNotFound indicates the content provider has no such block or page.
	ErrNotFound = errors.New("vellum: not found")
	// ErrProviderUnavailable indicates the member holds no provider credentials.
	ErrProviderUnavailable = errors.New("vellum: content provider unavailable")
	// ErrPayloadTooLarge indicates a payload exceeded the channel or blob budget before sending.
	ErrPayloadTooLarge = errors.New("vellum: payload too large")
	// ErrChannelUnavailable indicates the room channel could not accept a publish.
	ErrChannelUnavailable = errors.New("vellum: channel unavailable")
	// ErrQuotaExceeded indicates the persistent local store refused a write for capacity.
	ErrQuotaExceeded = errors.New("vellum: local store quota exceeded")
	// ErrInvalidValue indicates a local store value is not valid JSON.
	ErrInvalidValue = errors.New("vellum: invalid local store value")
	// ErrCacheCorrupted indicates a stored cache entry failed to parse.
	ErrCacheCorrupted = errors.New("vellum: cache entry corrupted")
	// ErrDistributionTimeout indicates a distribution request expired without a matching reply.
	ErrDistributionTimeout = errors.New("vellum: distribution request timed out")
	// ErrInvalidMessage indicates a distribution message does not satisfy protocol invariants.
	ErrInvalidMessage = errors.New("vellum: invalid distribution message")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("vellum: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("vellum: subscription closed")
	// ErrMessageDropped indicates a non-blocking backpressure drop.
	ErrMessageDropped = errors.New("vellum: message dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("vellum: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("vellum: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("vellum: module already registered")
	// ErrRoleNotPermitted indicates an operation is not available to the member's role.
	ErrRoleNotPermitted = errors.New("vellum: operation not permitted for role")
)
