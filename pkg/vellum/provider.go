package vellum

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ContentProvider is the external service exposing block children and page metadata.
//
// Only members holding provider credentials construct one.
type ContentProvider interface {
	// FetchChildren returns the ordered child blocks of blockID. Pages are blocks.
	FetchChildren(ctx context.Context, blockID string) ([]Block, error)
	// FetchPageMeta returns cover and title metadata for one page.
	FetchPageMeta(ctx context.Context, pageID string) (PageMeta, error)
}

// PageMeta describes presentation metadata of one page.
type PageMeta struct {
	Title      string `json:"title,omitempty"`
	CoverImage string `json:"cover_image,omitempty"`
}

// ProviderErrorKind classifies content provider failures.
type ProviderErrorKind string

const (
	// ProviderErrorUnauthorized indicates rejected or missing credentials.
	ProviderErrorUnauthorized ProviderErrorKind = "unauthorized"
	// ProviderErrorNotFound indicates the block or page does not exist or is not shared.
	ProviderErrorNotFound ProviderErrorKind = "not_found"
	// ProviderErrorOther indicates any other failure.
	ProviderErrorOther ProviderErrorKind = "other"
)

// ProviderError carries structured metadata for one content provider failure.
type ProviderError struct {
	// Kind classifies the failure.
	Kind ProviderErrorKind
	// ResourceID identifies the block or page that was requested.
	ResourceID string
	// StatusCode carries the transport status code when known.
	StatusCode int
	// Cause is the wrapped transport error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 3)
	if kind := strings.TrimSpace(string(e.Kind)); kind != "" {
		fields = append(fields, "kind="+kind)
	}
	if resourceID := strings.TrimSpace(e.ResourceID); resourceID != "" {
		fields = append(fields, "resource_id="+resourceID)
	}
	if e.StatusCode != 0 {
		fields = append(fields, fmt.Sprintf("status=%d", e.StatusCode))
	}

	message := "provider error"
	if len(fields) > 0 {
		message += ": " + strings.Join(fields, " ")
	}
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}

	return message
}

// Unwrap exposes both the kind sentinel and the root cause to errors.Is.
func (e *ProviderError) Unwrap() []error {
	if e == nil {
		return nil
	}

	unwrapped := make([]error, 0, 2)
	switch e.Kind {
	case ProviderErrorUnauthorized:
		unwrapped = append(unwrapped, ErrUnauthorized)
	case ProviderErrorNotFound:
		unwrapped = append(unwrapped, ErrNotFound)
	default:
	}
	if e.Cause != nil {
		unwrapped = append(unwrapped, e.Cause)
	}

	return unwrapped
}

// UserMessage returns a recoverable, human-actionable description of the failure.
func (e *ProviderError) UserMessage() string {
	if e == nil {
		return ""
	}

	switch e.Kind {
	case ProviderErrorUnauthorized:
		return "The integration token was rejected. Check the credentials or share the page with the integration, then retry."
	case ProviderErrorNotFound:
		return "This page could not be found. It may have been moved or unshared; open it externally or retry."
	default:
		return "The page could not be loaded right now. Retry, or open it externally."
	}
}

// AsProviderError extracts one ProviderError from wrapped error chains.
func AsProviderError(err error) (*ProviderError, bool) {
	if err == nil {
		return nil, false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}

	return nil, false
}

// UserMessageFor returns a human-actionable message for any resolution error.
func UserMessageFor(err error) string {
	if err == nil {
		return ""
	}
	if providerErr, ok := AsProviderError(err); ok {
		return providerErr.UserMessage()
	}
	if errors.Is(err, ErrProviderUnavailable) {
		return "This member has no access to the content provider."
	}

	return "This block could not be rendered."
}
