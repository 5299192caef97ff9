package vellum

import "context"

// LocalStore is the per-member persistent string-keyed store.
//
// Values must be JSON. Writes can fail with ErrQuotaExceeded when the device
// capacity is exhausted.
type LocalStore interface {
	// Get returns the stored value. When no entry exists, found is false and err is nil.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// EnumerateKeysByPrefix returns every stored key starting with prefix.
	EnumerateKeysByPrefix(ctx context.Context, prefix string) ([]string, error)
}
