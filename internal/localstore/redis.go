package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"ex-vellum/pkg/vellum"
)

const scanBatchSize = 256

// Redis is a LocalStore persisted in Redis under a per-member namespace.
//
// Redis reports exhausted maxmemory as an OOM error, which maps to ErrQuotaExceeded.
type Redis struct {
	client    redis.UniversalClient
	namespace string
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithNamespace prefixes every key so several members can share one Redis.
func WithNamespace(namespace string) RedisOption {
	return func(store *Redis) {
		store.namespace = namespace
	}
}

// NewRedis constructs a Redis-backed local store.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("new redis local store: nil client")
	}

	store := &Redis{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store, nil
}

// Get returns the stored value.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.namespaced(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("local store get %s: %w", key, err)
	}

	return value, true, nil
}

// Set stores value without expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("local store set: empty key")
	}
	if !json.Valid(value) {
		return fmt.Errorf("local store set %s: %w", key, vellum.ErrInvalidValue)
	}

	if err := r.client.Set(ctx, r.namespaced(key), value, 0).Err(); err != nil {
		if isOutOfMemory(err) {
			return fmt.Errorf("local store set %s: %w: %w", key, vellum.ErrQuotaExceeded, err)
		}
		return fmt.Errorf("local store set %s: %w", key, err)
	}

	return nil
}

// Remove deletes key.
func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.namespaced(key)).Err(); err != nil {
		return fmt.Errorf("local store remove %s: %w", key, err)
	}

	return nil
}

// EnumerateKeysByPrefix scans the namespace for keys starting with prefix.
func (r *Redis) EnumerateKeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(r.namespaced(prefix)) + "*"
	keys := make([]string, 0)

	iter := r.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("local store enumerate %s: %w", prefix, err)
	}

	return keys, nil
}

func (r *Redis) namespaced(key string) string {
	return r.namespace + key
}

func isOutOfMemory(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM ")
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func escapeGlob(value string) string {
	return globEscaper.Replace(value)
}
