package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ex-vellum/pkg/vellum"
)

// Memory is a quota-bounded, in-process LocalStore.
//
// The quota counts key and value bytes, mirroring device storage limits.
type Memory struct {
	mu         sync.RWMutex
	quotaBytes int
	usedBytes  int
	values     map[string][]byte
}

// NewMemory creates an in-memory store. A non-positive quota means unbounded.
func NewMemory(quotaBytes int) *Memory {
	return &Memory{
		quotaBytes: quotaBytes,
		values:     make(map[string][]byte),
	}
}

// Get returns a copy of the stored value.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("local store get %s: %w", key, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.values[key]
	if !exists {
		return nil, false, nil
	}

	return append([]byte(nil), value...), true, nil
}

// Set stores value when it is valid JSON and fits the quota.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("local store set %s: %w", key, err)
	}
	if key == "" {
		return fmt.Errorf("local store set: empty key")
	}
	if !json.Valid(value) {
		return fmt.Errorf("local store set %s: %w", key, vellum.ErrInvalidValue)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	previous, exists := m.values[key]
	nextUsed := m.usedBytes + len(key) + len(value)
	if exists {
		nextUsed -= len(key) + len(previous)
	}
	if m.quotaBytes > 0 && nextUsed > m.quotaBytes {
		return fmt.Errorf("local store set %s: %w", key, vellum.ErrQuotaExceeded)
	}

	m.values[key] = append([]byte(nil), value...)
	m.usedBytes = nextUsed

	return nil
}

// Remove deletes key if present.
func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("local store remove %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if previous, exists := m.values[key]; exists {
		m.usedBytes -= len(key) + len(previous)
		delete(m.values, key)
	}

	return nil
}

// EnumerateKeysByPrefix returns matching keys in lexical order.
func (m *Memory) EnumerateKeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("local store enumerate %s: %w", prefix, err)
	}

	m.mu.RLock()
	keys := make([]string, 0, len(m.values))
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)

	return keys, nil
}

// UsedBytes reports the bytes currently counted against the quota.
func (m *Memory) UsedBytes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.usedBytes
}
