// Package navigation holds the Host's editable navigation config.
package navigation

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tidwall/jsonc"

	"ex-vellum/pkg/vellum"
)

// Store is the authoritative navigation config of one Host.
//
// It implements vellum.NavigationSource; watchers run synchronously on Set
// and only when the digest changes.
type Store struct {
	mu       sync.RWMutex
	config   vellum.NavigationConfig
	digest   string
	nextID   int
	watchers map[int]func(vellum.NavigationChange)
}

// NewStore creates a store holding config.
func NewStore(config vellum.NavigationConfig) (*Store, error) {
	store := &Store{watchers: make(map[int]func(vellum.NavigationChange))}
	if _, err := store.Set(config); err != nil {
		return nil, err
	}

	return store, nil
}

// LoadFile reads a JSON-with-comments navigation config.
func LoadFile(path string) (vellum.NavigationConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return vellum.NavigationConfig{}, fmt.Errorf("load navigation %s: %w", path, err)
	}

	var config vellum.NavigationConfig
	if err := json.Unmarshal(jsonc.ToJSON(raw), &config); err != nil {
		return vellum.NavigationConfig{}, fmt.Errorf("load navigation %s: decode: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return vellum.NavigationConfig{}, fmt.Errorf("load navigation %s: %w", path, err)
	}

	return config, nil
}

// Current returns a copy of the config.
func (s *Store) Current() vellum.NavigationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.config.Clone()
}

// Digest returns the digest of the current config.
func (s *Store) Digest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.digest
}

// Set replaces the config and reports whether it changed.
func (s *Store) Set(config vellum.NavigationConfig) (bool, error) {
	if err := config.Validate(); err != nil {
		return false, fmt.Errorf("set navigation: %w", err)
	}
	digest, err := config.Digest()
	if err != nil {
		return false, fmt.Errorf("set navigation: %w", err)
	}

	s.mu.Lock()
	if digest == s.digest {
		s.mu.Unlock()
		return false, nil
	}
	s.config = config.Clone()
	s.digest = digest
	watchers := make([]func(vellum.NavigationChange), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(vellum.NavigationChange{Config: config.Clone(), Digest: digest})
	}

	return true, nil
}

// Watch registers fn for every config change.
func (s *Store) Watch(fn func(change vellum.NavigationChange)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}
