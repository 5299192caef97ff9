package contentcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ex-vellum/internal/metrics"
	"ex-vellum/pkg/vellum"
)

// KeyPrefix namespaces content cache entries inside the shared local store.
const KeyPrefix = "vellum:blocks:"

// Option mutates content cache configuration.
type Option func(*Cache)

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cache *Cache) {
		if logger != nil {
			cache.logger = logger
		}
	}
}

// WithMetrics records hit, miss, corruption and write-failure counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cache *Cache) {
		cache.metrics = m
	}
}

// WithClock overrides the time source used for savedAt stamps.
func WithClock(clock func() time.Time) Option {
	return func(cache *Cache) {
		if clock != nil {
			cache.clock = clock
		}
	}
}

// Cache stores ordered child-block lists keyed by parent block id.
type Cache struct {
	store   vellum.LocalStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// Entry is the persisted form of one cached children list.
type Entry struct {
	Key      string         `json:"key"`
	Children []vellum.Block `json:"children"`
	SavedAt  time.Time      `json:"saved_at"`
}

// New creates a content cache over store.
func New(store vellum.LocalStore, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("new content cache: nil local store")
	}

	cache := &Cache{
		store:  store,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(cache)
	}

	return cache, nil
}

// Lookup returns the cached children of blockID.
//
// Corrupt entries are deleted and reported as a miss; store read failures are
// logged and also reported as a miss so resolution can fall back to the provider.
func (c *Cache) Lookup(ctx context.Context, blockID string) ([]vellum.Block, bool) {
	entry, found := c.lookupEntry(ctx, blockID)
	if !found {
		c.metrics.ContentCacheMiss()
		return nil, false
	}
	c.metrics.ContentCacheHit()

	return entry.Children, true
}

func (c *Cache) lookupEntry(ctx context.Context, blockID string) (Entry, bool) {
	key := KeyPrefix + blockID
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "content cache read failed", "block_id", blockID, "error", err)
		return Entry{}, false
	}
	if !found {
		return Entry{}, false
	}

	entry, err := decodeEntry(raw, key)
	if err != nil {
		c.metrics.ContentCacheCorruption()
		c.logger.WarnContext(ctx, "content cache entry corrupted; deleting", "block_id", blockID, "error", err)
		if removeErr := c.store.Remove(ctx, key); removeErr != nil {
			c.logger.WarnContext(ctx, "content cache corrupt entry removal failed", "block_id", blockID, "error", removeErr)
		}
		return Entry{}, false
	}

	return entry, true
}

func decodeEntry(raw []byte, key string) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s: %w: %w", key, vellum.ErrCacheCorrupted, err)
	}
	if entry.Key != key || entry.SavedAt.IsZero() {
		return Entry{}, fmt.Errorf("decode entry %s: %w: missing key or saved_at", key, vellum.ErrCacheCorrupted)
	}
	for _, block := range entry.Children {
		if err := block.Validate(); err != nil {
			return Entry{}, fmt.Errorf("decode entry %s: %w: %w", key, vellum.ErrCacheCorrupted, err)
		}
	}
	if entry.Children == nil {
		entry.Children = []vellum.Block{}
	}

	return entry, nil
}

// Store records blocks as the children of blockID, overwriting any previous entry.
//
// A write refused for exhausted capacity is logged and skipped; the caller
// keeps working with the fetched blocks.
func (c *Cache) Store(ctx context.Context, blockID string, blocks []vellum.Block) error {
	if blockID == "" {
		return fmt.Errorf("content cache store: empty block id")
	}

	key := KeyPrefix + blockID
	children := vellum.CloneBlocks(blocks)
	if children == nil {
		children = []vellum.Block{}
	}
	encoded, err := json.Marshal(Entry{
		Key:      key,
		Children: children,
		SavedAt:  c.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("content cache store %s: %w", blockID, err)
	}

	if err := c.store.Set(ctx, key, encoded); err != nil {
		if errors.Is(err, vellum.ErrQuotaExceeded) {
			c.metrics.ContentCacheWriteFailure()
			c.logger.WarnContext(ctx, "content cache write skipped: local store full", "block_id", blockID, "bytes", len(encoded))
			return nil
		}
		return fmt.Errorf("content cache store %s: %w", blockID, err)
	}

	return nil
}

// Invalidate deletes the entry for blockID.
func (c *Cache) Invalidate(ctx context.Context, blockID string) error {
	if err := c.store.Remove(ctx, KeyPrefix+blockID); err != nil {
		return fmt.Errorf("content cache invalidate %s: %w", blockID, err)
	}

	return nil
}

// InvalidatePage deletes the entry of pageID and of every descendant reachable
// through cached entries, so an explicit refresh refetches the whole page.
func (c *Cache) InvalidatePage(ctx context.Context, pageID string) error {
	pending := []string{pageID}
	visited := make(map[string]struct{})
	var invalidateErr error

	for len(pending) > 0 {
		blockID := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, seen := visited[blockID]; seen {
			continue
		}
		visited[blockID] = struct{}{}

		if entry, found := c.lookupEntry(ctx, blockID); found {
			for _, child := range entry.Children {
				pending = append(pending, child.ID)
			}
		}
		if err := c.Invalidate(ctx, blockID); err != nil {
			invalidateErr = errors.Join(invalidateErr, err)
		}
	}

	if invalidateErr != nil {
		return fmt.Errorf("content cache invalidate page %s: %w", pageID, invalidateErr)
	}

	return nil
}

// InvalidateAll deletes every content cache entry and nothing else in the store.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	keys, err := c.store.EnumerateKeysByPrefix(ctx, KeyPrefix)
	if err != nil {
		return fmt.Errorf("content cache invalidate all: %w", err)
	}

	var removeErr error
	for _, key := range keys {
		if !strings.HasPrefix(key, KeyPrefix) {
			continue
		}
		if err := c.store.Remove(ctx, key); err != nil {
			removeErr = errors.Join(removeErr, err)
		}
	}
	if removeErr != nil {
		return fmt.Errorf("content cache invalidate all: %w", removeErr)
	}

	c.logger.InfoContext(ctx, "content cache cleared", "entries", len(keys))

	return nil
}
