package contentcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"ex-vellum/internal/metrics"
	"ex-vellum/pkg/vellum"
)

// Source resolves block children from the cache, falling back to the provider
// and populating the cache on a miss.
//
// Concurrent requests for the same block share one provider call.
type Source struct {
	cache    *Cache
	provider vellum.ContentProvider
	logger   *slog.Logger
	metrics  *metrics.Metrics
	flight   singleflight.Group
}

// SourceOption mutates source configuration.
type SourceOption func(*Source)

// WithSourceLogger injects a logger.
func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(source *Source) {
		if logger != nil {
			source.logger = logger
		}
	}
}

// WithSourceMetrics records provider fetch durations.
func WithSourceMetrics(m *metrics.Metrics) SourceOption {
	return func(source *Source) {
		source.metrics = m
	}
}

// NewSource builds a fetch-through source. provider may be nil for members
// without credentials; such a source serves cached children only.
func NewSource(cache *Cache, provider vellum.ContentProvider, opts ...SourceOption) (*Source, error) {
	if cache == nil {
		return nil, fmt.Errorf("new content source: nil cache")
	}

	source := &Source{
		cache:    cache,
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(source)
	}

	return source, nil
}

// Cache returns the backing content cache.
func (s *Source) Cache() *Cache {
	return s.cache
}

// Children returns the ordered children of blockID.
//
// With useCache the cache is consulted first; without it the provider is
// always called and the fresh result overwrites the cached entry.
func (s *Source) Children(ctx context.Context, blockID string, useCache bool) ([]vellum.Block, error) {
	if useCache {
		if children, found := s.cache.Lookup(ctx, blockID); found {
			return children, nil
		}
	}
	if s.provider == nil {
		return nil, fmt.Errorf("content source children %s: %w", blockID, vellum.ErrProviderUnavailable)
	}

	// The shared fetch outlives any one caller; each caller stops waiting on
	// its own ctx.
	flightKey := fmt.Sprintf("%s|%t", blockID, useCache)
	fetched := s.flight.DoChan(flightKey, func() (any, error) {
		return s.fetchAndStore(context.WithoutCancel(ctx), blockID)
	})

	var result singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("content source children %s: %w", blockID, ctx.Err())
	case result = <-fetched:
	}
	if result.Err != nil {
		return nil, result.Err
	}

	children, ok := result.Val.([]vellum.Block)
	if !ok {
		return nil, fmt.Errorf("content source children %s: unexpected result type %T", blockID, result.Val)
	}

	return vellum.CloneBlocks(children), nil
}

func (s *Source) fetchAndStore(ctx context.Context, blockID string) ([]vellum.Block, error) {
	start := time.Now()
	children, err := s.provider.FetchChildren(ctx, blockID)
	s.metrics.ObserveProviderFetch(start, err)
	if err != nil {
		return nil, fmt.Errorf("content source fetch %s: %w", blockID, err)
	}
	if children == nil {
		children = []vellum.Block{}
	}

	if err := s.cache.Store(ctx, blockID, children); err != nil {
		s.logger.WarnContext(ctx, "content cache populate failed", "block_id", blockID, "error", err)
	}

	return children, nil
}

// PageMeta fetches page metadata directly from the provider; metadata is not cached.
func (s *Source) PageMeta(ctx context.Context, pageID string) (vellum.PageMeta, error) {
	if s.provider == nil {
		return vellum.PageMeta{}, fmt.Errorf("content source page meta %s: %w", pageID, vellum.ErrProviderUnavailable)
	}

	meta, err := s.provider.FetchPageMeta(ctx, pageID)
	if err != nil {
		return vellum.PageMeta{}, fmt.Errorf("content source page meta %s: %w", pageID, err)
	}

	return meta, nil
}
