package contentcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ex-vellum/internal/localstore"
	"ex-vellum/pkg/vellum"
)

type countingProvider struct {
	mu       sync.Mutex
	children map[string][]vellum.Block
	calls    atomic.Int64
	delay    time.Duration
	err      error
	// release, when set, holds every fetch until it is closed.
	release chan struct{}
}

func (p *countingProvider) FetchChildren(ctx context.Context, blockID string) ([]vellum.Block, error) {
	p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return vellum.CloneBlocks(p.children[blockID]), nil
}

func (p *countingProvider) FetchPageMeta(context.Context, string) (vellum.PageMeta, error) {
	return vellum.PageMeta{Title: "Title"}, nil
}

func (p *countingProvider) set(blockID string, blocks []vellum.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children[blockID] = blocks
}

func newTestSource(t *testing.T, provider vellum.ContentProvider) *Source {
	t.Helper()

	source, err := NewSource(newTestCache(t, localstore.NewMemory(0)), provider, WithSourceLogger(discardLogger()))
	if err != nil {
		t.Fatalf("new source failed: %v", err)
	}

	return source
}

func TestSourceFetchesOnceThenServesFromCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := &countingProvider{children: map[string][]vellum.Block{
		"page": {paragraph("a", "x")},
	}}
	source := newTestSource(t, provider)

	for range 3 {
		children, err := source.Children(ctx, "page", true)
		if err != nil {
			t.Fatalf("children failed: %v", err)
		}
		if len(children) != 1 || children[0].ID != "a" {
			t.Fatalf("children = %+v", children)
		}
	}
	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
}

func TestSourceBypassRefreshesCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := &countingProvider{children: map[string][]vellum.Block{
		"page": {paragraph("a", "old")},
	}}
	source := newTestSource(t, provider)

	if _, err := source.Children(ctx, "page", true); err != nil {
		t.Fatalf("children failed: %v", err)
	}
	provider.set("page", []vellum.Block{paragraph("b", "new")})

	fresh, err := source.Children(ctx, "page", false)
	if err != nil {
		t.Fatalf("bypass children failed: %v", err)
	}
	if fresh[0].ID != "b" {
		t.Fatalf("bypass returned stale children %+v", fresh)
	}

	cached, err := source.Children(ctx, "page", true)
	if err != nil {
		t.Fatalf("cached children failed: %v", err)
	}
	if cached[0].ID != "b" {
		t.Fatalf("cache not overwritten by refresh: %+v", cached)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}
}

func TestSourceSharesConcurrentFetches(t *testing.T) {
	t.Parallel()

	provider := &countingProvider{
		children: map[string][]vellum.Block{"page": {paragraph("a", "x")}},
		delay:    50 * time.Millisecond,
	}
	source := newTestSource(t, provider)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := source.Children(context.Background(), "page", true); err != nil {
				t.Errorf("children failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1 shared fetch", got)
	}
}

func TestSourceSharedFetchSurvivesCanceledCaller(t *testing.T) {
	t.Parallel()

	provider := &countingProvider{
		children: map[string][]vellum.Block{"page": {paragraph("a", "x")}},
		release:  make(chan struct{}),
	}
	source := newTestSource(t, provider)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := source.Children(firstCtx, "page", true)
		firstErr <- err
	}()
	waitFor(t, func() bool { return provider.calls.Load() == 1 })

	type outcome struct {
		children []vellum.Block
		err      error
	}
	second := make(chan outcome, 1)
	go func() {
		children, err := source.Children(context.Background(), "page", true)
		second <- outcome{children: children, err: err}
	}()

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled caller error = %v, want context.Canceled", err)
	}

	close(provider.release)
	got := <-second
	if got.err != nil {
		t.Fatalf("second caller failed after first canceled: %v", got.err)
	}
	if len(got.children) != 1 || got.children[0].ID != "a" {
		t.Fatalf("children = %+v", got.children)
	}
	if calls := provider.calls.Load(); calls != 1 {
		t.Fatalf("provider calls = %d, want 1 shared fetch", calls)
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSourceErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	withoutProvider := newTestSource(t, nil)
	if _, err := withoutProvider.Children(ctx, "page", true); !errors.Is(err, vellum.ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
	if _, err := withoutProvider.PageMeta(ctx, "page"); !errors.Is(err, vellum.ErrProviderUnavailable) {
		t.Fatalf("page meta error = %v, want ErrProviderUnavailable", err)
	}

	failing := newTestSource(t, &countingProvider{
		err: &vellum.ProviderError{Kind: vellum.ProviderErrorNotFound, ResourceID: "page"},
	})
	if _, err := failing.Children(ctx, "page", true); !errors.Is(err, vellum.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if _, found := failing.Cache().Lookup(ctx, "page"); found {
		t.Fatal("failed fetch populated the cache")
	}
}
