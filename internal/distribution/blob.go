package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"ex-vellum/internal/metrics"
	"ex-vellum/pkg/vellum"
)

// BlobGuardOption mutates blob guard configuration.
type BlobGuardOption func(*BlobGuard)

// WithBudget sets the platform byte budget and the headroom kept below it.
func WithBudget(budgetBytes int, headroomBytes int) BlobGuardOption {
	return func(guard *BlobGuard) {
		if budgetBytes > 0 {
			guard.budget = budgetBytes
		}
		if headroomBytes >= 0 && headroomBytes < guard.budget {
			guard.headroom = headroomBytes
		}
	}
}

// WithBlobMetrics records rejected writes.
func WithBlobMetrics(m *metrics.Metrics) BlobGuardOption {
	return func(guard *BlobGuard) {
		guard.metrics = m
	}
}

// BlobGuard measures every shared blob write before it is sent.
//
// A write whose merged document exceeds budget minus headroom is rejected
// with ErrPayloadTooLarge and never reaches the store.
type BlobGuard struct {
	store    vellum.SharedBlobStore
	role     vellum.Role
	budget   int
	headroom int
	metrics  *metrics.Metrics
}

// NewBlobGuard wraps store for a member with role.
func NewBlobGuard(store vellum.SharedBlobStore, role vellum.Role, opts ...BlobGuardOption) (*BlobGuard, error) {
	if store == nil {
		return nil, fmt.Errorf("new blob guard: nil store")
	}

	guard := &BlobGuard{
		store:    store,
		role:     role,
		budget:   vellum.DefaultBlobBudgetBytes,
		headroom: vellum.DefaultBlobHeadroomBytes,
	}
	for _, opt := range opts {
		opt(guard)
	}

	return guard, nil
}

// SafeLimit returns the largest accepted document size in bytes.
func (g *BlobGuard) SafeLimit() int {
	return g.budget - g.headroom
}

// Read returns the current shared document.
func (g *BlobGuard) Read(ctx context.Context) (vellum.BlobDocument, error) {
	document, err := g.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read shared blob: %w", err)
	}

	return document, nil
}

// OnChange registers handler on the underlying store.
func (g *BlobGuard) OnChange(handler vellum.BlobChangeHandler) func() {
	return g.store.OnChange(handler)
}

// Write merges patch into the shared document after measuring the result.
func (g *BlobGuard) Write(ctx context.Context, patch vellum.BlobDocument) error {
	if !g.role.CanWriteBlob() {
		return fmt.Errorf("write shared blob as %s: %w", g.role, vellum.ErrRoleNotPermitted)
	}

	current, err := g.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("write shared blob: read current: %w", err)
	}
	size, err := vellum.BlobSize(vellum.MergeBlob(current, patch))
	if err != nil {
		return fmt.Errorf("write shared blob: measure: %w", err)
	}
	if limit := g.SafeLimit(); size > limit {
		g.metrics.PayloadRejected("blob")
		return fmt.Errorf("write shared blob: %d bytes exceeds safe budget %d: %w", size, limit, vellum.ErrPayloadTooLarge)
	}

	if err := g.store.Write(ctx, patch); err != nil {
		return fmt.Errorf("write shared blob: %w", err)
	}

	return nil
}

// SharePage writes rendered markup for pageID into the shared blob.
func (g *BlobGuard) SharePage(ctx context.Context, pageID string, markup string) error {
	encoded, err := json.Marshal(markup)
	if err != nil {
		return fmt.Errorf("share page %s: %w", pageID, err)
	}
	if err := g.Write(ctx, vellum.BlobDocument{BlobPageKey(pageID): encoded}); err != nil {
		return fmt.Errorf("share page %s: %w", pageID, err)
	}

	return nil
}

// UnsharePage removes pageID's markup from the shared blob.
func (g *BlobGuard) UnsharePage(ctx context.Context, pageID string) error {
	if err := g.Write(ctx, vellum.BlobDocument{BlobPageKey(pageID): json.RawMessage("null")}); err != nil {
		return fmt.Errorf("unshare page %s: %w", pageID, err)
	}

	return nil
}

// UnshareAllPages removes every page's markup from the shared blob and
// returns how many pages were removed.
func (g *BlobGuard) UnshareAllPages(ctx context.Context) (int, error) {
	current, err := g.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("unshare pages: %w", err)
	}

	patch := vellum.BlobDocument{}
	for key := range current {
		if strings.HasPrefix(key, BlobPageKeyPrefix) {
			patch[key] = json.RawMessage("null")
		}
	}
	if len(patch) == 0 {
		return 0, nil
	}
	if err := g.Write(ctx, patch); err != nil {
		return 0, fmt.Errorf("unshare pages: %w", err)
	}

	return len(patch), nil
}

// MemoryBlob is an in-process SharedBlobStore enforcing a hard byte limit.
type MemoryBlob struct {
	hardLimit int

	mu       sync.Mutex
	document vellum.BlobDocument
	writes   int
	nextID   int
	handlers map[int]vellum.BlobChangeHandler
}

// NewMemoryBlob creates an empty blob. hardLimit <= 0 uses the default budget.
func NewMemoryBlob(hardLimit int) *MemoryBlob {
	if hardLimit <= 0 {
		hardLimit = vellum.DefaultBlobBudgetBytes
	}

	return &MemoryBlob{
		hardLimit: hardLimit,
		document:  vellum.BlobDocument{},
		handlers:  make(map[int]vellum.BlobChangeHandler),
	}
}

// Read returns a copy of the document.
func (b *MemoryBlob) Read(ctx context.Context) (vellum.BlobDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read memory blob: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return vellum.MergeBlob(b.document, nil), nil
}

// Write merges patch and notifies change handlers.
func (b *MemoryBlob) Write(ctx context.Context, patch vellum.BlobDocument) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write memory blob: %w", err)
	}

	b.mu.Lock()
	merged := vellum.MergeBlob(b.document, patch)
	size, err := vellum.BlobSize(merged)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("write memory blob: %w", err)
	}
	if size > b.hardLimit {
		b.mu.Unlock()
		return fmt.Errorf("write memory blob: %d bytes exceeds hard limit %d: %w", size, b.hardLimit, vellum.ErrPayloadTooLarge)
	}
	b.document = merged
	b.writes++
	handlers := make([]vellum.BlobChangeHandler, 0, len(b.handlers))
	for _, handler := range b.handlers {
		handlers = append(handlers, handler)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, vellum.MergeBlob(merged, nil))
	}

	return nil
}

// OnChange registers handler and returns its removal function.
func (b *MemoryBlob) OnChange(handler vellum.BlobChangeHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Writes returns the number of accepted writes.
func (b *MemoryBlob) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.writes
}
