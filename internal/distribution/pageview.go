package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ex-vellum/pkg/vellum"
)

// PageState is one state of a guest page view.
type PageState string

const (
	// PageStateIdle is the state before the page is opened.
	PageStateIdle PageState = "idle"
	// PageStateRequesting waits for the Host's markup.
	PageStateRequesting PageState = "requesting"
	// PageStateFulfilled holds markup.
	PageStateFulfilled PageState = "fulfilled"
	// PageStateTimedOut offers a manual retry.
	PageStateTimedOut PageState = "timed_out"
)

// ErrNotRetryable is returned by Retry outside the timed out state.
var ErrNotRetryable = errors.New("distribution: page view is not timed out")

// BlobPageKeyPrefix prefixes shared blob keys holding page markup.
const BlobPageKeyPrefix = "page:"

// BlobPageKey returns the shared blob key holding markup for pageID.
func BlobPageKey(pageID string) string {
	return BlobPageKeyPrefix + pageID
}

// PageSnapshot is an immutable view of a page view's state.
type PageSnapshot struct {
	PageID string
	State  PageState
	Markup string
	// Err is set when the request failed for a reason other than silence.
	Err error
}

// PageViewOption mutates page view configuration.
type PageViewOption func(*PageView)

// WithSharedBlob lets the view use markup the Host shared through the blob
// before asking over the channel.
func WithSharedBlob(store vellum.SharedBlobStore) PageViewOption {
	return func(view *PageView) {
		view.blob = store
	}
}

// WithStateListener registers fn to observe every state transition.
func WithStateListener(fn func(PageSnapshot)) PageViewOption {
	return func(view *PageView) {
		view.listener = fn
	}
}

// WithPageViewLogger injects a logger.
func WithPageViewLogger(logger *slog.Logger) PageViewOption {
	return func(view *PageView) {
		if logger != nil {
			view.logger = logger
		}
	}
}

// PageView is a guest's view of one page: Idle, then Requesting, then
// Fulfilled or TimedOut. A timed out view re-enters Requesting only through
// Retry; nothing retries automatically.
type PageView struct {
	pageID    string
	requester *Requester
	blob      vellum.SharedBlobStore
	listener  func(PageSnapshot)
	logger    *slog.Logger

	mu         sync.Mutex
	state      PageState
	markup     string
	err        error
	generation uint64
}

// NewPageView creates an idle view of pageID.
func NewPageView(pageID string, requester *Requester, opts ...PageViewOption) (*PageView, error) {
	if pageID == "" {
		return nil, fmt.Errorf("new page view: empty page id")
	}
	if requester == nil {
		return nil, fmt.Errorf("new page view %s: nil requester", pageID)
	}

	view := &PageView{
		pageID:    pageID,
		requester: requester,
		logger:    slog.Default(),
		state:     PageStateIdle,
	}
	for _, opt := range opts {
		opt(view)
	}

	return view, nil
}

// Snapshot returns the current state.
func (v *PageView) Snapshot() PageSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.snapshotLocked()
}

func (v *PageView) snapshotLocked() PageSnapshot {
	return PageSnapshot{PageID: v.pageID, State: v.state, Markup: v.markup, Err: v.err}
}

// Open loads the page and blocks until it is fulfilled or timed out.
//
// Opening again starts a fresh load; completions of earlier loads are ignored.
func (v *PageView) Open(ctx context.Context) PageSnapshot {
	return v.load(ctx, v.begin())
}

// Retry re-enters Requesting from TimedOut.
func (v *PageView) Retry(ctx context.Context) (PageSnapshot, error) {
	v.mu.Lock()
	if v.state != PageStateTimedOut {
		snapshot := v.snapshotLocked()
		v.mu.Unlock()
		return snapshot, fmt.Errorf("retry page %s in state %s: %w", v.pageID, snapshot.State, ErrNotRetryable)
	}
	v.mu.Unlock()

	return v.load(ctx, v.begin()), nil
}

// Discard drops interest in any pending load and returns the view to Idle.
func (v *PageView) Discard() {
	v.mu.Lock()
	v.generation++
	v.state = PageStateIdle
	v.markup = ""
	v.err = nil
	snapshot := v.snapshotLocked()
	v.mu.Unlock()

	v.notify(snapshot)
}

func (v *PageView) begin() uint64 {
	v.mu.Lock()
	v.generation++
	generation := v.generation
	v.state = PageStateRequesting
	v.markup = ""
	v.err = nil
	snapshot := v.snapshotLocked()
	v.mu.Unlock()

	v.notify(snapshot)

	return generation
}

func (v *PageView) load(ctx context.Context, generation uint64) PageSnapshot {
	if markup, found := v.sharedMarkup(ctx); found {
		v.complete(generation, PageStateFulfilled, markup, nil)
		return v.Snapshot()
	}

	reply, err := v.requester.Request(ctx, vellum.ChannelContentRequest, vellum.ChannelContentResponse,
		ContentRequest{PageID: v.pageID})
	switch {
	case err == nil:
		markup, decodeErr := v.decodeReply(reply)
		if decodeErr != nil {
			v.complete(generation, PageStateTimedOut, "", decodeErr)
			break
		}
		v.complete(generation, PageStateFulfilled, markup, nil)
	case errors.Is(err, vellum.ErrDistributionTimeout):
		v.complete(generation, PageStateTimedOut, "", nil)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		v.abandon(generation)
	default:
		v.logger.WarnContext(ctx, "page request failed", "page_id", v.pageID, "error", err)
		v.complete(generation, PageStateTimedOut, "", err)
	}

	return v.Snapshot()
}

func (v *PageView) decodeReply(reply Envelope) (string, error) {
	var response ContentResponse
	if err := reply.DecodeBody(&response); err != nil {
		return "", err
	}
	if response.PageID != v.pageID {
		return "", fmt.Errorf("page %s reply names %s: %w", v.pageID, response.PageID, vellum.ErrInvalidMessage)
	}

	return response.Text()
}

func (v *PageView) sharedMarkup(ctx context.Context) (string, bool) {
	if v.blob == nil {
		return "", false
	}

	document, err := v.blob.Read(ctx)
	if err != nil {
		v.logger.DebugContext(ctx, "shared blob read failed", "page_id", v.pageID, "error", err)
		return "", false
	}

	return pageMarkup(document, v.pageID)
}

// Follow keeps a fulfilled view in step with markup the Host later shares
// through the blob for the same page. It never sends requests and leaves
// timed out views alone. The returned function stops following.
func (v *PageView) Follow() (stop func()) {
	if v.blob == nil {
		return func() {}
	}

	return v.blob.OnChange(func(_ context.Context, document vellum.BlobDocument) {
		markup, found := pageMarkup(document, v.pageID)
		if !found {
			return
		}

		v.mu.Lock()
		if v.state != PageStateFulfilled || v.markup == markup {
			v.mu.Unlock()
			return
		}
		v.markup = markup
		snapshot := v.snapshotLocked()
		v.mu.Unlock()

		v.notify(snapshot)
	})
}

func pageMarkup(document vellum.BlobDocument, pageID string) (string, bool) {
	raw, exists := document[BlobPageKey(pageID)]
	if !exists {
		return "", false
	}

	var markup string
	if err := json.Unmarshal(raw, &markup); err != nil || markup == "" {
		return "", false
	}

	return markup, true
}

// complete applies a terminal state when generation is still current.
func (v *PageView) complete(generation uint64, state PageState, markup string, err error) {
	v.mu.Lock()
	if generation != v.generation {
		v.mu.Unlock()
		return
	}
	v.state = state
	v.markup = markup
	v.err = err
	snapshot := v.snapshotLocked()
	v.mu.Unlock()

	v.notify(snapshot)
}

func (v *PageView) abandon(generation uint64) {
	v.mu.Lock()
	if generation != v.generation {
		v.mu.Unlock()
		return
	}
	v.state = PageStateIdle
	snapshot := v.snapshotLocked()
	v.mu.Unlock()

	v.notify(snapshot)
}

func (v *PageView) notify(snapshot PageSnapshot) {
	if v.listener != nil {
		v.listener(snapshot)
	}
}
