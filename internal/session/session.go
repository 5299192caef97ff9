// Package session composes the per-member runtime for one role.
//
// A Host resolves pages through its Content Provider, keeps rendered markup
// for Guests and owns the navigation config. A Privileged Peer mirrors the
// visible subset, may fetch the full config and may resolve pages itself when
// it holds credentials. A Guest only mirrors and requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ex-vellum/internal/contentcache"
	"ex-vellum/internal/distribution"
	"ex-vellum/internal/kernel"
	"ex-vellum/internal/localstore"
	"ex-vellum/internal/metrics"
	"ex-vellum/internal/navigation"
	"ex-vellum/internal/render"
	"ex-vellum/internal/rendercache"
	"ex-vellum/internal/resolver"
	"ex-vellum/modules/contentrelay"
	"ex-vellum/modules/subsetsync"
	"ex-vellum/pkg/vellum"
)

// Option mutates session construction.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	kernelOptions []kernel.Option
}

// WithLogger injects a logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithMetrics injects collectors shared by every component.
func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *options) {
		opts.metrics = m
	}
}

// WithKernelOptions appends kernel options.
func WithKernelOptions(kernelOptions ...kernel.Option) Option {
	return func(opts *options) {
		opts.kernelOptions = append(opts.kernelOptions, kernelOptions...)
	}
}

// Session is one member's composed runtime.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	kernel  *kernel.Kernel

	// Set for members holding provider credentials.
	source     *contentcache.Source
	resolver   *resolver.Resolver
	serializer render.Serializer
	rendered   *rendercache.Cache

	navigation *navigation.Store
	mirror     *distribution.SubsetMirror
	requester  *distribution.Requester
	blob       *distribution.BlobGuard
}

// New composes a session for cfg.Identity.Role.
func New(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	resolved := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&resolved)
	}
	logger := resolved.logger.With("member_id", cfg.Identity.MemberID, "role", string(cfg.Identity.Role))

	kernelOptions := []kernel.Option{
		kernel.WithMemberIdentity(cfg.Identity),
		kernel.WithLogger(logger),
	}
	if cfg.Channel != nil {
		kernelOptions = append(kernelOptions, kernel.WithRoomChannel(cfg.Channel))
	}
	kernelOptions = append(kernelOptions, resolved.kernelOptions...)

	s := &Session{
		cfg:     cfg,
		logger:  logger,
		metrics: resolved.metrics,
		kernel:  kernel.New(kernelOptions...),
	}

	requester, err := distribution.NewRequester(s.kernel.Channel(), cfg.Identity,
		distribution.WithTimeout(cfg.RequestTimeout),
		distribution.WithRequesterLogger(logger),
		distribution.WithRequesterMetrics(resolved.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	s.requester = requester

	if cfg.Blob != nil {
		guard, err := distribution.NewBlobGuard(cfg.Blob, cfg.Identity.Role,
			distribution.WithBudget(cfg.BlobBudget, cfg.BlobHeadroom),
			distribution.WithBlobMetrics(resolved.metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("new session: %w", err)
		}
		s.blob = guard
	}

	if cfg.Provider != nil {
		if err := s.composeRendering(ctx); err != nil {
			return nil, fmt.Errorf("new session: %w", err)
		}
	}

	if cfg.Identity.Role == vellum.RoleHost {
		if err := s.composeHost(ctx); err != nil {
			return nil, fmt.Errorf("new session: %w", err)
		}
		return s, nil
	}

	mirror, err := distribution.NewSubsetMirror(ctx, requester, logger)
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	s.mirror = mirror

	return s, nil
}

func (s *Session) composeRendering(_ context.Context) error {
	store := s.cfg.LocalStore
	if store == nil {
		store = localstore.NewMemory(0)
	}
	cache, err := contentcache.New(store,
		contentcache.WithLogger(s.logger),
		contentcache.WithMetrics(s.metrics),
	)
	if err != nil {
		return err
	}
	source, err := contentcache.NewSource(cache, s.cfg.Provider,
		contentcache.WithSourceLogger(s.logger),
		contentcache.WithSourceMetrics(s.metrics),
	)
	if err != nil {
		return err
	}
	formatter, serializer, err := render.ForFormat(s.cfg.Format)
	if err != nil {
		return err
	}
	resolverRuntime, err := resolver.New(source, formatter,
		resolver.WithLogger(s.logger),
		resolver.WithMetrics(s.metrics),
	)
	if err != nil {
		return err
	}

	renderedOptions := []rendercache.Option{rendercache.WithMetrics(s.metrics)}
	if s.cfg.RenderedCapacity > 0 {
		renderedOptions = append(renderedOptions, rendercache.WithCapacity(s.cfg.RenderedCapacity))
	}

	s.source = source
	s.resolver = resolverRuntime
	s.serializer = serializer
	s.rendered = rendercache.New(renderedOptions...)

	return nil
}

func (s *Session) composeHost(ctx context.Context) error {
	store, err := navigation.NewStore(s.cfg.Navigation)
	if err != nil {
		return err
	}
	s.navigation = store

	if err := s.kernel.RegisterService(vellum.ServiceRenderedOutput, s.rendered); err != nil {
		return err
	}
	if err := s.kernel.RegisterService(vellum.ServiceNavigation, store); err != nil {
		return err
	}
	if err := s.kernel.RegisterModule(ctx, contentrelay.New(contentrelay.WithMetrics(s.metrics))); err != nil {
		return err
	}
	if err := s.kernel.RegisterModule(ctx, subsetsync.New()); err != nil {
		return err
	}

	return nil
}

// Run starts the session's modules and blocks until ctx is canceled.
func (s *Session) Run(ctx context.Context) error {
	runErr := s.kernel.Run(ctx)

	if s.mirror != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.requester.Timeout())
		defer cancel()
		if err := s.mirror.Close(closeCtx); err != nil && !errors.Is(err, vellum.ErrChannelUnavailable) {
			runErr = errors.Join(runErr, err)
		}
	}

	return runErr
}

// Identity returns the local member.
func (s *Session) Identity() vellum.MemberIdentity {
	return s.cfg.Identity
}

// Kernel exposes the session runtime.
func (s *Session) Kernel() *kernel.Kernel {
	return s.kernel
}

// CanRender reports whether this member resolves pages itself.
func (s *Session) CanRender() bool {
	return s.resolver != nil
}

// RenderPage resolves pageID to markup. Only complete renders are kept in the
// Rendered-Output Cache and shared with other members; filtered or re-leveled
// output goes to the caller alone.
func (s *Session) RenderPage(ctx context.Context, pageID string, opts resolver.Options) (string, error) {
	if s.resolver == nil {
		return "", fmt.Errorf("render page %s: %w", pageID, vellum.ErrProviderUnavailable)
	}

	nodes, err := s.resolver.ResolvePage(ctx, pageID, opts)
	if err != nil {
		return "", fmt.Errorf("render page %s: %w", pageID, err)
	}
	markup := s.serializer.Serialize(nodes)
	if opts.Complete() {
		s.rendered.Put(pageID, markup)
		s.sharePage(ctx, pageID, markup)
	}

	return markup, nil
}

// RefreshPage drops pageID's cached subtree and renders it from the provider.
func (s *Session) RefreshPage(ctx context.Context, pageID string, opts resolver.Options) (string, error) {
	if s.source == nil {
		return "", fmt.Errorf("refresh page %s: %w", pageID, vellum.ErrProviderUnavailable)
	}
	if err := s.source.Cache().InvalidatePage(ctx, pageID); err != nil {
		s.logger.WarnContext(ctx, "content cache invalidate failed", "page_id", pageID, "error", err)
	}
	s.rendered.Remove(pageID)
	s.unsharePage(ctx, pageID)

	opts.SkipCache = true

	return s.RenderPage(ctx, pageID, opts)
}

// InvalidateAll clears the Content Cache, the Rendered-Output Cache and any
// page markup this member shared through the blob.
func (s *Session) InvalidateAll(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("invalidate caches: %w", vellum.ErrProviderUnavailable)
	}
	if err := s.source.Cache().InvalidateAll(ctx); err != nil {
		return fmt.Errorf("invalidate caches: %w", err)
	}
	s.rendered.Clear()
	if s.sharesPages() {
		removed, err := s.blob.UnshareAllPages(ctx)
		if err != nil {
			return fmt.Errorf("invalidate caches: %w", err)
		}
		s.logger.DebugContext(ctx, "shared pages removed", "pages", removed)
	}

	return nil
}

// RenderedPage returns markup previously rendered by this member.
func (s *Session) RenderedPage(pageID string) (string, bool) {
	if s.rendered == nil {
		return "", false
	}

	return s.rendered.Get(pageID)
}

// PageMeta returns title and cover metadata for pageID.
func (s *Session) PageMeta(ctx context.Context, pageID string) (vellum.PageMeta, error) {
	if s.source == nil {
		return vellum.PageMeta{}, fmt.Errorf("page meta %s: %w", pageID, vellum.ErrProviderUnavailable)
	}

	return s.source.PageMeta(ctx, pageID)
}

// OpenPage creates a view that loads pageID from the Host.
func (s *Session) OpenPage(pageID string, opts ...distribution.PageViewOption) (*distribution.PageView, error) {
	viewOptions := []distribution.PageViewOption{distribution.WithPageViewLogger(s.logger)}
	if s.blob != nil {
		viewOptions = append(viewOptions, distribution.WithSharedBlob(s.blob))
	}
	viewOptions = append(viewOptions, opts...)

	view, err := distribution.NewPageView(pageID, s.requester, viewOptions...)
	if err != nil {
		return nil, fmt.Errorf("open page %s: %w", pageID, err)
	}

	return view, nil
}

// Navigation returns the config this member browses by: the full config on
// the Host and the mirrored visible subset elsewhere.
func (s *Session) Navigation() vellum.NavigationConfig {
	if s.navigation != nil {
		return s.navigation.Current()
	}

	return s.mirror.Current()
}

// WatchNavigation registers fn for navigation changes.
func (s *Session) WatchNavigation(fn func(change vellum.NavigationChange)) func() {
	if s.navigation != nil {
		return s.navigation.Watch(fn)
	}

	return s.mirror.Watch(fn)
}

// SetNavigation replaces the Host's config; the visible subset follows.
func (s *Session) SetNavigation(config vellum.NavigationConfig) error {
	if s.navigation == nil {
		return fmt.Errorf("set navigation as %s: %w", s.cfg.Identity.Role, vellum.ErrRoleNotPermitted)
	}
	changed, err := s.navigation.Set(config)
	if err != nil {
		return err
	}
	if changed && s.sharesPages() {
		ctx, cancel := context.WithTimeout(context.Background(), s.requester.Timeout())
		defer cancel()
		s.pruneSharedPages(ctx, config.VisibleSubset())
	}

	return nil
}

// RequestSubsetResend asks the Host to republish the visible subset.
func (s *Session) RequestSubsetResend(ctx context.Context) (vellum.NavigationConfig, error) {
	if s.mirror == nil {
		return s.navigation.Current().VisibleSubset(), nil
	}

	return s.mirror.RequestResend(ctx)
}

// RequestSnapshot fetches the Host's full config.
func (s *Session) RequestSnapshot(ctx context.Context) (vellum.NavigationConfig, error) {
	if s.navigation != nil {
		return s.navigation.Current(), nil
	}

	return distribution.RequestSnapshot(ctx, s.requester)
}

func (s *Session) sharesPages() bool {
	return s.blob != nil && s.cfg.SharePagesViaBlob && s.cfg.Identity.Role.CanWriteBlob()
}

// sharePage copies markup into the blob when Guests may read pageID.
func (s *Session) sharePage(ctx context.Context, pageID string, markup string) {
	if !s.sharesPages() {
		return
	}
	if !s.Navigation().VisibleSubset().ContainsPage(pageID) {
		s.logger.DebugContext(ctx, "rendered page not shared outside visible subset", "page_id", pageID)
		return
	}

	err := s.blob.SharePage(ctx, pageID, markup)
	switch {
	case err == nil:
	case errors.Is(err, vellum.ErrPayloadTooLarge):
		s.logger.DebugContext(ctx, "rendered page exceeds blob budget", "page_id", pageID, "bytes", len(markup))
	default:
		s.logger.WarnContext(ctx, "share rendered page failed", "page_id", pageID, "error", err)
	}
}

func (s *Session) unsharePage(ctx context.Context, pageID string) {
	if !s.sharesPages() {
		return
	}
	if err := s.blob.UnsharePage(ctx, pageID); err != nil {
		s.logger.WarnContext(ctx, "unshare rendered page failed", "page_id", pageID, "error", err)
	}
}

// pruneSharedPages removes shared markup of pages no longer in visible.
func (s *Session) pruneSharedPages(ctx context.Context, visible vellum.NavigationConfig) {
	document, err := s.blob.Read(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "read shared blob failed", "error", err)
		return
	}
	for key := range document {
		pageID, isPage := strings.CutPrefix(key, distribution.BlobPageKeyPrefix)
		if isPage && !visible.ContainsPage(pageID) {
			s.unsharePage(ctx, pageID)
		}
	}
}
