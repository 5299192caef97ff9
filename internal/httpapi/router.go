// Package httpapi exposes the Host's preview and operations surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ex-vellum/internal/resolver"
	"ex-vellum/pkg/vellum"
)

const requestTimeout = 30 * time.Second

// Pages is the rendering surface the API drives.
type Pages interface {
	RenderPage(ctx context.Context, pageID string, opts resolver.Options) (string, error)
	RefreshPage(ctx context.Context, pageID string, opts resolver.Options) (string, error)
	InvalidateAll(ctx context.Context) error
	PageMeta(ctx context.Context, pageID string) (vellum.PageMeta, error)
	Navigation() vellum.NavigationConfig
}

// Handler serves page previews, cache operations, health and metrics.
type Handler struct {
	pages       Pages
	gatherer    prometheus.Gatherer
	contentType string
	logger      *slog.Logger
}

// Option mutates handler configuration.
type Option func(*Handler)

// WithGatherer selects the registry served at /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(h *Handler) {
		if gatherer != nil {
			h.gatherer = gatherer
		}
	}
}

// WithContentType sets the content type of rendered markup.
func WithContentType(contentType string) Option {
	return func(h *Handler) {
		if contentType != "" {
			h.contentType = contentType
		}
	}
}

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New creates a handler over pages.
func New(pages Pages, opts ...Option) *Handler {
	h := &Handler{
		pages:       pages,
		gatherer:    prometheus.DefaultGatherer,
		contentType: "text/html; charset=utf-8",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Router wires every endpoint.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	r.Get("/navigation", h.handleNavigation)
	r.Route("/pages/{pageID}", func(r chi.Router) {
		r.Get("/", h.handleRender)
		r.Post("/refresh", h.handleRefresh)
		r.Get("/meta", h.handleMeta)
	})
	r.Delete("/cache", h.handleInvalidateAll)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleNavigation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.pages.Navigation())
}

func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	opts, err := parseOptions(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}

	markup, err := h.pages.RenderPage(r.Context(), chi.URLParam(r, "pageID"), opts)
	h.writeMarkup(w, r, markup, err)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	opts, err := parseOptions(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}

	markup, err := h.pages.RefreshPage(r.Context(), chi.URLParam(r, "pageID"), opts)
	h.writeMarkup(w, r, markup, err)
}

func (h *Handler) handleMeta(w http.ResponseWriter, r *http.Request) {
	meta, err := h.pages.PageMeta(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

func (h *Handler) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	if err := h.pages.InvalidateAll(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeMarkup(w http.ResponseWriter, r *http.Request, markup string, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", h.contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markup))
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, vellum.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, vellum.ErrUnauthorized):
		status, code = http.StatusBadGateway, "unauthorized"
	case errors.Is(err, vellum.ErrProviderUnavailable):
		status, code = http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}

	h.logger.WarnContext(r.Context(), "http request failed",
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(r.Context()),
		"error", err,
	)
	writeJSON(w, status, errorBody{Error: code, Message: vellum.UserMessageFor(err)})
}

// parseOptions reads ?types=a,b&heading_offset=n&skip_cache=true.
func parseOptions(r *http.Request) (resolver.Options, error) {
	query := r.URL.Query()
	opts := resolver.Options{}

	if raw := strings.TrimSpace(query.Get("types")); raw != "" {
		types := make([]vellum.BlockType, 0)
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				types = append(types, vellum.BlockType(name))
			}
		}
		opts.TypeFilter = resolver.NewTypeFilter(types...)
	}
	if raw := query.Get("heading_offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return resolver.Options{}, errors.New("heading_offset must be a non-negative integer")
		}
		opts.HeadingOffset = offset
	}
	if raw := query.Get("skip_cache"); raw != "" {
		skip, err := strconv.ParseBool(raw)
		if err != nil {
			return resolver.Options{}, errors.New("skip_cache must be a boolean")
		}
		opts.SkipCache = skip
	}

	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
