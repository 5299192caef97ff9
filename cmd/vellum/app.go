package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"golang.org/x/sync/errgroup"

	"ex-vellum/internal/driver"
	"ex-vellum/internal/httpapi"
	"ex-vellum/internal/kernel"
	"ex-vellum/internal/metrics"
	"ex-vellum/internal/navigation"
	"ex-vellum/internal/provider/notion"
	"ex-vellum/internal/render"
	"ex-vellum/internal/rendercache"
	"ex-vellum/internal/session"
	"ex-vellum/pkg/vellum"
)

const (
	envConfigFile             = "VELLUM_CONFIG_FILE"
	envProviderToken          = "VELLUM_PROVIDER_TOKEN"
	defaultConfigFilePath     = "config/vellum.json"
	alternateConfigFilePath   = "bin/config/vellum.json"
	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultHandlerTimeout     = 3 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2
	defaultRequestTimeout     = 10 * time.Second
	defaultReadHeaderTimeout  = 5 * time.Second
)

type appConfig struct {
	logLevel slog.Level

	identity       vellum.MemberIdentity
	format         render.Format
	navigationFile string

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int
	maxPayloadBytes     int

	transport driver.Definition

	providerToken   string
	providerBaseURL string
	providerVersion string
	providerTimeout time.Duration

	renderedCapacity  int
	requestTimeout    time.Duration
	blobBudget        int
	blobHeadroom      int
	sharePagesViaBlob bool

	httpAddr          string
	readHeaderTimeout time.Duration
}

type fileConfig struct {
	LogLevel       string                 `json:"log_level"`
	Role           string                 `json:"role"`
	MemberID       string                 `json:"member_id"`
	Format         string                 `json:"format"`
	NavigationFile string                 `json:"navigation_file"`
	Kernel         fileKernelConfig       `json:"kernel"`
	Transport      fileTransportConfig    `json:"transport"`
	Provider       fileProviderConfig     `json:"provider"`
	Cache          fileCacheConfig        `json:"cache"`
	Distribution   fileDistributionConfig `json:"distribution"`
	HTTP           fileHTTPConfig         `json:"http"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	HandlerTimeout      string `json:"handler_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
	MaxPayloadBytes     *int   `json:"max_payload_bytes"`
}

type fileTransportConfig struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

type fileProviderConfig struct {
	Token         string `json:"token"`
	BaseURL       string `json:"base_url"`
	NotionVersion string `json:"notion_version"`
	Timeout       string `json:"timeout"`
}

type fileCacheConfig struct {
	RenderedCapacity *int `json:"rendered_capacity"`
}

type fileDistributionConfig struct {
	RequestTimeout    string `json:"request_timeout"`
	BlobBudgetBytes   *int   `json:"blob_budget_bytes"`
	BlobHeadroomBytes *int   `json:"blob_headroom_bytes"`
	SharePagesViaBlob *bool  `json:"share_pages_via_blob"`
}

type fileHTTPConfig struct {
	Addr              string `json:"addr"`
	ReadHeaderTimeout string `json:"read_header_timeout"`
}

type flagValues struct {
	configFile string
	httpAddr   string
}

func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin transport registry: %w", err)
	}

	cfg, err := loadConfig(flags, registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := registry.Build(ctx, cfg.transport, logger)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.shutdownTimeout)
		defer cancel()
		if err := transport.Close(closeCtx); err != nil {
			logger.Error("transport close failed", "error", err)
		}
	}()

	sessionConfig, err := buildSessionConfig(cfg, transport, logger)
	if err != nil {
		return err
	}

	sessionMetrics := metrics.New(prometheus.DefaultRegisterer)
	memberSession, err := session.New(ctx, sessionConfig,
		session.WithLogger(logger),
		session.WithMetrics(sessionMetrics),
		session.WithKernelOptions(buildKernelOptions(cfg)...),
	)
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}

	logger.Info("vellum session starting",
		"member_id", cfg.identity.MemberID,
		"role", string(cfg.identity.Role),
		"transport", cfg.transport.Type,
		"renders", memberSession.CanRender(),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := memberSession.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run session: %w", err)
		}
		return nil
	})
	if cfg.httpAddr != "" {
		server := &http.Server{
			Addr: cfg.httpAddr,
			Handler: httpapi.New(memberSession,
				httpapi.WithGatherer(prometheus.DefaultGatherer),
				httpapi.WithLogger(logger),
			).Router(),
			ReadHeaderTimeout: cfg.readHeaderTimeout,
		}
		group.Go(func() error {
			logger.Info("http api listening", "addr", cfg.httpAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve http: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), cfg.shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown http: %w", err)
			}
			return nil
		})
	}

	return group.Wait()
}

func parseFlags(args []string) (flagValues, error) {
	var values flagValues

	flags := pflag.NewFlagSet("vellum", pflag.ContinueOnError)
	flags.StringVarP(&values.configFile, "config", "c", "", "path to the JSON config file (overrides "+envConfigFile+")")
	flags.StringVar(&values.httpAddr, "http-addr", "", "listen address for the HTTP API (overrides http.addr)")
	if err := flags.Parse(args); err != nil {
		return flagValues{}, fmt.Errorf("parse flags: %w", err)
	}

	return values, nil
}

func loadConfig(flags flagValues, registry *driver.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath(flags.configFile)
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if addr := strings.TrimSpace(flags.httpAddr); addr != "" {
		cfg.httpAddr = addr
	}
	if token := strings.TrimSpace(os.Getenv(envProviderToken)); token != "" {
		cfg.providerToken = token
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath(explicit string) (string, error) {
	if configFile := strings.TrimSpace(explicit); configFile != "" {
		return configFile, nil
	}
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, pass --config, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		identity: vellum.MemberIdentity{Role: vellum.RoleGuest},
		format:   render.FormatHTML,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		transport: driver.Definition{Type: driver.TypeMemory},

		renderedCapacity: rendercache.DefaultCapacity,
		requestTimeout:   defaultRequestTimeout,
		blobBudget:       vellum.DefaultBlobBudgetBytes,
		blobHeadroom:     vellum.DefaultBlobHeadroomBytes,

		readHeaderTimeout: defaultReadHeaderTimeout,
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	if rawRole := strings.TrimSpace(parsed.Role); rawRole != "" {
		role, err := vellum.ParseRole(rawRole)
		if err != nil {
			return fmt.Errorf("parse role: %w", err)
		}
		cfg.identity.Role = role
	}
	cfg.identity.MemberID = strings.TrimSpace(parsed.MemberID)
	if rawFormat := strings.TrimSpace(parsed.Format); rawFormat != "" {
		if _, _, err := render.ForFormat(render.Format(rawFormat)); err != nil {
			return fmt.Errorf("parse format: %w", err)
		}
		cfg.format = render.Format(strings.ToLower(rawFormat))
	}
	cfg.navigationFile = strings.TrimSpace(parsed.NavigationFile)

	if err := parsePositiveDuration(parsed.Kernel.ModuleHookTimeout, "kernel.module_hook_timeout", &cfg.moduleHookTimeout); err != nil {
		return err
	}
	if err := parsePositiveDuration(parsed.Kernel.ShutdownTimeout, "kernel.shutdown_timeout", &cfg.shutdownTimeout); err != nil {
		return err
	}
	if err := parsePositiveDuration(parsed.Kernel.HandlerTimeout, "kernel.handler_timeout", &cfg.handlerTimeout); err != nil {
		return err
	}
	if err := parsePositiveInt(parsed.Kernel.SubscriptionBuffer, "kernel.subscription_buffer", &cfg.subscriptionBuffer); err != nil {
		return err
	}
	if err := parsePositiveInt(parsed.Kernel.SubscriptionWorkers, "kernel.subscription_workers", &cfg.subscriptionWorkers); err != nil {
		return err
	}
	if err := parsePositiveInt(parsed.Kernel.MaxPayloadBytes, "kernel.max_payload_bytes", &cfg.maxPayloadBytes); err != nil {
		return err
	}

	if transportType := strings.TrimSpace(parsed.Transport.Type); transportType != "" {
		cfg.transport.Type = transportType
	}
	cfg.transport.Config = append([]byte(nil), parsed.Transport.Config...)

	cfg.providerToken = strings.TrimSpace(parsed.Provider.Token)
	cfg.providerBaseURL = strings.TrimSpace(parsed.Provider.BaseURL)
	cfg.providerVersion = strings.TrimSpace(parsed.Provider.NotionVersion)
	if err := parsePositiveDuration(parsed.Provider.Timeout, "provider.timeout", &cfg.providerTimeout); err != nil {
		return err
	}

	if err := parsePositiveInt(parsed.Cache.RenderedCapacity, "cache.rendered_capacity", &cfg.renderedCapacity); err != nil {
		return err
	}

	if err := parsePositiveDuration(parsed.Distribution.RequestTimeout, "distribution.request_timeout", &cfg.requestTimeout); err != nil {
		return err
	}
	if err := parsePositiveInt(parsed.Distribution.BlobBudgetBytes, "distribution.blob_budget_bytes", &cfg.blobBudget); err != nil {
		return err
	}
	if parsed.Distribution.BlobHeadroomBytes != nil {
		if *parsed.Distribution.BlobHeadroomBytes < 0 {
			return fmt.Errorf("parse distribution.blob_headroom_bytes: must be >= 0")
		}
		cfg.blobHeadroom = *parsed.Distribution.BlobHeadroomBytes
	}
	if parsed.Distribution.SharePagesViaBlob != nil {
		cfg.sharePagesViaBlob = *parsed.Distribution.SharePagesViaBlob
	}

	cfg.httpAddr = strings.TrimSpace(parsed.HTTP.Addr)
	if err := parsePositiveDuration(parsed.HTTP.ReadHeaderTimeout, "http.read_header_timeout", &cfg.readHeaderTimeout); err != nil {
		return err
	}

	return nil
}

func parsePositiveDuration(raw string, key string, target *time.Duration) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("parse %s: must be > 0", key)
	}
	*target = parsed

	return nil
}

func parsePositiveInt(raw *int, key string, target *int) error {
	if raw == nil {
		return nil
	}
	if *raw <= 0 {
		return fmt.Errorf("parse %s: must be > 0", key)
	}
	*target = *raw

	return nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil transport registry")
	}

	if cfg.identity.MemberID == "" {
		cfg.identity.MemberID = uuid.NewString()
	}
	cfg.transport.MemberID = cfg.identity.MemberID

	if err := registry.Supports(cfg.transport.Type); err != nil {
		return fmt.Errorf("transport.type: %w", err)
	}

	switch cfg.identity.Role {
	case vellum.RoleHost:
		if cfg.providerToken == "" {
			return fmt.Errorf("provider.token is required for role %s", cfg.identity.Role)
		}
	case vellum.RoleGuest:
		if cfg.providerToken != "" {
			return fmt.Errorf("provider.token: %w for role %s", vellum.ErrRoleNotPermitted, cfg.identity.Role)
		}
		if cfg.navigationFile != "" {
			return fmt.Errorf("navigation_file: %w for role %s", vellum.ErrRoleNotPermitted, cfg.identity.Role)
		}
	case vellum.RolePrivilegedPeer:
		if cfg.navigationFile != "" {
			return fmt.Errorf("navigation_file: %w for role %s", vellum.ErrRoleNotPermitted, cfg.identity.Role)
		}
	}

	if cfg.blobHeadroom >= cfg.blobBudget {
		return fmt.Errorf("distribution.blob_headroom_bytes must be below distribution.blob_budget_bytes")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func buildKernelOptions(cfg appConfig) []kernel.Option {
	return []kernel.Option{
		kernel.WithLifecycleTimeouts(cfg.moduleHookTimeout, cfg.shutdownTimeout),
		kernel.WithBusLimits(kernel.BusLimits{
			QueueDepth:      cfg.subscriptionBuffer,
			Workers:         cfg.subscriptionWorkers,
			HandlerTimeout:  cfg.handlerTimeout,
			MaxPayloadBytes: cfg.maxPayloadBytes,
		}),
	}
}

func buildSessionConfig(cfg appConfig, transport *driver.Runtime, logger *slog.Logger) (session.Config, error) {
	sessionConfig := session.Config{
		Identity:          cfg.identity,
		LocalStore:        transport.LocalStore,
		Channel:           transport.Channel,
		Blob:              transport.Blob,
		Format:            cfg.format,
		RenderedCapacity:  cfg.renderedCapacity,
		RequestTimeout:    cfg.requestTimeout,
		BlobBudget:        cfg.blobBudget,
		BlobHeadroom:      cfg.blobHeadroom,
		SharePagesViaBlob: cfg.sharePagesViaBlob,
	}

	if cfg.providerToken != "" {
		client, err := notion.NewClient(notion.ClientConfig{
			Token:   cfg.providerToken,
			BaseURL: cfg.providerBaseURL,
			Version: cfg.providerVersion,
			Timeout: cfg.providerTimeout,
			Logger:  logger,
		})
		if err != nil {
			return session.Config{}, fmt.Errorf("new content provider: %w", err)
		}
		sessionConfig.Provider = client
	}

	if cfg.navigationFile != "" {
		navigationConfig, err := navigation.LoadFile(cfg.navigationFile)
		if err != nil {
			return session.Config{}, fmt.Errorf("load navigation: %w", err)
		}
		sessionConfig.Navigation = navigationConfig
	}

	return sessionConfig, nil
}
