package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ex-vellum/internal/driver"
	"ex-vellum/internal/render"
	"ex-vellum/pkg/vellum"
)

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func newTestRegistry(t *testing.T) *driver.Registry {
	t.Helper()

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry: %v", err)
	}

	return registry
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseLogLevel(testCase.input)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr {
				return
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	values, err := parseFlags([]string{"--config", "state/vellum.json", "--http-addr", ":9090"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if values.configFile != "state/vellum.json" || values.httpAddr != ":9090" {
		t.Fatalf("flags = %+v", values)
	}

	if _, err := parseFlags([]string{"--unknown"}); err == nil {
		t.Fatal("expected unknown flag error")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads all supported fields from config file", func(t *testing.T) {
		t.Setenv(envProviderToken, "")
		configPath := filepath.Join(t.TempDir(), "vellum.json")
		navigationPath := filepath.Join(t.TempDir(), "navigation.json")
		writeConfigFile(t, configPath, `{
			// comments are allowed
			"log_level":"warn",
			"role":"host",
			"member_id":"host-1",
			"format":"markdown",
			"navigation_file":"`+navigationPath+`",
			"kernel":{
				"module_hook_timeout":"7s",
				"shutdown_timeout":"15s",
				"handler_timeout":"2s",
				"subscription_buffer":64,
				"subscription_workers":5,
				"max_payload_bytes":32768,
			},
			"transport":{"type":"memory","config":{"local_quota_bytes":4096}},
			"provider":{
				"token":"secret_abc",
				"base_url":"https://notion.example",
				"notion_version":"2022-06-28",
				"timeout":"20s"
			},
			"cache":{"rendered_capacity":5},
			"distribution":{
				"request_timeout":"4s",
				"blob_budget_bytes":8192,
				"blob_headroom_bytes":512,
				"share_pages_via_blob":true
			},
			"http":{"addr":":8080","read_header_timeout":"1s"}
		}`)

		cfg, err := loadConfig(flagValues{configFile: configPath}, newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelWarn {
			t.Fatalf("log level = %v, want %v", cfg.logLevel, slog.LevelWarn)
		}
		if cfg.identity != (vellum.MemberIdentity{MemberID: "host-1", Role: vellum.RoleHost}) {
			t.Fatalf("identity = %+v", cfg.identity)
		}
		if cfg.format != render.FormatMarkdown {
			t.Fatalf("format = %s, want markdown", cfg.format)
		}
		if cfg.navigationFile != navigationPath {
			t.Fatalf("navigation file = %q", cfg.navigationFile)
		}
		if cfg.moduleHookTimeout != 7*time.Second || cfg.shutdownTimeout != 15*time.Second || cfg.handlerTimeout != 2*time.Second {
			t.Fatalf("kernel timeouts = %s %s %s", cfg.moduleHookTimeout, cfg.shutdownTimeout, cfg.handlerTimeout)
		}
		if cfg.subscriptionBuffer != 64 || cfg.subscriptionWorkers != 5 || cfg.maxPayloadBytes != 32768 {
			t.Fatalf("kernel sizes = %d %d %d", cfg.subscriptionBuffer, cfg.subscriptionWorkers, cfg.maxPayloadBytes)
		}
		if cfg.transport.Type != driver.TypeMemory || cfg.transport.MemberID != "host-1" {
			t.Fatalf("transport = %+v", cfg.transport)
		}
		if !strings.Contains(string(cfg.transport.Config), "local_quota_bytes") {
			t.Fatalf("transport config = %s", cfg.transport.Config)
		}
		if cfg.providerToken != "secret_abc" || cfg.providerBaseURL != "https://notion.example" {
			t.Fatalf("provider = %q %q", cfg.providerToken, cfg.providerBaseURL)
		}
		if cfg.providerVersion != "2022-06-28" || cfg.providerTimeout != 20*time.Second {
			t.Fatalf("provider version/timeout = %q %s", cfg.providerVersion, cfg.providerTimeout)
		}
		if cfg.renderedCapacity != 5 {
			t.Fatalf("rendered capacity = %d, want 5", cfg.renderedCapacity)
		}
		if cfg.requestTimeout != 4*time.Second || cfg.blobBudget != 8192 || cfg.blobHeadroom != 512 || !cfg.sharePagesViaBlob {
			t.Fatalf("distribution = %s %d %d %v", cfg.requestTimeout, cfg.blobBudget, cfg.blobHeadroom, cfg.sharePagesViaBlob)
		}
		if cfg.httpAddr != ":8080" || cfg.readHeaderTimeout != time.Second {
			t.Fatalf("http = %q %s", cfg.httpAddr, cfg.readHeaderTimeout)
		}
	})

	t.Run("applies defaults and generates a member id", func(t *testing.T) {
		t.Setenv(envProviderToken, "")
		configPath := filepath.Join(t.TempDir(), "vellum.json")
		writeConfigFile(t, configPath, `{}`)

		cfg, err := loadConfig(flagValues{configFile: configPath}, newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.identity.Role != vellum.RoleGuest {
			t.Fatalf("role = %s, want guest", cfg.identity.Role)
		}
		if cfg.identity.MemberID == "" {
			t.Fatal("expected generated member id")
		}
		if cfg.transport.Type != driver.TypeMemory {
			t.Fatalf("transport type = %s, want memory", cfg.transport.Type)
		}
		if cfg.blobBudget != vellum.DefaultBlobBudgetBytes || cfg.blobHeadroom != vellum.DefaultBlobHeadroomBytes {
			t.Fatalf("blob = %d/%d", cfg.blobBudget, cfg.blobHeadroom)
		}
	})

	t.Run("flags and environment override the file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "vellum.json")
		writeConfigFile(t, configPath, `{"role":"host","member_id":"h","provider":{"token":"from-file"},"http":{"addr":":1"}}`)
		t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "missing.json"))
		t.Setenv(envProviderToken, "from-env")

		cfg, err := loadConfig(flagValues{configFile: configPath, httpAddr: ":2"}, newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.providerToken != "from-env" {
			t.Fatalf("provider token = %q, want from-env", cfg.providerToken)
		}
		if cfg.httpAddr != ":2" {
			t.Fatalf("http addr = %q, want :2", cfg.httpAddr)
		}
	})

	t.Run("loads config from environment path", func(t *testing.T) {
		t.Setenv(envProviderToken, "")
		configPath := filepath.Join(t.TempDir(), "custom.json")
		writeConfigFile(t, configPath, `{"member_id":"guest-7"}`)
		t.Setenv(envConfigFile, configPath)

		cfg, err := loadConfig(flagValues{}, newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.identity.MemberID != "guest-7" {
			t.Fatalf("member id = %q, want guest-7", cfg.identity.MemberID)
		}
	})

	t.Run("returns error when no config file is found", func(t *testing.T) {
		t.Setenv(envConfigFile, "")
		workDir := t.TempDir()
		t.Chdir(workDir)

		_, err := loadConfig(flagValues{}, newTestRegistry(t))
		if err == nil || !strings.Contains(err.Error(), "config file not found") {
			t.Fatalf("error = %v, want config file not found", err)
		}
	})

	t.Run("loads fallback path bin/config/vellum.json", func(t *testing.T) {
		t.Setenv(envConfigFile, "")
		t.Setenv(envProviderToken, "")
		workDir := t.TempDir()
		writeConfigFile(t, filepath.Join(workDir, "bin", "config", "vellum.json"), `{"member_id":"fallback"}`)
		t.Chdir(workDir)

		cfg, err := loadConfig(flagValues{}, newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.identity.MemberID != "fallback" {
			t.Fatalf("member id = %q, want fallback", cfg.identity.MemberID)
		}
	})
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
		wantIs  error
	}{
		{name: "malformed json", body: `{"role":`, wantErr: "parse config file"},
		{name: "bad log level", body: `{"log_level":"trace"}`, wantErr: "parse log_level"},
		{name: "bad role", body: `{"role":"owner"}`, wantErr: "parse role"},
		{name: "bad format", body: `{"format":"pdf"}`, wantErr: "parse format"},
		{name: "bad duration", body: `{"kernel":{"handler_timeout":"soon"}}`, wantErr: "parse kernel.handler_timeout"},
		{name: "zero duration", body: `{"kernel":{"shutdown_timeout":"0s"}}`, wantErr: "parse kernel.shutdown_timeout: must be > 0"},
		{name: "zero buffer", body: `{"kernel":{"subscription_buffer":0}}`, wantErr: "parse kernel.subscription_buffer: must be > 0"},
		{name: "zero capacity", body: `{"cache":{"rendered_capacity":0}}`, wantErr: "parse cache.rendered_capacity: must be > 0"},
		{name: "negative headroom", body: `{"distribution":{"blob_headroom_bytes":-1}}`, wantErr: "blob_headroom_bytes: must be >= 0"},
		{
			name:    "headroom above budget",
			body:    `{"distribution":{"blob_budget_bytes":100,"blob_headroom_bytes":100}}`,
			wantErr: "must be below distribution.blob_budget_bytes",
		},
		{name: "unknown transport", body: `{"transport":{"type":"carrier-pigeon"}}`, wantErr: "transport.type"},
		{name: "host without token", body: `{"role":"host"}`, wantErr: "provider.token is required"},
		{
			name:   "guest with token",
			body:   `{"role":"guest","provider":{"token":"secret"}}`,
			wantIs: vellum.ErrRoleNotPermitted,
		},
		{
			name:   "peer with navigation file",
			body:   `{"role":"privileged_peer","navigation_file":"nav.json"}`,
			wantIs: vellum.ErrRoleNotPermitted,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Setenv(envProviderToken, "")
			configPath := filepath.Join(t.TempDir(), "vellum.json")
			writeConfigFile(t, configPath, testCase.body)

			_, err := loadConfig(flagValues{configFile: configPath}, newTestRegistry(t))
			if err == nil {
				t.Fatal("expected error")
			}
			if testCase.wantErr != "" && !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, testCase.wantErr)
			}
			if testCase.wantIs != nil && !errors.Is(err, testCase.wantIs) {
				t.Fatalf("error = %v, want %v", err, testCase.wantIs)
			}
		})
	}
}

func TestBuildSessionConfig(t *testing.T) {
	t.Parallel()

	navigationPath := filepath.Join(t.TempDir(), "navigation.json")
	writeConfigFile(t, navigationPath, `{
		// sidebar
		"categories": [{"id": "c1", "name": "Meetings", "pages": [{"id": "page-1", "title": "Agenda"}]}]
	}`)

	cfg := defaultAppConfig()
	cfg.identity = vellum.MemberIdentity{MemberID: "host-1", Role: vellum.RoleHost}
	cfg.providerToken = "secret"
	cfg.navigationFile = navigationPath
	cfg.transport = driver.Definition{Type: driver.TypeMemory}

	registry := newTestRegistry(t)
	transport, err := registry.Build(context.Background(), cfg.transport, nil)
	if err != nil {
		t.Fatalf("build transport: %v", err)
	}

	sessionConfig, err := buildSessionConfig(cfg, transport, slog.Default())
	if err != nil {
		t.Fatalf("build session config: %v", err)
	}
	if sessionConfig.Provider == nil {
		t.Fatal("expected notion provider")
	}
	if sessionConfig.LocalStore == nil || sessionConfig.Blob == nil {
		t.Fatal("expected transport stores in session config")
	}
	if sessionConfig.Channel != nil {
		t.Fatal("memory transport should leave the channel unset")
	}
	categories := sessionConfig.Navigation.Categories
	if len(categories) != 1 || len(categories[0].Pages) != 1 || categories[0].Pages[0].ID != "page-1" {
		t.Fatalf("navigation = %+v", sessionConfig.Navigation)
	}

	cfg.navigationFile = filepath.Join(t.TempDir(), "missing.json")
	if _, err := buildSessionConfig(cfg, transport, slog.Default()); err == nil {
		t.Fatal("expected missing navigation file error")
	}
}
