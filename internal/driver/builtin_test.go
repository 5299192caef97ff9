package driver

import (
	"context"
	"strings"
	"testing"
	"time"

	"ex-vellum/internal/driver/redisroom"
)

func TestNewBuiltinRegistryTypes(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}
	for _, transportType := range []string{TypeMemory, TypeRedis} {
		if err := registry.Supports(transportType); err != nil {
			t.Fatalf("supports %s: %v", transportType, err)
		}
	}
	if err := registry.Supports("websocket"); err == nil {
		t.Fatal("expected unsupported type error")
	}
}

func TestBuildMemoryRuntime(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}

	runtime, err := registry.Build(context.Background(), Definition{
		Type:   TypeMemory,
		Config: []byte(`{"local_quota_bytes":1024,"blob_hard_limit_bytes":2048}`),
	}, nil)
	if err != nil {
		t.Fatalf("build memory runtime failed: %v", err)
	}
	if runtime.Channel != nil {
		t.Fatal("memory transport should leave the channel to the kernel")
	}
	if runtime.Blob == nil || runtime.LocalStore == nil {
		t.Fatalf("runtime = %+v, want blob and local store", runtime)
	}
	if err := runtime.LocalStore.Set(context.Background(), "k", []byte(`"`+strings.Repeat("x", 4096)+`"`)); err == nil {
		t.Fatal("expected quota error from the configured local store")
	}
	if err := runtime.Close(context.Background()); err != nil {
		t.Fatalf("close = %v", err)
	}

	if _, err := registry.Build(context.Background(), Definition{
		Type:   TypeMemory,
		Config: []byte(`{"local_quota_bytes":-1}`),
	}, nil); err == nil {
		t.Fatal("expected negative quota error")
	}
}

func TestParseRedisConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr string
		check   func(t *testing.T, cfg parsedRedisConfig)
	}{
		{name: "missing", raw: "", wantErr: "missing config"},
		{name: "missing url", raw: `{}`, wantErr: "url is required"},
		{name: "bad url", raw: `{"url":"http://localhost"}`, wantErr: "parse url"},
		{name: "bad timeout", raw: `{"url":"redis://localhost:6379","dial_check_timeout":"0s"}`, wantErr: "must be > 0"},
		{name: "negative payload", raw: `{"url":"redis://localhost:6379","max_payload_bytes":-1}`, wantErr: "max_payload_bytes"},
		{
			name: "room prefix",
			raw:  `{"url":"redis://localhost:6390/2","room":"standup","dial_check_timeout":"2s","max_payload_bytes":4096}`,
			check: func(t *testing.T, cfg parsedRedisConfig) {
				t.Helper()
				if cfg.prefix != redisroom.DefaultPrefix+"standup:" {
					t.Fatalf("prefix = %q", cfg.prefix)
				}
				if cfg.options.Addr != "localhost:6390" || cfg.options.DB != 2 {
					t.Fatalf("options = %s db %d", cfg.options.Addr, cfg.options.DB)
				}
				if cfg.dialCheckTimeout != 2*time.Second {
					t.Fatalf("dial check timeout = %s", cfg.dialCheckTimeout)
				}
				if cfg.maxPayloadBytes != 4096 {
					t.Fatalf("max payload = %d", cfg.maxPayloadBytes)
				}
			},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := parseRedisConfig([]byte(testCase.raw))
			if testCase.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			testCase.check(t, cfg)
		})
	}
}

func TestBuildRedisRuntimeUnreachable(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}

	_, err = registry.Build(context.Background(), Definition{
		Type:   TypeRedis,
		Config: []byte(`{"url":"redis://127.0.0.1:1","dial_check_timeout":"200ms"}`),
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "channel unavailable") {
		t.Fatalf("error = %v, want channel unavailable", err)
	}
}
