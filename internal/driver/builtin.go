package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ex-vellum/internal/distribution"
	"ex-vellum/internal/driver/redisroom"
	"ex-vellum/internal/localstore"
	"ex-vellum/pkg/vellum"
)

const (
	// TypeMemory keeps the whole session inside one process.
	TypeMemory = "memory"
	// TypeRedis shares the room channel and blob through Redis.
	TypeRedis = "redis"

	defaultDialCheckTimeout = 5 * time.Second
)

// NewBuiltinRegistry constructs the transport registry with all built-in types.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{Type: TypeMemory, Builder: buildMemoryRuntime},
		{Type: TypeRedis, Builder: buildRedisRuntime},
	})
}

type memoryConfig struct {
	LocalQuotaBytes    int `json:"local_quota_bytes"`
	BlobHardLimitBytes int `json:"blob_hard_limit_bytes"`
}

func buildMemoryRuntime(_ context.Context, definition Definition, _ *slog.Logger) (*Runtime, error) {
	var cfg memoryConfig
	if len(definition.Config) > 0 {
		if err := json.Unmarshal(definition.Config, &cfg); err != nil {
			return nil, fmt.Errorf("parse memory config: %w", err)
		}
	}
	if cfg.LocalQuotaBytes < 0 {
		return nil, fmt.Errorf("parse memory config local_quota_bytes: must be >= 0")
	}
	if cfg.BlobHardLimitBytes < 0 {
		return nil, fmt.Errorf("parse memory config blob_hard_limit_bytes: must be >= 0")
	}

	return &Runtime{
		Blob:       distribution.NewMemoryBlob(cfg.BlobHardLimitBytes),
		LocalStore: localstore.NewMemory(cfg.LocalQuotaBytes),
	}, nil
}

type redisConfig struct {
	URL                string `json:"url"`
	Room               string `json:"room"`
	MaxPayloadBytes    int    `json:"max_payload_bytes"`
	BlobHardLimitBytes int    `json:"blob_hard_limit_bytes"`
	DialCheckTimeout   string `json:"dial_check_timeout"`
}

type parsedRedisConfig struct {
	options            *redis.Options
	prefix             string
	maxPayloadBytes    int
	blobHardLimitBytes int
	dialCheckTimeout   time.Duration
}

func parseRedisConfig(raw []byte) (parsedRedisConfig, error) {
	if len(raw) == 0 {
		return parsedRedisConfig{}, fmt.Errorf("missing config")
	}

	var parsed redisConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRedisConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	rawURL := strings.TrimSpace(parsed.URL)
	if rawURL == "" {
		return parsedRedisConfig{}, fmt.Errorf("url is required")
	}
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return parsedRedisConfig{}, fmt.Errorf("parse url: %w", err)
	}

	cfg := parsedRedisConfig{
		options:            options,
		prefix:             redisroom.DefaultPrefix,
		maxPayloadBytes:    parsed.MaxPayloadBytes,
		blobHardLimitBytes: parsed.BlobHardLimitBytes,
		dialCheckTimeout:   defaultDialCheckTimeout,
	}
	if room := strings.TrimSpace(parsed.Room); room != "" {
		cfg.prefix = redisroom.DefaultPrefix + room + ":"
	}
	if cfg.maxPayloadBytes < 0 {
		return parsedRedisConfig{}, fmt.Errorf("parse max_payload_bytes: must be >= 0")
	}
	if cfg.blobHardLimitBytes < 0 {
		return parsedRedisConfig{}, fmt.Errorf("parse blob_hard_limit_bytes: must be >= 0")
	}
	if timeout := strings.TrimSpace(parsed.DialCheckTimeout); timeout != "" {
		parsedTimeout, err := time.ParseDuration(timeout)
		if err != nil {
			return parsedRedisConfig{}, fmt.Errorf("parse dial_check_timeout: %w", err)
		}
		if parsedTimeout <= 0 {
			return parsedRedisConfig{}, fmt.Errorf("parse dial_check_timeout: must be > 0")
		}
		cfg.dialCheckTimeout = parsedTimeout
	}

	return cfg, nil
}

func buildRedisRuntime(ctx context.Context, definition Definition, logger *slog.Logger) (*Runtime, error) {
	cfg, err := parseRedisConfig(definition.Config)
	if err != nil {
		return nil, fmt.Errorf("parse redis config: %w", err)
	}

	client := redis.NewClient(cfg.options)
	runtime := &Runtime{}
	runtime.OnClose(func(context.Context) error {
		return client.Close()
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.dialCheckTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("ping redis %s: %w: %w", cfg.options.Addr, vellum.ErrChannelUnavailable, err)
	}

	channel, err := redisroom.NewChannel(client,
		redisroom.WithPrefix(cfg.prefix),
		redisroom.WithMaxPayloadBytes(cfg.maxPayloadBytes),
		redisroom.WithLogger(logger),
	)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, err
	}
	runtime.Channel = channel
	runtime.OnClose(channel.Close)

	blob, err := redisroom.NewBlob(client,
		redisroom.WithBlobPrefix(cfg.prefix),
		redisroom.WithHardLimit(cfg.blobHardLimitBytes),
		redisroom.WithBlobLogger(logger),
	)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, err
	}
	runtime.Blob = blob
	runtime.OnClose(func(context.Context) error {
		blob.Close()
		return nil
	})

	namespace := cfg.prefix + "local:"
	if definition.MemberID != "" {
		namespace = cfg.prefix + "local:" + definition.MemberID + ":"
	}
	store, err := localstore.NewRedis(client, localstore.WithNamespace(namespace))
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, err
	}
	runtime.LocalStore = store

	logger.InfoContext(ctx, "redis transport ready", "addr", cfg.options.Addr, "prefix", cfg.prefix)

	return runtime, nil
}
