package redisroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"ex-vellum/pkg/vellum"
)

const (
	blobKeySuffix     = "blob"
	blobChangedSuffix = "blob.changed"
	maxWriteAttempts  = 8
)

// Blob is a vellum.SharedBlobStore kept in one Redis key.
//
// Writes merge under optimistic locking and announce the change on a pub/sub
// channel so every member's OnChange handlers see it.
type Blob struct {
	client    redis.UniversalClient
	prefix    string
	hardLimit int
	logger    *slog.Logger

	mu       sync.Mutex
	watchers []*blobWatcher
}

// BlobOption mutates blob configuration.
type BlobOption func(*Blob)

// WithBlobPrefix namespaces one room.
func WithBlobPrefix(prefix string) BlobOption {
	return func(blob *Blob) {
		if prefix != "" {
			blob.prefix = prefix
		}
	}
}

// WithHardLimit sets the platform size limit; larger documents are refused.
func WithHardLimit(limit int) BlobOption {
	return func(blob *Blob) {
		if limit > 0 {
			blob.hardLimit = limit
		}
	}
}

// WithBlobLogger injects a logger.
func WithBlobLogger(logger *slog.Logger) BlobOption {
	return func(blob *Blob) {
		if logger != nil {
			blob.logger = logger
		}
	}
}

// NewBlob creates a shared blob on client.
func NewBlob(client redis.UniversalClient, opts ...BlobOption) (*Blob, error) {
	if client == nil {
		return nil, fmt.Errorf("new redis blob: nil client")
	}

	blob := &Blob{
		client:    client,
		prefix:    DefaultPrefix,
		hardLimit: vellum.DefaultBlobBudgetBytes,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(blob)
	}

	return blob, nil
}

// Read returns the current document; a missing key reads as empty.
func (b *Blob) Read(ctx context.Context) (vellum.BlobDocument, error) {
	document, err := b.read(ctx, b.client)
	if err != nil {
		return nil, fmt.Errorf("read redis blob: %w", err)
	}

	return document, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (b *Blob) read(ctx context.Context, client getter) (vellum.BlobDocument, error) {
	raw, err := client.Get(ctx, b.prefix+blobKeySuffix).Bytes()
	if errors.Is(err, redis.Nil) {
		return vellum.BlobDocument{}, nil
	}
	if err != nil {
		return nil, err
	}

	document := vellum.BlobDocument{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("%w: %w", vellum.ErrInvalidValue, err)
	}

	return document, nil
}

// Write merges patch into the document and notifies members.
func (b *Blob) Write(ctx context.Context, patch vellum.BlobDocument) error {
	key := b.prefix + blobKeySuffix

	for range maxWriteAttempts {
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := b.read(ctx, tx)
			if err != nil {
				return err
			}
			merged := vellum.MergeBlob(current, patch)
			encoded, err := json.Marshal(merged)
			if err != nil {
				return err
			}
			if len(encoded) > b.hardLimit {
				return fmt.Errorf("%d bytes exceeds hard limit %d: %w", len(encoded), b.hardLimit, vellum.ErrPayloadTooLarge)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				pipe.Publish(ctx, b.prefix+blobChangedSuffix, "")
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("write redis blob: %w", err)
		}

		return nil
	}

	return fmt.Errorf("write redis blob: %w: concurrent writers", vellum.ErrChannelUnavailable)
}

// OnChange registers handler for document changes from any member.
func (b *Blob) OnChange(handler vellum.BlobChangeHandler) func() {
	ctx, cancel := context.WithCancel(context.Background())
	watcher := &blobWatcher{
		pubsub: b.client.Subscribe(ctx, b.prefix+blobChangedSuffix),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.watchers = append(b.watchers, watcher)
	b.mu.Unlock()

	go func() {
		defer close(watcher.done)
		for range watcher.pubsub.Channel() {
			document, err := b.Read(ctx)
			if err != nil {
				b.logger.WarnContext(ctx, "redis blob change read failed", "error", err)
				continue
			}
			handler(ctx, document)
		}
	}()

	return func() {
		b.mu.Lock()
		for idx, candidate := range b.watchers {
			if candidate == watcher {
				b.watchers = append(b.watchers[:idx], b.watchers[idx+1:]...)
				break
			}
		}
		b.mu.Unlock()

		watcher.stop()
	}
}

// Close stops every change watcher.
func (b *Blob) Close() {
	b.mu.Lock()
	watchers := b.watchers
	b.watchers = nil
	b.mu.Unlock()

	for _, watcher := range watchers {
		watcher.stop()
	}
}

type blobWatcher struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (w *blobWatcher) stop() {
	w.once.Do(func() {
		w.cancel()
		_ = w.pubsub.Close()
		<-w.done
	})
}
