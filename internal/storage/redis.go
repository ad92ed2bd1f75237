package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/storage"
)

// DefaultStageTTL is how long an idle session's stage is kept.
const DefaultStageTTL = 24 * time.Hour

// RedisStorage implements the Storage interface using Redis for stage
// snapshots and a manifest file on disk for the asset catalog
type RedisStorage struct {
	client   *redis.Client
	logger   *slog.Logger
	manifest *ManifestFile
	stageTTL time.Duration
}

// Ensure RedisStorage implements Storage interface
var _ storage.Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a new Redis storage instance over an existing client
func NewRedisStorage(client *redis.Client, manifestPath string, stageTTL time.Duration, logger *slog.Logger) *RedisStorage {
	if stageTTL <= 0 {
		stageTTL = DefaultStageTTL
	}
	return &RedisStorage{
		client:   client,
		logger:   logger,
		manifest: NewManifestFile(manifestPath, logger),
		stageTTL: stageTTL,
	}
}

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	cmd := r.client.Ping(ctx)
	if err := cmd.Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Manifest operations (filesystem-backed)

func (r *RedisStorage) LoadManifest(ctx context.Context) (catalog.Manifest, error) {
	return r.manifest.Load(ctx)
}

func (r *RedisStorage) AppendManifest(ctx context.Context, e catalog.Entry) error {
	return r.manifest.Append(ctx, e)
}
