// Package manifest caches the asset manifest listing in a shared cache so
// that every worker sees the same listing and a single append invalidates
// it for all of them.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/stage-engine/internal/services"
	"github.com/jwebster45206/stage-engine/pkg/catalog"
)

// CacheKey holds the serialized listing.
const CacheKey = "manifest:listing"

// ErrReadOnly is returned by Append when the wrapped source cannot persist.
var ErrReadOnly = errors.New("manifest source is read-only")

// CachedSource wraps a catalog.Source with a read-through cache.
type CachedSource struct {
	source catalog.Source
	cache  services.Cache
	ttl    time.Duration
	logger *slog.Logger
}

var (
	_ catalog.Source   = (*CachedSource)(nil)
	_ catalog.Appender = (*CachedSource)(nil)
)

func NewCachedSource(source catalog.Source, cache services.Cache, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{source: source, cache: cache, ttl: ttl, logger: logger}
}

// Load returns the cached listing, or loads it from the source and caches
// it. Cache failures fall through to the source.
func (c *CachedSource) Load(ctx context.Context) (catalog.Manifest, error) {
	raw, err := c.cache.Get(ctx, CacheKey)
	if err != nil {
		c.logger.Warn("Manifest cache read failed", "error", err)
	} else if raw != "" {
		var m catalog.Manifest
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			return m, nil
		}
		c.logger.Warn("Discarding unreadable cached manifest", "error", err)
	}

	m, err := c.source.Load(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := c.cache.Set(ctx, CacheKey, data, c.ttl); err != nil {
		c.logger.Warn("Manifest cache write failed", "error", err)
	}
	return m, nil
}

// Append persists e through the source and drops the cached listing.
func (c *CachedSource) Append(ctx context.Context, e catalog.Entry) error {
	appender, ok := c.source.(catalog.Appender)
	if !ok {
		return ErrReadOnly
	}
	if err := appender.Append(ctx, e); err != nil {
		return err
	}
	return c.Invalidate(ctx)
}

// Invalidate drops the cached listing.
func (c *CachedSource) Invalidate(ctx context.Context) error {
	if err := c.cache.Del(ctx, CacheKey); err != nil {
		return fmt.Errorf("failed to invalidate manifest cache: %w", err)
	}
	return nil
}
