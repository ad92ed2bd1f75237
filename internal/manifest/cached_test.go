package manifest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/stage-engine/internal/services"
	"github.com/jwebster45206/stage-engine/pkg/catalog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type countingSource struct {
	m     catalog.Manifest
	loads int
	err   error
}

func (s *countingSource) Load(ctx context.Context) (catalog.Manifest, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.m.Clone(), nil
}

func (s *countingSource) Append(ctx context.Context, e catalog.Entry) error {
	s.m.Add(e)
	return nil
}

func newSource() *countingSource {
	return &countingSource{m: catalog.Manifest{
		catalog.Background: {"backgrounds/park_day.png": "A sunny park"},
	}}
}

func TestCachedSource_ReadThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := services.NewRedisClient(mr.Addr())
	require.NoError(t, err)
	cache := services.NewRedisService(client, testLogger())
	defer cache.Close()

	src := newSource()
	cs := NewCachedSource(src, cache, time.Minute, testLogger())
	ctx := context.Background()

	m, err := cs.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, m[catalog.Background], "backgrounds/park_day.png")
	assert.True(t, mr.Exists(CacheKey))

	_, err = cs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.loads, "second load served from cache")

	require.NoError(t, cs.Append(ctx, catalog.Entry{Category: catalog.Background, Path: "backgrounds/generated/cave.png", Description: "cave"}))
	assert.False(t, mr.Exists(CacheKey))

	m, err = cs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.loads)
	assert.Contains(t, m[catalog.Background], "backgrounds/generated/cave.png")

	mr.FastForward(2 * time.Minute)
	_, err = cs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, src.loads, "expired listing reloads")
}

func TestCachedSource_CacheDownFallsThrough(t *testing.T) {
	cache := services.NewMockCache()
	cache.GetFunc = func(ctx context.Context, key string) (string, error) {
		return "", errors.New("connection refused")
	}
	cache.SetFunc = func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
		return errors.New("connection refused")
	}

	src := newSource()
	cs := NewCachedSource(src, cache, time.Minute, testLogger())

	m, err := cs.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, m[catalog.Background], 1)
}

func TestCachedSource_CorruptCacheEntry(t *testing.T) {
	cache := services.NewMockCache()
	require.NoError(t, cache.Set(context.Background(), CacheKey, "{nope", 0))

	src := newSource()
	m, err := NewCachedSource(src, cache, time.Minute, testLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, m[catalog.Background], 1)
	assert.Equal(t, 1, src.loads)
}

func TestCachedSource_SourceError(t *testing.T) {
	src := &countingSource{err: errors.New("disk gone")}
	_, err := NewCachedSource(src, services.NewMockCache(), time.Minute, testLogger()).Load(context.Background())
	assert.Error(t, err)
}

func TestCachedSource_ReadOnly(t *testing.T) {
	ro := catalog.Source(readOnly{})
	err := NewCachedSource(ro, services.NewMockCache(), time.Minute, testLogger()).
		Append(context.Background(), catalog.Entry{Category: catalog.Background, Path: "x.png"})
	assert.ErrorIs(t, err, ErrReadOnly)
}

type readOnly struct{}

func (readOnly) Load(ctx context.Context) (catalog.Manifest, error) { return catalog.Manifest{}, nil }
