package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/stage"
	"github.com/jwebster45206/stage-engine/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStorage(client, filepath.Join(t.TempDir(), "manifest.json"), time.Hour, testLogger())
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStorage_StageLifecycle(t *testing.T) {
	s, mr := setupStorage(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.Ping(ctx))

	missing, err := s.LoadStage(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, missing)

	st := stage.NewState()
	st.Background = "backgrounds/park_day.png"
	st.Portraits["jessica"] = stage.Portrait{Path: "sprites/jessica/happy.png", Mood: "happy"}
	st.Inventory = []string{"lantern"}

	require.NoError(t, s.SaveStage(ctx, &storage.StageSnapshot{SessionID: id, State: st, Turns: 3}))
	assert.True(t, mr.Exists("stage:"+id.String()))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL("stage:"+id.String()).Seconds(), 1)

	got, err := s.LoadStage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.SessionID)
	assert.Equal(t, 3, got.Turns)
	assert.Equal(t, st.Background, got.State.Background)
	assert.Equal(t, st.Portraits, got.State.Portraits)
	assert.Equal(t, []string{"lantern"}, got.State.Inventory)
	assert.NotNil(t, got.State.SceneObjects)
	assert.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, s.DeleteStage(ctx, id))
	got, err = s.LoadStage(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStorage_CompareAndSaveStage(t *testing.T) {
	s, mr := setupStorage(t)
	ctx := context.Background()
	id := uuid.New()

	st := stage.NewState()
	st.Background = "backgrounds/generated/cliff_1a2b3c4d.png"
	snap := &storage.StageSnapshot{SessionID: id, State: st, Turns: 1}

	saved, err := s.CompareAndSaveStage(ctx, snap, 1)
	require.NoError(t, err)
	assert.False(t, saved, "nothing stored, e.g. after a reset")
	assert.False(t, mr.Exists("stage:"+id.String()))

	park := stage.NewState()
	park.Background = "backgrounds/park_day.png"
	require.NoError(t, s.SaveStage(ctx, &storage.StageSnapshot{SessionID: id, State: park, Turns: 2}))

	saved, err = s.CompareAndSaveStage(ctx, snap, 1)
	require.NoError(t, err)
	assert.False(t, saved, "a newer turn is stored")
	got, err := s.LoadStage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "backgrounds/park_day.png", got.State.Background)
	assert.Equal(t, 2, got.Turns)

	snap.Turns = 2
	saved, err = s.CompareAndSaveStage(ctx, snap, 2)
	require.NoError(t, err)
	assert.True(t, saved)
	got, err = s.LoadStage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, st.Background, got.State.Background)
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL("stage:"+id.String()).Seconds(), 1)

	_, err = s.CompareAndSaveStage(ctx, nil, 0)
	assert.Error(t, err)
}

func TestRedisStorage_LoadStageNullCollections(t *testing.T) {
	s, mr := setupStorage(t)
	id := uuid.New()
	require.NoError(t, mr.Set("stage:"+id.String(), `{"session_id":"`+id.String()+`","state":{"background":"bg.png","portraits":null}}`))

	got, err := s.LoadStage(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.State.Portraits)
	assert.Equal(t, "bg.png", got.State.Background)
}

func TestRedisStorage_LoadStageCorrupt(t *testing.T) {
	s, mr := setupStorage(t)
	id := uuid.New()
	require.NoError(t, mr.Set("stage:"+id.String(), "{broken"))

	_, err := s.LoadStage(context.Background(), id)
	assert.Error(t, err)
}

func TestRedisStorage_SaveNil(t *testing.T) {
	s, _ := setupStorage(t)
	assert.Error(t, s.SaveStage(context.Background(), nil))
}

func TestRedisStorage_ManifestSource(t *testing.T) {
	s, _ := setupStorage(t)
	ctx := context.Background()
	src := storage.ManifestSource{Storage: s}

	m, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)

	require.NoError(t, src.Append(ctx, catalog.Entry{Category: catalog.Background, Path: "backgrounds/generated/cave_1.png", Description: "cave"}))

	m, err = src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cave", m[catalog.Background]["backgrounds/generated/cave_1.png"])
}
