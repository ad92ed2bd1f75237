package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/stage-engine/internal/services"
	"github.com/jwebster45206/stage-engine/internal/services/events"
	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/queue"
	"github.com/jwebster45206/stage-engine/pkg/stage"
	"github.com/jwebster45206/stage-engine/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	store     *storage.MockStorage
	gen       *services.MockGenerator
	catalog   *catalog.Catalog
	processor *TurnProcessor
	b         *events.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cat := catalog.New(catalog.Manifest{
		catalog.Background: {
			"backgrounds/park_day.png": "sunny park",
			"backgrounds/default.png":  "default backdrop",
		},
		catalog.Sprite: {
			"sprites/jessica/happy.png": "Jessica (happy)",
			"sprites/jessica/sad.png":   "Jessica (sad)",
		},
	}, time.Minute, testLogger())

	f := &fixture{
		mr:      mr,
		rdb:     rdb,
		store:   storage.NewMockStorage(),
		gen:     services.NewMockGenerator(),
		catalog: cat,
		b:       events.NewBroadcaster(rdb, testLogger()),
	}
	delays := []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond}
	f.processor = NewTurnProcessor(f.store, cat, f.gen, f.b, delays, testLogger())
	t.Cleanup(f.processor.Close)
	return f
}

func (f *fixture) turn(t *testing.T, session uuid.UUID, text string) {
	t.Helper()
	_, err := f.processor.ProcessTurn(context.Background(), queue.NewTurnRequest(session, text))
	require.NoError(t, err)
}

func (f *fixture) stored(t *testing.T, session uuid.UUID) *storage.StageSnapshot {
	t.Helper()
	snap, err := f.store.LoadStage(context.Background(), session)
	require.NoError(t, err)
	require.NotNil(t, snap)
	return snap
}

func TestTurnProcessor_AppliesAndSaves(t *testing.T) {
	f := newFixture(t)
	session := uuid.New()

	res, err := f.processor.ProcessTurn(context.Background(),
		queue.NewTurnRequest(session, `[BG: "park"] [SPRITE: "Jessica/Happy"] Jessica waves.`))
	require.NoError(t, err)
	assert.Equal(t, "Jessica waves.", res.Text)
	assert.Nil(t, res.Generation)

	snap := f.stored(t, session)
	assert.Equal(t, 1, snap.Turns)
	assert.Equal(t, "backgrounds/park_day.png", snap.State.Background)
	assert.Equal(t, "sprites/jessica/happy.png", snap.State.Portraits["jessica"].Path)
	assert.Equal(t, 1, f.processor.Sessions())

	f.turn(t, session, `[SPRITE: "Jessica/Sad"]`)
	snap = f.stored(t, session)
	assert.Equal(t, 2, snap.Turns)
	assert.Equal(t, "sad", snap.State.Portraits["jessica"].Mood)
}

func TestTurnProcessor_GeneratedBackgroundIsPersisted(t *testing.T) {
	f := newFixture(t)
	session := uuid.New()

	res, err := f.processor.ProcessTurn(context.Background(), queue.NewTurnRequest(session, `[BG: "stormy cliff"]`))
	require.NoError(t, err)
	require.NotNil(t, res.Generation)

	f.processor.Wait()

	snap := f.stored(t, session)
	assert.Equal(t, "backgrounds/generated/stormy_cliff.png", snap.State.Background)
	assert.Len(t, f.gen.Calls(), 1)

	live, ok := f.processor.State(session)
	require.True(t, ok)
	assert.Equal(t, snap.State.Background, live.Background)

	// The new background is in the catalog for every later turn.
	f.turn(t, session, `[BG: "stormy_cliff"]`)
	f.processor.Wait()
	assert.Len(t, f.gen.Calls(), 1)
}

func TestTurnProcessor_FallbackWhenGeneratorRejects(t *testing.T) {
	f := newFixture(t)
	f.gen.GenerateFunc = func(ctx context.Context, prompt string, cat catalog.Category) (string, error) {
		return "", errors.New("upstream 500")
	}
	session := uuid.New()

	f.turn(t, session, `[BG: "moon base"]`)
	f.processor.Wait()

	snap := f.stored(t, session)
	assert.NotEmpty(t, snap.State.Background, "a fallback background is always applied")
	assert.Len(t, f.gen.Calls(), 5, "first attempt plus four retries")
}

func TestTurnProcessor_ResetThroughStorage(t *testing.T) {
	f := newFixture(t)
	session := uuid.New()

	f.turn(t, session, `[SPRITE: "Jessica/Happy"] [TAKE: "lantern"]`)
	require.NoError(t, f.store.DeleteStage(context.Background(), session))

	f.turn(t, session, `[BG: "park"]`)
	snap := f.stored(t, session)
	assert.Equal(t, 1, snap.Turns)
	assert.Empty(t, snap.State.Portraits)
	assert.Empty(t, snap.State.Inventory)
	assert.Equal(t, "backgrounds/park_day.png", snap.State.Background)
}

func TestTurnProcessor_ReloadsWhenChangedElsewhere(t *testing.T) {
	f := newFixture(t)
	session := uuid.New()

	f.turn(t, session, `[SPRITE: "Jessica/Happy"]`)

	other := stage.NewState()
	other.Music = "music/theme.ogg"
	require.NoError(t, f.store.SaveStage(context.Background(), &storage.StageSnapshot{SessionID: session, State: other, Turns: 7}))

	f.turn(t, session, `[BG: "park"]`)
	snap := f.stored(t, session)
	assert.Equal(t, 8, snap.Turns)
	assert.Equal(t, "music/theme.ogg", snap.State.Music)
	assert.Empty(t, snap.State.Portraits)
}

// blockGenerator holds every generation until release is closed.
func blockGenerator(f *fixture) chan struct{} {
	release := make(chan struct{})
	f.gen.GenerateFunc = func(ctx context.Context, prompt string, cat catalog.Category) (string, error) {
		select {
		case <-release:
			return "backgrounds/generated/late.png", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return release
}

func TestTurnProcessor_CommitAfterResetIsDropped(t *testing.T) {
	f := newFixture(t)
	release := blockGenerator(f)
	session := uuid.New()

	f.turn(t, session, `[BG: "stormy cliff"] [SPRITE: "Jessica/Happy"]`)
	require.NoError(t, f.store.DeleteStage(context.Background(), session))

	close(release)
	f.processor.Wait()

	snap, err := f.store.LoadStage(context.Background(), session)
	require.NoError(t, err)
	assert.Nil(t, snap, "a late background must not recreate a deleted stage")

	live, ok := f.processor.State(session)
	require.True(t, ok)
	assert.Empty(t, live.Background)
	assert.Empty(t, live.Portraits)

	f.turn(t, session, `[BG: "park"]`)
	assert.Equal(t, 1, f.stored(t, session).Turns)
}

func TestTurnProcessor_CommitDoesNotOverwriteNewerTurn(t *testing.T) {
	f := newFixture(t)
	release := blockGenerator(f)
	session := uuid.New()

	f.turn(t, session, `[BG: "stormy cliff"] [SPRITE: "Jessica/Happy"]`)

	// A second worker takes the next turn for the same session.
	delays := []time.Duration{time.Millisecond}
	other := NewTurnProcessor(f.store, f.catalog, f.gen, f.b, delays, testLogger())
	t.Cleanup(other.Close)
	_, err := other.ProcessTurn(context.Background(), queue.NewTurnRequest(session, `[BG: "park"] [SPRITE: "Jessica/Sad"]`))
	require.NoError(t, err)

	close(release)
	f.processor.Wait()

	snap := f.stored(t, session)
	assert.Equal(t, 2, snap.Turns)
	assert.Equal(t, "backgrounds/park_day.png", snap.State.Background)
	assert.Equal(t, "sprites/jessica/sad.png", snap.State.Portraits["jessica"].Path)

	live, ok := f.processor.State(session)
	require.True(t, ok)
	assert.Equal(t, "backgrounds/park_day.png", live.Background, "the stale engine is resynced from storage")
	assert.Equal(t, "sprites/jessica/sad.png", live.Portraits["jessica"].Path)
}

func TestTurnProcessor_StorageErrors(t *testing.T) {
	f := newFixture(t)
	f.store.SetSaveError(errors.New("redis down"))

	_, err := f.processor.ProcessTurn(context.Background(), queue.NewTurnRequest(uuid.New(), `[BG: "park"]`))
	assert.Error(t, err)
}

func TestTurnProcessor_EvictIdle(t *testing.T) {
	f := newFixture(t)
	f.turn(t, uuid.New(), `[BG: "park"]`)
	f.turn(t, uuid.New(), `[BG: "park"]`)

	assert.Equal(t, 0, f.processor.EvictIdle(time.Hour))
	assert.Equal(t, 2, f.processor.EvictIdle(0))
	assert.Equal(t, 0, f.processor.Sessions())
}
