package stage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ApplyAndSnapshot(t *testing.T) {
	rec := &recorder{}
	m := NewManager(NewState(), testResolver(t), rec, nil)

	res := m.Apply(parse(`[BG: park][SPRITE: Jessica/Happy][SPLASH: rain]`))
	assert.Equal(t, 3, res.Applied)

	snap := m.Snapshot()
	assert.Equal(t, "backgrounds/park_day.png", snap.Background)
	assert.Equal(t, "splash/rain.png", snap.Overlay)

	// snapshots are copies
	delete(snap.Portraits, "jessica")
	assert.Len(t, m.Snapshot().Portraits, 1)
}

func TestManager_SetBackgroundClearsOverlay(t *testing.T) {
	rec := &recorder{}
	m := NewManager(NewState(), testResolver(t), rec, nil)
	m.Apply(parse(`[SPLASH: rain]`))
	rec.calls = nil

	m.SetBackground("backgrounds/generated/lighthouse_1234.png")

	snap := m.Snapshot()
	assert.Equal(t, "backgrounds/generated/lighthouse_1234.png", snap.Background)
	assert.Empty(t, snap.Overlay)
	assert.Equal(t, []string{"overlay:", "bg:backgrounds/generated/lighthouse_1234.png"}, rec.calls)
}

func TestManager_Restore(t *testing.T) {
	m := NewManager(NewState(), testResolver(t), nil, nil)

	saved := NewState()
	saved.Background = "backgrounds/cafe.png"
	saved.Portraits["bob"] = Portrait{Path: "sprites/bob/neutral.png"}
	saved.Inventory = []string{"key"}
	m.Restore(saved)

	saved.Inventory[0] = "changed"
	snap := m.Snapshot()
	assert.Equal(t, "backgrounds/cafe.png", snap.Background)
	assert.Equal(t, []string{"key"}, snap.Inventory)

	m.Restore(State{Background: "backgrounds/park_day.png"})
	res := m.Apply(parse(`[SPRITE: Mara/Angry]`))
	require.Equal(t, 1, res.Applied)
	assert.Len(t, m.Snapshot().Portraits, 1)
}

func TestManager_ConcurrentApply(t *testing.T) {
	m := NewManager(NewState(), testResolver(t), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.Apply(parse(`[TAKE: key][SPRITE: Jessica/Sad]`))
			} else {
				m.Apply(parse(`[DROP: key][HIDE: jessica]`))
			}
			m.SetBackground("backgrounds/cafe.png")
		}(i)
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, "backgrounds/cafe.png", snap.Background)
	assert.NotEqual(t, snap.HasItem("key"), snap.InScene("key"))
}
