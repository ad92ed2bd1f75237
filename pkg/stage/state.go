package stage

import (
	"sort"
	"strings"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
)

// Portrait is the active sprite for one character.
type Portrait struct {
	Path string `json:"path"`
	Mood string `json:"mood,omitempty"`
}

// State is the live stage. Empty strings mean "nothing shown".
// A character is visible exactly when it has a key in Portraits.
// Inventory and SceneObjects never share an item.
type State struct {
	Background   string                           `json:"background,omitempty"`
	Portraits    map[catalog.CharacterID]Portrait `json:"portraits"`
	Overlay      string                           `json:"overlay,omitempty"`
	Music        string                           `json:"music,omitempty"`
	Inventory    []string                         `json:"inventory"`
	SceneObjects []string                         `json:"sceneObjects"`
}

// NewState returns an empty stage.
func NewState() State {
	return State{
		Portraits:    make(map[catalog.CharacterID]Portrait),
		Inventory:    []string{},
		SceneObjects: []string{},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Portraits = make(map[catalog.CharacterID]Portrait, len(s.Portraits))
	for id, p := range s.Portraits {
		out.Portraits[id] = p
	}
	out.Inventory = append([]string{}, s.Inventory...)
	out.SceneObjects = append([]string{}, s.SceneObjects...)
	return out
}

// VisibleCharacters returns the ids with an active portrait, sorted.
func (s State) VisibleCharacters() []catalog.CharacterID {
	ids := make([]catalog.CharacterID, 0, len(s.Portraits))
	for id := range s.Portraits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasItem reports whether item is in the inventory, ignoring case.
func (s State) HasItem(item string) bool {
	return indexOf(s.Inventory, item) >= 0
}

// InScene reports whether item is a scene object, ignoring case.
func (s State) InScene(item string) bool {
	return indexOf(s.SceneObjects, item) >= 0
}

func indexOf(items []string, item string) int {
	for i, it := range items {
		if strings.EqualFold(it, item) {
			return i
		}
	}
	return -1
}

func remove(items []string, item string) []string {
	if i := indexOf(items, item); i >= 0 {
		return append(items[:i], items[i+1:]...)
	}
	return items
}

func add(items []string, item string) []string {
	if indexOf(items, item) >= 0 {
		return items
	}
	return append(items, item)
}
