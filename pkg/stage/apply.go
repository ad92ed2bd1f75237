package stage

import (
	"sort"
	"strings"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/directive"
	"github.com/jwebster45206/stage-engine/pkg/resolve"
)

// Resolver is the subset of resolve.Resolver the stage needs.
type Resolver interface {
	Resolve(cat catalog.Category, value string) (resolve.Match, bool)
	ResolveSprite(value string) (resolve.SpriteMatch, bool)
}

// Reasons recorded for unresolved directives.
const (
	ReasonNoMatch          = "no matching asset"
	ReasonUnknownCharacter = "character has no sprites"
	ReasonOverlayCleared   = "no matching overlay, overlay cleared"
)

// Unresolved is a directive that could not be applied.
type Unresolved struct {
	Directive directive.Directive `json:"directive"`
	Reason    string              `json:"reason"`
}

// Result summarizes one Apply call.
type Result struct {
	Applied    int                   `json:"applied"`
	Weak       []directive.Directive `json:"weak,omitempty"`
	Unresolved []Unresolved          `json:"unresolved,omitempty"`

	// PendingBackground is the value of the last background directive in the
	// batch when that directive found no asset. Empty when the batch had no
	// background directive or its last one resolved.
	PendingBackground string `json:"pendingBackground,omitempty"`
}

var (
	overlayClearWords = map[string]bool{"none": true, "clear": true, "off": true, "hide": true, "stop": true}
	musicStopWords    = map[string]bool{"stop": true, "none": true, "off": true, "silence": true}
)

// Apply runs directives against prev in order and returns the new state.
// prev is not modified. Handlers see every change as it happens. Each
// directive either fully applies or is recorded in Result.Unresolved;
// nothing is rolled back. Applying the same batch twice yields the same
// state as applying it once.
func Apply(prev State, ds []directive.Directive, r Resolver, h Handlers) (State, Result) {
	if h == nil {
		h = NopHandlers
	}
	a := applier{state: prev.Clone(), resolver: r, handlers: h}
	if a.state.Portraits == nil {
		a.state.Portraits = make(map[catalog.CharacterID]Portrait)
	}
	for _, d := range ds {
		a.apply(d)
	}
	return a.state, a.result
}

type applier struct {
	state    State
	result   Result
	resolver Resolver
	handlers Handlers
}

func (a *applier) unresolved(d directive.Directive, reason string) {
	a.result.Unresolved = append(a.result.Unresolved, Unresolved{Directive: d, Reason: reason})
}

func (a *applier) apply(d directive.Directive) {
	value := strings.TrimSpace(d.Value)

	switch d.Type {
	case directive.Background:
		if value == "" {
			return
		}
		m, ok := a.resolver.Resolve(catalog.Background, value)
		if !ok {
			a.unresolved(d, ReasonNoMatch)
			a.result.PendingBackground = value
			return
		}
		a.result.PendingBackground = ""
		a.setBackground(m.Entry.Path)
		a.result.Applied++

	case directive.Sprite:
		if value == "" {
			return
		}
		sm, ok := a.resolver.ResolveSprite(value)
		if !ok {
			a.unresolved(d, ReasonUnknownCharacter)
			return
		}
		a.state.Portraits[sm.Character] = Portrait{Path: sm.Entry.Path, Mood: sm.Mood}
		a.handlers.OnSprite(sm.Character, sm.Entry.Path)
		a.result.Applied++
		if sm.Weak {
			a.result.Weak = append(a.result.Weak, d)
		}

	case directive.Overlay:
		if value == "" || overlayClearWords[strings.ToLower(value)] {
			a.setOverlay("")
			a.result.Applied++
			return
		}
		m, ok := a.resolver.Resolve(catalog.Overlay, value)
		if !ok {
			a.setOverlay("")
			a.unresolved(d, ReasonOverlayCleared)
			return
		}
		a.setOverlay(m.Entry.Path)
		a.result.Applied++

	case directive.Music:
		if value == "" || musicStopWords[strings.ToLower(value)] {
			a.state.Music = ""
			a.handlers.OnMusic("")
			a.result.Applied++
			return
		}
		m, ok := a.resolver.Resolve(catalog.Music, value)
		if !ok {
			a.unresolved(d, ReasonNoMatch)
			return
		}
		a.state.Music = m.Entry.Path
		a.handlers.OnMusic(m.Entry.Path)
		a.result.Applied++

	case directive.Hide:
		if value == "" {
			return
		}
		if d.IsHideAll() {
			a.state.Portraits = make(map[catalog.CharacterID]Portrait)
			a.handlers.OnHide(HideAll)
			a.result.Applied++
			return
		}
		// Hiding someone who is not on stage is a no-op.
		if id, ok := matchPortrait(a.state.Portraits, value); ok {
			delete(a.state.Portraits, id)
			a.handlers.OnHide(string(id))
			a.result.Applied++
		}

	case directive.TakeItem:
		if value == "" {
			return
		}
		a.state.SceneObjects = remove(a.state.SceneObjects, value)
		a.state.Inventory = add(a.state.Inventory, value)
		a.result.Applied++

	case directive.DropItem, directive.AddSceneObject:
		if value == "" {
			return
		}
		a.state.Inventory = remove(a.state.Inventory, value)
		a.state.SceneObjects = add(a.state.SceneObjects, value)
		a.result.Applied++

	case directive.Effect, directive.SoundEffect, directive.Camera:
		if value == "" {
			return
		}
		if cues, ok := a.handlers.(CueHandlers); ok {
			switch d.Type {
			case directive.Effect:
				cues.OnEffect(value)
			case directive.SoundEffect:
				cues.OnSoundEffect(value)
			case directive.Camera:
				cues.OnCamera(value, d.Secondary)
			}
		}
		a.result.Applied++
	}
}

// setBackground changes the background and clears any overlay.
func (a *applier) setBackground(path string) {
	a.state.Background = path
	if a.state.Overlay != "" {
		a.setOverlay("")
	}
	a.handlers.OnBackground(path)
}

func (a *applier) setOverlay(path string) {
	a.state.Overlay = path
	a.handlers.OnOverlay(path)
}

// minFuzzyLen is the shortest string allowed on the contained side of a
// substring match between a hide target and a character id.
const minFuzzyLen = 3

// matchPortrait finds the visible character a hide value refers to: exact id
// first, then either one containing the other.
func matchPortrait(portraits map[catalog.CharacterID]Portrait, value string) (catalog.CharacterID, bool) {
	want := catalog.CharacterIDFromName(value)
	if want == "" {
		return "", false
	}
	if _, ok := portraits[want]; ok {
		return want, true
	}

	ids := make([]catalog.CharacterID, 0, len(portraits))
	for id := range portraits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	w := string(want)
	for _, id := range ids {
		s := string(id)
		if len(s) >= minFuzzyLen && strings.Contains(w, s) {
			return id, true
		}
		if len(w) >= minFuzzyLen && strings.Contains(s, w) {
			return id, true
		}
	}
	return "", false
}
