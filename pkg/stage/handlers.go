package stage

import "github.com/jwebster45206/stage-engine/pkg/catalog"

// HideAll is passed to OnHide when every portrait is cleared.
const HideAll = "all"

// Handlers is the rendering boundary. Every visible change the stage makes is
// reported through it; the stage never draws anything itself. Handlers are
// called while the Manager holds its lock and must not call back into it.
type Handlers interface {
	OnBackground(path string)
	OnSprite(id catalog.CharacterID, path string)
	OnOverlay(path string) // "" clears the overlay
	OnMusic(path string)   // "" stops playback
	OnHide(target string)  // a character id or HideAll
}

// CueHandlers receives one-shot cues that leave no trace in State.
// Handlers that also implement CueHandlers get them; others don't.
type CueHandlers interface {
	OnEffect(name string)
	OnSoundEffect(name string)
	OnCamera(action, target string)
}

// HandlerFuncs adapts plain functions to Handlers and CueHandlers. Nil
// fields are skipped.
type HandlerFuncs struct {
	Background  func(path string)
	Sprite      func(id catalog.CharacterID, path string)
	Overlay     func(path string)
	Music       func(path string)
	Hide        func(target string)
	Effect      func(name string)
	SoundEffect func(name string)
	Camera      func(action, target string)
}

// NopHandlers ignores everything.
var NopHandlers Handlers = HandlerFuncs{}

func (h HandlerFuncs) OnBackground(path string) {
	if h.Background != nil {
		h.Background(path)
	}
}

func (h HandlerFuncs) OnSprite(id catalog.CharacterID, path string) {
	if h.Sprite != nil {
		h.Sprite(id, path)
	}
}

func (h HandlerFuncs) OnOverlay(path string) {
	if h.Overlay != nil {
		h.Overlay(path)
	}
}

func (h HandlerFuncs) OnMusic(path string) {
	if h.Music != nil {
		h.Music(path)
	}
}

func (h HandlerFuncs) OnHide(target string) {
	if h.Hide != nil {
		h.Hide(target)
	}
}

func (h HandlerFuncs) OnEffect(name string) {
	if h.Effect != nil {
		h.Effect(name)
	}
}

func (h HandlerFuncs) OnSoundEffect(name string) {
	if h.SoundEffect != nil {
		h.SoundEffect(name)
	}
}

func (h HandlerFuncs) OnCamera(action, target string) {
	if h.Camera != nil {
		h.Camera(action, target)
	}
}

// Multi fans every call out to each handler in order.
type Multi []Handlers

func (m Multi) OnBackground(path string) {
	for _, h := range m {
		h.OnBackground(path)
	}
}

func (m Multi) OnSprite(id catalog.CharacterID, path string) {
	for _, h := range m {
		h.OnSprite(id, path)
	}
}

func (m Multi) OnOverlay(path string) {
	for _, h := range m {
		h.OnOverlay(path)
	}
}

func (m Multi) OnMusic(path string) {
	for _, h := range m {
		h.OnMusic(path)
	}
}

func (m Multi) OnHide(target string) {
	for _, h := range m {
		h.OnHide(target)
	}
}

func (m Multi) OnEffect(name string) {
	for _, h := range m {
		if c, ok := h.(CueHandlers); ok {
			c.OnEffect(name)
		}
	}
}

func (m Multi) OnSoundEffect(name string) {
	for _, h := range m {
		if c, ok := h.(CueHandlers); ok {
			c.OnSoundEffect(name)
		}
	}
}

func (m Multi) OnCamera(action, target string) {
	for _, h := range m {
		if c, ok := h.(CueHandlers); ok {
			c.OnCamera(action, target)
		}
	}
}
