package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/stage"
)

const publishTimeout = 2 * time.Second

// StageHandlers publishes every renderer operation of one session's stage.
// It implements stage.Handlers and stage.CueHandlers. Publish failures are
// logged; the stage is never blocked on them.
type StageHandlers struct {
	b         *Broadcaster
	sessionID uuid.UUID
	logger    *slog.Logger
}

var (
	_ stage.Handlers    = (*StageHandlers)(nil)
	_ stage.CueHandlers = (*StageHandlers)(nil)
)

func NewStageHandlers(b *Broadcaster, sessionID uuid.UUID, logger *slog.Logger) *StageHandlers {
	return &StageHandlers{b: b, sessionID: sessionID, logger: logger}
}

func (h *StageHandlers) change(op string, data map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.b.PublishStageChange(ctx, h.sessionID, op, data); err != nil {
		h.logger.Warn("Stage change not delivered", "op", op, "session_id", h.sessionID, "error", err)
	}
}

func (h *StageHandlers) cue(name string, data map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.b.PublishCue(ctx, h.sessionID, name, data); err != nil {
		h.logger.Warn("Cue not delivered", "cue", name, "session_id", h.sessionID, "error", err)
	}
}

func (h *StageHandlers) OnBackground(path string) {
	h.change("background", map[string]interface{}{"path": path})
}

func (h *StageHandlers) OnSprite(id catalog.CharacterID, path string) {
	h.change("sprite", map[string]interface{}{"character": id, "path": path})
}

func (h *StageHandlers) OnOverlay(path string) {
	h.change("overlay", map[string]interface{}{"path": path})
}

func (h *StageHandlers) OnMusic(path string) {
	h.change("music", map[string]interface{}{"path": path})
}

func (h *StageHandlers) OnHide(target string) {
	h.change("hide", map[string]interface{}{"target": target})
}

func (h *StageHandlers) OnEffect(name string) {
	h.cue("fx", map[string]interface{}{"name": name})
}

func (h *StageHandlers) OnSoundEffect(name string) {
	h.cue("sfx", map[string]interface{}{"name": name})
}

func (h *StageHandlers) OnCamera(action, target string) {
	h.cue("camera", map[string]interface{}{"action": action, "target": target})
}
