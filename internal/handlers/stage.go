package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jwebster45206/stage-engine/pkg/queue"
	"github.com/jwebster45206/stage-engine/pkg/storage"
)

// maxTurnBytes caps the body of POST /v1/stage/{id}/turns.
const maxTurnBytes = 64 << 10

// TurnQueue is the part of the turn queue the API writes to.
type TurnQueue interface {
	EnqueueTurn(ctx context.Context, req *queue.TurnRequest) error
	Peek(ctx context.Context, sessionID uuid.UUID, limit int) ([]*queue.TurnRequest, error)
	Clear(ctx context.Context, sessionID uuid.UUID) error
}

// TurnPublisher announces accepted turns.
type TurnPublisher interface {
	PublishTurnQueued(ctx context.Context, sessionID uuid.UUID, requestID string) error
}

// TurnSubmission is the body of POST /v1/stage/{id}/turns
type TurnSubmission struct {
	Text string `json:"text"`
}

// TurnAccepted is returned when a turn is queued
type TurnAccepted struct {
	RequestID string    `json:"request_id"`
	SessionID uuid.UUID `json:"session_id"`
	Status    string    `json:"status"`
}

// PendingTurns lists the turns still waiting for a worker
type PendingTurns struct {
	SessionID uuid.UUID            `json:"session_id"`
	Turns     []*queue.TurnRequest `json:"turns"`
}

// StageHandler serves the per-session stage resources:
//
//	GET    /v1/stage/{id}         current snapshot
//	DELETE /v1/stage/{id}         drop snapshot and pending turns
//	POST   /v1/stage/{id}/turns   queue model output
//	GET    /v1/stage/{id}/turns   pending turns
//	GET    /v1/stage/{id}/ws      websocket stream
type StageHandler struct {
	storage   storage.Storage
	turns     TurnQueue
	publisher TurnPublisher
	socket    http.Handler
	logger    *slog.Logger
}

// NewStageHandler creates a new stage handler. socket may be nil, in which
// case the ws sub-resource answers 404.
func NewStageHandler(store storage.Storage, turns TurnQueue, publisher TurnPublisher, socket http.Handler, logger *slog.Logger) *StageHandler {
	return &StageHandler{
		storage:   store,
		turns:     turns,
		publisher: publisher,
		socket:    socket,
		logger:    logger,
	}
}

func (h *StageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/stage"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		writeError(w, h.logger, http.StatusNotFound, "Invalid path. Expected /v1/stage/{sessionID}")
		return
	}

	sessionID, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid session ID format.")
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.getStage(w, r, sessionID)
	case sub == "" && r.Method == http.MethodDelete:
		h.deleteStage(w, r, sessionID)
	case sub == "turns" && r.Method == http.MethodPost:
		h.submitTurn(w, r, sessionID)
	case sub == "turns" && r.Method == http.MethodGet:
		h.pendingTurns(w, r, sessionID)
	case sub == "ws" && h.socket != nil:
		h.socket.ServeHTTP(w, r)
	case sub == "" || sub == "turns":
		h.logger.Warn("Method not allowed for stage endpoint",
			"method", r.Method,
			"path", r.URL.Path)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed.")
	default:
		writeError(w, h.logger, http.StatusNotFound, "Unknown stage resource.")
	}
}

func (h *StageHandler) getStage(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID) {
	snap, err := h.storage.LoadStage(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to load stage", "error", err, "session_id", sessionID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load stage.")
		return
	}
	if snap == nil {
		writeError(w, h.logger, http.StatusNotFound, "Stage not found.")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, snap)
}

func (h *StageHandler) deleteStage(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID) {
	if err := h.turns.Clear(r.Context(), sessionID); err != nil {
		h.logger.Error("Failed to clear pending turns", "error", err, "session_id", sessionID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to clear pending turns.")
		return
	}
	if err := h.storage.DeleteStage(r.Context(), sessionID); err != nil {
		h.logger.Error("Failed to delete stage", "error", err, "session_id", sessionID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to delete stage.")
		return
	}
	h.logger.Info("Stage deleted", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *StageHandler) submitTurn(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID) {
	var body TurnSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBytes)).Decode(&body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body.")
		return
	}

	req := queue.NewTurnRequest(sessionID, body.Text)
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.turns.EnqueueTurn(r.Context(), req); err != nil {
		h.logger.Error("Failed to enqueue turn", "error", err, "session_id", sessionID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to queue turn.")
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishTurnQueued(r.Context(), sessionID, req.RequestID); err != nil {
			h.logger.Warn("Failed to publish turn.queued", "error", err, "request_id", req.RequestID)
		}
	}

	h.logger.Info("Turn queued",
		"session_id", sessionID,
		"request_id", req.RequestID,
		"text_length", len(req.Text))

	writeJSON(w, h.logger, http.StatusAccepted, TurnAccepted{
		RequestID: req.RequestID,
		SessionID: sessionID,
		Status:    "queued",
	})
}

func (h *StageHandler) pendingTurns(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID) {
	turns, err := h.turns.Peek(r.Context(), sessionID, 0)
	if err != nil {
		h.logger.Error("Failed to read pending turns", "error", err, "session_id", sessionID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to read pending turns.")
		return
	}
	if turns == nil {
		turns = []*queue.TurnRequest{}
	}
	writeJSON(w, h.logger, http.StatusOK, PendingTurns{SessionID: sessionID, Turns: turns})
}
