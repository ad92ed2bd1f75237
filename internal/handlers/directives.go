package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/directive"
	"github.com/jwebster45206/stage-engine/pkg/resolve"
	"github.com/jwebster45206/stage-engine/pkg/stage"
)

// DirectivesRequest is the body of POST /v1/directives. State is the stage
// to apply against; an empty stage is used when it is omitted.
type DirectivesRequest struct {
	Text  string       `json:"text"`
	State *stage.State `json:"state,omitempty"`
}

// DirectivesResponse shows what a turn would do without touching any session.
type DirectivesResponse struct {
	Text       string                `json:"text"`
	Directives []directive.Directive `json:"directives"`
	Result     stage.Result          `json:"result"`
	State      stage.State           `json:"state"`
}

// DirectivesHandler previews a block of model text: it parses the
// directives, strips the prose and applies the batch to a copy of the
// given stage. Background generation is never started.
type DirectivesHandler struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
}

func NewDirectivesHandler(cat *catalog.Catalog, logger *slog.Logger) *DirectivesHandler {
	return &DirectivesHandler{catalog: cat, logger: logger}
}

func (h *DirectivesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.logger.Warn("Method not allowed for directives endpoint",
			"method", r.Method,
			"path", r.URL.Path)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only POST is supported.")
		return
	}

	var req DirectivesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBytes)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body.")
		return
	}

	if err := h.catalog.EnsureFresh(r.Context()); err != nil {
		// a stale listing still resolves
		h.logger.Warn("Catalog refresh failed, previewing against cached listing", "error", err)
	}

	prev := stage.NewState()
	if req.State != nil {
		prev = req.State.Clone()
	}

	parsed := directive.Parse(req.Text)
	next, res := stage.Apply(prev, parsed.Directives, resolve.New(h.catalog), stage.NopHandlers)

	directives := parsed.Directives
	if directives == nil {
		directives = []directive.Directive{}
	}

	writeJSON(w, h.logger, http.StatusOK, DirectivesResponse{
		Text:       parsed.Text,
		Directives: directives,
		Result:     res,
		State:      next,
	})
}
