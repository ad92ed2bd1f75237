package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/resolve"
)

// AssetListing is the body of GET /v1/assets
type AssetListing struct {
	Assets map[catalog.Category][]catalog.Entry `json:"assets"`
}

// AssetMatches is the body of GET /v1/assets/resolve
type AssetMatches struct {
	Category catalog.Category `json:"category"`
	Query    string           `json:"query"`
	Matches  []resolve.Match  `json:"matches"`
}

// AssetsHandler exposes the catalog:
//
//	GET /v1/assets[?category=background]
//	GET /v1/assets/resolve?category=backgrounds&q=dark+forest
type AssetsHandler struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
}

func NewAssetsHandler(cat *catalog.Catalog, logger *slog.Logger) *AssetsHandler {
	return &AssetsHandler{catalog: cat, logger: logger}
}

func (h *AssetsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	if err := h.catalog.EnsureFresh(r.Context()); err != nil {
		h.logger.Warn("Catalog refresh failed", "error", err)
	}

	categories := catalog.Categories
	if raw := r.URL.Query().Get("category"); raw != "" {
		cat, ok := parseCategory(raw)
		if !ok {
			writeError(w, h.logger, http.StatusBadRequest, "Unknown category: "+raw)
			return
		}
		categories = []catalog.Category{cat}
	}

	switch strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/assets"), "/") {
	case "":
		listing := AssetListing{Assets: make(map[catalog.Category][]catalog.Entry, len(categories))}
		for _, cat := range categories {
			entries := h.catalog.Entries(cat)
			if entries == nil {
				entries = []catalog.Entry{}
			}
			listing.Assets[cat] = entries
		}
		writeJSON(w, h.logger, http.StatusOK, listing)

	case "resolve":
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" || len(categories) != 1 {
			writeError(w, h.logger, http.StatusBadRequest, "Both category and q are required.")
			return
		}
		matches := resolve.New(h.catalog).Rank(categories[0], q)
		if matches == nil {
			matches = []resolve.Match{}
		}
		writeJSON(w, h.logger, http.StatusOK, AssetMatches{Category: categories[0], Query: q, Matches: matches})

	default:
		writeError(w, h.logger, http.StatusNotFound, "Unknown assets resource.")
	}
}

// parseCategory accepts manifest keys plus the directive names used for them.
func parseCategory(raw string) (catalog.Category, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "background", "bg":
		return catalog.Background, true
	case "sprite":
		return catalog.Sprite, true
	case "overlay":
		return catalog.Overlay, true
	}
	cat := catalog.Category(strings.ToLower(strings.TrimSpace(raw)))
	return cat, cat.Valid()
}
