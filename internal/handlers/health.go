package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/stage-engine/internal/services"
	"github.com/jwebster45206/stage-engine/pkg/storage"
)

const serviceName = "stage-engine"

type HealthResponse struct {
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Service    string                 `json:"service"`
	Components map[string]interface{} `json:"components"`
}

type HealthHandler struct {
	cache   services.Cache
	storage storage.Storage
	logger  *slog.Logger
}

func NewHealthHandler(cache services.Cache, storage storage.Storage, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cache:   cache,
		storage: storage,
		logger:  logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	h.logger.Debug("Health check requested",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]interface{})
	overallStatus := "healthy"

	if err := h.cache.Ping(ctx); err != nil {
		h.logger.Warn("Cache health check failed", "error", err)
		components["cache"] = "unhealthy"
		overallStatus = "degraded"
	} else {
		components["cache"] = "healthy"
	}

	if h.storage != nil {
		manifest := map[string]interface{}{"status": "healthy"}
		if m, err := h.storage.LoadManifest(ctx); err != nil {
			h.logger.Warn("Manifest health check failed", "error", err)
			manifest["status"] = "unhealthy"
			overallStatus = "degraded"
		} else {
			counts := make(map[string]int, len(m))
			for cat, entries := range m {
				counts[string(cat)] = len(entries)
			}
			manifest["entries"] = counts
		}
		components["manifest"] = manifest
	}

	response := HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Service:    serviceName,
		Components: components,
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Error encoding health response",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path)
	}
}
