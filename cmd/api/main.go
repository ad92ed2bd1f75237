package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/stage-engine/internal/config"
	"github.com/jwebster45206/stage-engine/internal/handlers"
	"github.com/jwebster45206/stage-engine/internal/logger"
	"github.com/jwebster45206/stage-engine/internal/manifest"
	"github.com/jwebster45206/stage-engine/internal/middleware"
	"github.com/jwebster45206/stage-engine/internal/services"
	"github.com/jwebster45206/stage-engine/internal/services/events"
	"github.com/jwebster45206/stage-engine/internal/services/queue"
	"github.com/jwebster45206/stage-engine/internal/storage"
	"github.com/jwebster45206/stage-engine/pkg/catalog"
	storagepkg "github.com/jwebster45206/stage-engine/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Stage Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"manifest_path", cfg.ManifestPath)

	redisClient, err := services.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}

	store := storage.NewRedisStorage(redisClient, cfg.ManifestPath, cfg.StageTTL, log)
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()

	if err := store.WaitForConnection(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage connection established successfully")

	cache := services.NewRedisService(redisClient, log)
	source := manifest.NewCachedSource(storagepkg.ManifestSource{Storage: store}, cache, cfg.ManifestCacheTTL, log)
	cat := catalog.New(source, cfg.CatalogTTL, log)
	if err := cat.Refresh(storageCtx); err != nil {
		// the API still serves stage reads without a manifest
		log.Warn("Initial catalog load failed", "error", err)
	}

	turnQueue := queue.NewTurnQueue(queue.NewClientFromRedis(redisClient, log))
	broadcaster := events.NewBroadcaster(redisClient, log)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cache, store, log)
	mux.Handle("/health", healthHandler)

	socketHandler := handlers.NewSocketHandler(redisClient, turnQueue, broadcaster, log)
	stageHandler := handlers.NewStageHandler(store, turnQueue, broadcaster, socketHandler, log)
	mux.Handle("/v1/stage/", stageHandler)

	mux.Handle("/v1/directives", handlers.NewDirectivesHandler(cat, log))

	assetsHandler := handlers.NewAssetsHandler(cat, log)
	mux.Handle("/v1/assets", assetsHandler)
	mux.Handle("/v1/assets/", assetsHandler)

	mux.Handle("/v1/events/stage/", handlers.NewEventsHandler(redisClient, log))

	// Renderers load images and music straight from the asset root
	mux.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(cfg.AssetDir))))

	handler := middleware.LoggerWith(log)(mux)
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE and websocket connections are long-lived
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	// Closes the shared Redis client
	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	log.Info("Server exited")
}
