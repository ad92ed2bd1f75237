package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/stage-engine/internal/config"
	"github.com/jwebster45206/stage-engine/internal/logger"
	"github.com/jwebster45206/stage-engine/internal/manifest"
	"github.com/jwebster45206/stage-engine/internal/services"
	"github.com/jwebster45206/stage-engine/internal/services/events"
	"github.com/jwebster45206/stage-engine/internal/services/queue"
	"github.com/jwebster45206/stage-engine/internal/storage"
	"github.com/jwebster45206/stage-engine/internal/worker"
	"github.com/jwebster45206/stage-engine/pkg/catalog"
	storagepkg "github.com/jwebster45206/stage-engine/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Stage Engine Worker",
		"environment", cfg.Environment,
		"redis_url", cfg.RedisURL,
		"image_model", cfg.ImageModel)

	redisClient, err := services.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}

	// Initialize storage service
	store := storage.NewRedisStorage(redisClient, cfg.ManifestPath, cfg.StageTTL, log)
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()

	if err := store.WaitForConnection(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		// Closes the shared Redis client
		if err := store.Close(); err != nil {
			log.Error("Error closing storage connection", "error", err)
		}
	}()
	log.Info("Storage service initialized successfully")

	cache := services.NewRedisService(redisClient, log)
	source := manifest.NewCachedSource(storagepkg.ManifestSource{Storage: store}, cache, cfg.ManifestCacheTTL, log)
	cat := catalog.New(source, cfg.CatalogTTL, log)
	if err := cat.Refresh(storageCtx); err != nil {
		log.Error("Failed to load asset manifest", "error", err, "path", cfg.ManifestPath)
		os.Exit(1)
	}
	log.Info("Asset catalog loaded",
		"backgrounds", len(cat.Entries(catalog.Background)),
		"characters", len(cat.Characters()))

	if cfg.VeniceAPIKey == "" {
		log.Warn("VENICE_API_KEY is not set; unresolved backgrounds will use fallbacks")
	}
	generator := services.NewVeniceImageService(cfg.VeniceAPIKey, cfg.ImageModel, cfg.ImageBaseURL, cfg.AssetDir, log)

	turnQueue := queue.NewTurnQueue(queue.NewClientFromRedis(redisClient, log))
	broadcaster := events.NewBroadcaster(redisClient, log)
	log.Info("Queue service initialized successfully")

	processor := worker.NewTurnProcessor(store, cat, generator, broadcaster, cfg.GenerationRetryDelays, log)

	w := worker.New(turnQueue, processor, broadcaster, redisClient, log, cfg.WorkerID)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("Worker started, waiting for turns...", "worker_id", w.ID())

	<-quit
	log.Info("Worker shutdown signal received")

	w.Stop()

	// Start closes the processor, which cancels in-flight generation
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn("Worker did not stop in time")
	}

	log.Info("Worker exited")
}
