package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jwebster45206/stage-engine/internal/config"
	"github.com/jwebster45206/stage-engine/internal/services"
	"github.com/jwebster45206/stage-engine/internal/storage"
	"github.com/jwebster45206/stage-engine/pkg/catalog"
)

// The console runs the stage engine in-process against a manifest file, so
// it needs neither Redis nor the API. An optional argument names a JSON
// file the stage is loaded from and saved to with /save.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI; logs go to a file.
	logPath := filepath.Join(os.TempDir(), "stage-console.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logFile.Close() }()
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: cfg.LogLevel}))

	manifest := storage.NewManifestFile(cfg.ManifestPath, logger)
	cat := catalog.New(manifest, cfg.CatalogTTL, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cat.Refresh(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load manifest %s: %v\n", cfg.ManifestPath, err)
		os.Exit(1)
	}

	var stateFile string
	if len(os.Args) > 1 {
		stateFile = os.Args[1]
	}
	initial, err := loadState(stateFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	gen := services.NewVeniceImageService(cfg.VeniceAPIKey, cfg.ImageModel, cfg.ImageBaseURL, cfg.AssetDir, logger)
	session := NewSession(cat, gen, initial, cfg.GenerationRetryDelays, stateFile, logger)
	defer session.Close()

	p := tea.NewProgram(NewConsoleUI(session),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
