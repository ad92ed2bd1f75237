package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
)

// ManifestFile is the asset manifest on disk: a JSON object of
// category -> relative path -> description. It implements catalog.Source
// and catalog.Appender.
type ManifestFile struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

var (
	_ catalog.Source   = (*ManifestFile)(nil)
	_ catalog.Appender = (*ManifestFile)(nil)
)

func NewManifestFile(path string, logger *slog.Logger) *ManifestFile {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestFile{path: path, logger: logger}
}

// Path returns the file location.
func (f *ManifestFile) Path() string {
	return f.path
}

// Load reads the manifest. A missing file is an empty manifest; unknown
// categories are dropped with a warning.
func (f *ManifestFile) Load(ctx context.Context) (catalog.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *ManifestFile) read() (catalog.Manifest, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("Manifest file not found, using empty catalog", "path", f.path)
			return catalog.Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var raw map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", f.path, err)
	}

	m := make(catalog.Manifest, len(raw))
	for key, paths := range raw {
		cat := catalog.Category(key)
		if !cat.Valid() {
			f.logger.Warn("Ignoring unknown manifest category", "category", key, "path", f.path)
			continue
		}
		m[cat] = paths
	}
	return m, nil
}

// Append adds e to the file. The file is rewritten through a temporary file
// and a rename so readers never see a partial manifest.
func (f *ManifestFile) Append(ctx context.Context, e catalog.Entry) error {
	if !e.Category.Valid() {
		return fmt.Errorf("unknown category %q", e.Category)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.read()
	if err != nil {
		return err
	}
	m.Add(e)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}

	f.logger.Info("Manifest entry appended", "category", e.Category, "path", e.Path)
	return nil
}
