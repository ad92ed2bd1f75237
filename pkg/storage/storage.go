package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/stage"
)

// StageSnapshot is the persisted stage of one session.
type StageSnapshot struct {
	SessionID uuid.UUID   `json:"session_id"`
	State     stage.State `json:"state"`
	Turns     int         `json:"turns"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Storage defines a unified interface for all storage operations.
// Stage snapshots live in Redis; the asset manifest is a file on disk.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Stage operations (Redis-backed)
	SaveStage(ctx context.Context, snap *StageSnapshot) error
	// CompareAndSaveStage writes snap only if a snapshot is stored and its
	// Turns equals expectTurns. It reports whether the write happened.
	CompareAndSaveStage(ctx context.Context, snap *StageSnapshot, expectTurns int) (bool, error)
	LoadStage(ctx context.Context, id uuid.UUID) (*StageSnapshot, error)
	DeleteStage(ctx context.Context, id uuid.UUID) error

	// Manifest operations (filesystem-backed)
	LoadManifest(ctx context.Context) (catalog.Manifest, error)
	AppendManifest(ctx context.Context, e catalog.Entry) error
}

// ManifestSource lets a Storage act as the catalog's source.
type ManifestSource struct {
	Storage Storage
}

var (
	_ catalog.Source   = ManifestSource{}
	_ catalog.Appender = ManifestSource{}
)

func (s ManifestSource) Load(ctx context.Context) (catalog.Manifest, error) {
	return s.Storage.LoadManifest(ctx)
}

func (s ManifestSource) Append(ctx context.Context, e catalog.Entry) error {
	return s.Storage.AppendManifest(ctx, e)
}
