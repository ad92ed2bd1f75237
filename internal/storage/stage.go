package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/stage-engine/pkg/storage"
)

// Stage operations (Redis-backed)

func stageKey(id uuid.UUID) string {
	return "stage:" + id.String()
}

func (r *RedisStorage) SaveStage(ctx context.Context, snap *storage.StageSnapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}
	snap.UpdatedAt = time.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		r.logger.Error("Failed to marshal stage", "session_id", snap.SessionID, "error", err)
		return fmt.Errorf("failed to marshal stage: %w", err)
	}

	if err := r.client.Set(ctx, stageKey(snap.SessionID), data, r.stageTTL).Err(); err != nil {
		r.logger.Error("Failed to save stage", "session_id", snap.SessionID, "error", err)
		return fmt.Errorf("failed to save stage: %w", err)
	}
	return nil
}

// CompareAndSaveStage writes snap inside a WATCH transaction, and only when
// the stored snapshot exists with Turns == expectTurns. A concurrent write
// to the key aborts the transaction and reports false.
func (r *RedisStorage) CompareAndSaveStage(ctx context.Context, snap *storage.StageSnapshot, expectTurns int) (bool, error) {
	if snap == nil {
		return false, errors.New("snapshot cannot be nil")
	}
	key := stageKey(snap.SessionID)

	saved := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var stored storage.StageSnapshot
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal stage: %w", err)
		}
		if stored.Turns != expectTurns {
			return nil
		}

		snap.UpdatedAt = time.Now()
		out, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal stage: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, r.stageTTL)
			return nil
		}); err != nil {
			return err
		}
		saved = true
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		r.logger.Debug("Stage changed during conditional save", "session_id", snap.SessionID)
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to save stage", "session_id", snap.SessionID, "error", err)
		return false, fmt.Errorf("failed to save stage: %w", err)
	}
	return saved, nil
}

// LoadStage returns nil, nil when the session has no stored stage.
func (r *RedisStorage) LoadStage(ctx context.Context, id uuid.UUID) (*storage.StageSnapshot, error) {
	data, err := r.client.Get(ctx, stageKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Debug("Stage not found", "session_id", id)
			return nil, nil
		}
		r.logger.Error("Failed to load stage", "session_id", id, "error", err)
		return nil, fmt.Errorf("failed to load stage: %w", err)
	}

	var snap storage.StageSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		r.logger.Error("Failed to unmarshal stage", "session_id", id, "error", err)
		return nil, fmt.Errorf("failed to unmarshal stage: %w", err)
	}
	// Clone replaces null collections from older snapshots with empty ones.
	snap.State = snap.State.Clone()
	return &snap, nil
}

func (r *RedisStorage) DeleteStage(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Del(ctx, stageKey(id)).Err(); err != nil {
		r.logger.Error("Failed to delete stage", "session_id", id, "error", err)
		return fmt.Errorf("failed to delete stage: %w", err)
	}
	return nil
}
