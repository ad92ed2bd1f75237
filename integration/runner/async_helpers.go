package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/stage-engine/pkg/storage"
)

const (
	// PollInterval is how often to check the stage for updates
	PollInterval = 500 * time.Millisecond
	// CommitTimeout is max time to wait for the worker to commit a turn
	CommitTimeout = 30 * time.Second
	// GenerationTimeout is max time to wait for a generated background
	GenerationTimeout = 90 * time.Second
)

var errStageNotFound = errors.New("stage not found")

// turnAccepted is the 202 body of POST /v1/stage/{id}/turns
type turnAccepted struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// PostTurn submits text as a turn and returns the request_id
func PostTurn(ctx context.Context, client *http.Client, baseURL string, sessionID uuid.UUID, text string) (string, error) {
	reqBody, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal turn request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/stage/%s/turns", baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send turn request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("turns endpoint returned %d (expected 202): %s", resp.StatusCode, string(body))
	}

	var accepted turnAccepted
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("failed to parse turn response: %w", err)
	}
	return accepted.RequestID, nil
}

// GetStage retrieves the committed stage. A session without a snapshot
// returns errStageNotFound.
func GetStage(ctx context.Context, client *http.Client, baseURL string, sessionID uuid.UUID) (*storage.StageSnapshot, error) {
	url := fmt.Sprintf("%s/v1/stage/%s", baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send stage request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errStageNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("stage endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var snap storage.StageSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode stage: %w", err)
	}
	return &snap, nil
}

// DeleteStage drops the snapshot and any pending turns of the session
func DeleteStage(ctx context.Context, client *http.Client, baseURL string, sessionID uuid.UUID) error {
	url := fmt.Sprintf("%s/v1/stage/%s", baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send delete request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// PollForCommit polls the stage until its turn counter passes prevTurns
func PollForCommit(ctx context.Context, client *http.Client, baseURL string, sessionID uuid.UUID, prevTurns int) (*storage.StageSnapshot, error) {
	return poll(ctx, CommitTimeout, "turn commit", func() (*storage.StageSnapshot, bool) {
		snap, err := GetStage(ctx, client, baseURL, sessionID)
		if err != nil {
			// not committed yet, or a transient error; keep polling
			return nil, false
		}
		return snap, snap.Turns > prevTurns
	})
}

// PollForBackground polls the stage until a background is set
func PollForBackground(ctx context.Context, client *http.Client, baseURL string, sessionID uuid.UUID) (*storage.StageSnapshot, error) {
	return poll(ctx, GenerationTimeout, "background generation", func() (*storage.StageSnapshot, bool) {
		snap, err := GetStage(ctx, client, baseURL, sessionID)
		if err != nil {
			return nil, false
		}
		return snap, snap.State.Background != ""
	})
}

func poll(ctx context.Context, limit time.Duration, what string, check func() (*storage.StageSnapshot, bool)) (*storage.StageSnapshot, error) {
	timeout := time.After(limit)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, fmt.Errorf("timeout waiting for %s (waited %v)", what, limit)
		case <-ticker.C:
			if snap, ok := check(); ok {
				return snap, nil
			}
		}
	}
}
