package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/stage-engine/pkg/generation"
	"github.com/jwebster45206/stage-engine/pkg/stage"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeTurnQueued     EventType = "turn.queued"
	EventTypeTurnProcessing EventType = "turn.processing"
	EventTypeTurnCompleted  EventType = "turn.completed"
	EventTypeTurnFailed     EventType = "turn.failed"

	EventTypeStageUpdated EventType = "stage.updated"
	EventTypeStageChange  EventType = "stage.change"
	EventTypeStageCue     EventType = "stage.cue"

	EventTypeGenerationStatus EventType = "generation.status"
)

// Event represents a generic event structure
type Event struct {
	Type      EventType              `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Channel is the pub/sub channel carrying one session's events.
func Channel(sessionID uuid.UUID) string {
	return fmt.Sprintf("stage-events:%s", sessionID.String())
}

// Broadcaster publishes events to Redis Pub/Sub for SSE and websocket
// distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishTurnQueued publishes a turn.queued event
func (b *Broadcaster) PublishTurnQueued(ctx context.Context, sessionID uuid.UUID, requestID string) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeTurnQueued,
		RequestID: requestID,
		Data:      map[string]interface{}{"status": "queued"},
	})
}

// PublishTurnProcessing publishes a turn.processing event
func (b *Broadcaster) PublishTurnProcessing(ctx context.Context, sessionID uuid.UUID, requestID string) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeTurnProcessing,
		RequestID: requestID,
		Data:      map[string]interface{}{"status": "processing"},
	})
}

// PublishTurnCompleted publishes a turn.completed event carrying the
// stripped prose and the apply outcome
func (b *Broadcaster) PublishTurnCompleted(ctx context.Context, sessionID uuid.UUID, requestID string, text string, res stage.Result) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeTurnCompleted,
		RequestID: requestID,
		Data: map[string]interface{}{
			"status":     "completed",
			"text":       text,
			"applied":    res.Applied,
			"weak":       res.Weak,
			"unresolved": res.Unresolved,
		},
	})
}

// PublishTurnFailed publishes a turn.failed event
func (b *Broadcaster) PublishTurnFailed(ctx context.Context, sessionID uuid.UUID, requestID string, errorMsg string) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeTurnFailed,
		RequestID: requestID,
		Data: map[string]interface{}{
			"status": "failed",
			"error":  errorMsg,
		},
	})
}

// PublishStageUpdated publishes the full stage after a change
func (b *Broadcaster) PublishStageUpdated(ctx context.Context, sessionID uuid.UUID, state stage.State) error {
	return b.publish(ctx, sessionID, Event{
		Type: EventTypeStageUpdated,
		Data: map[string]interface{}{"state": state},
	})
}

// PublishStageChange publishes a single renderer operation, e.g. a sprite
// swap, as it happens
func (b *Broadcaster) PublishStageChange(ctx context.Context, sessionID uuid.UUID, op string, data map[string]interface{}) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["op"] = op
	return b.publish(ctx, sessionID, Event{Type: EventTypeStageChange, Data: data})
}

// PublishCue publishes a one-shot cue (fx, sfx, camera)
func (b *Broadcaster) PublishCue(ctx context.Context, sessionID uuid.UUID, cue string, data map[string]interface{}) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["cue"] = cue
	return b.publish(ctx, sessionID, Event{Type: EventTypeStageCue, Data: data})
}

// PublishGenerationStatus publishes background generation progress
func (b *Broadcaster) PublishGenerationStatus(ctx context.Context, sessionID uuid.UUID, s generation.Status) error {
	data := map[string]interface{}{
		"value":   s.Token.Value,
		"stamp":   s.Token.Stamp,
		"attempt": s.Token.Attempt,
		"phase":   s.Phase,
		"message": generation.Describe(s),
	}
	if s.Path != "" {
		data["path"] = s.Path
	}
	if s.Error != "" {
		data["error"] = s.Error
	}
	return b.publish(ctx, sessionID, Event{Type: EventTypeGenerationStatus, Data: data})
}

// publish publishes an event to the session channel
func (b *Broadcaster) publish(ctx context.Context, sessionID uuid.UUID, event Event) error {
	event.SessionID = sessionID.String()
	channel := Channel(sessionID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"request_id", event.RequestID,
	)

	return nil
}
