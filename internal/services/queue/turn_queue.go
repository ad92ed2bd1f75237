package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/stage-engine/pkg/queue"
)

// ReadyKey is the Redis list every worker consumes from. It carries one
// session id per pending turn; the turns themselves wait in the session's
// own list so that only the worker holding the session lock takes them,
// oldest first.
const ReadyKey = "turns"

// TurnQueue holds model output waiting to be applied to a stage.
type TurnQueue struct {
	client *Client
}

func NewTurnQueue(client *Client) *TurnQueue {
	return &TurnQueue{
		client: client,
	}
}

func sessionKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("turns:%s", sessionID.String())
}

// EnqueueTurn appends a request to its session and marks the session ready.
func (q *TurnQueue) EnqueueTurn(ctx context.Context, req *queue.TurnRequest) error {
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}

	_, err = q.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, sessionKey(req.SessionID), data)
		pipe.RPush(ctx, ReadyKey, req.SessionID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue turn: %w", err)
	}
	q.client.logger.Debug("Turn enqueued", "request_id", req.RequestID, "session_id", req.SessionID)
	return nil
}

// NextSession waits up to timeout for a session with pending work. ok is
// false when the timeout passes with nothing ready; 0 means wait forever.
func (q *TurnQueue) NextSession(ctx context.Context, timeout time.Duration) (id uuid.UUID, ok bool, err error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, ReadyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("failed to dequeue session: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return uuid.Nil, false, fmt.Errorf("unexpected BLPop result: %v", result)
	}

	id, err = uuid.Parse(result[1])
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("invalid session id in ready list %q: %w", result[1], err)
	}
	return id, true, nil
}

// RequeueSession marks the session ready again, e.g. when another worker
// holds its lock.
func (q *TurnQueue) RequeueSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := q.client.rdb.RPush(ctx, ReadyKey, sessionID.String()).Err(); err != nil {
		return fmt.Errorf("failed to requeue session: %w", err)
	}
	return nil
}

// PopTurn removes and returns the session's oldest turn.
// Returns nil if the session has none.
func (q *TurnQueue) PopTurn(ctx context.Context, sessionID uuid.UUID) (*queue.TurnRequest, error) {
	result, err := q.client.rdb.LPop(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue turn: %w", err)
	}

	req, err := queue.FromJSON([]byte(result))
	if err != nil {
		return nil, fmt.Errorf("failed to parse turn: %w", err)
	}
	return req, nil
}

// Peek returns up to limit pending turns for a session without removing
// them; limit <= 0 returns all.
func (q *TurnQueue) Peek(ctx context.Context, sessionID uuid.UUID, limit int) ([]*queue.TurnRequest, error) {
	end := int64(limit - 1)
	if limit <= 0 {
		end = -1 // Get all
	}
	raw, err := q.client.rdb.LRange(ctx, sessionKey(sessionID), 0, end).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to peek turns: %w", err)
	}

	out := make([]*queue.TurnRequest, 0, len(raw))
	for _, r := range raw {
		req, err := queue.FromJSON([]byte(r))
		if err != nil {
			return nil, fmt.Errorf("failed to parse turn: %w", err)
		}
		out = append(out, req)
	}
	return out, nil
}

// Clear drops every pending turn of a session. Ready markers left behind
// find nothing to pop and are skipped.
func (q *TurnQueue) Clear(ctx context.Context, sessionID uuid.UUID) error {
	if err := q.client.rdb.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear turn queue: %w", err)
	}
	return nil
}

// Depth returns the number of ready markers across all sessions
func (q *TurnQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, ReadyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(count), nil
}

// SessionDepth returns the number of turns pending for a session
func (q *TurnQueue) SessionDepth(ctx context.Context, sessionID uuid.UUID) (int, error) {
	count, err := q.client.rdb.LLen(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get session queue depth: %w", err)
	}
	return int(count), nil
}
