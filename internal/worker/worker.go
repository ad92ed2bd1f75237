package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/stage-engine/internal/logger"
	"github.com/jwebster45206/stage-engine/internal/services/events"
	"github.com/jwebster45206/stage-engine/internal/services/queue"
	queuePkg "github.com/jwebster45206/stage-engine/pkg/queue"
)

const (
	workerTimeout = 5 * time.Second
	lockTTL       = 30 * time.Second
	lockedBackoff = 100 * time.Millisecond
	idleAfter     = 30 * time.Minute
)

// releaseScript deletes the lock only if we own it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Worker processes turns from the turn queue
type Worker struct {
	id          string
	queue       *queue.TurnQueue
	processor   *TurnProcessor
	broadcaster *events.Broadcaster
	redisClient *redis.Client
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	lastSweep   time.Time
}

// New creates a new worker instance
func New(turnQueue *queue.TurnQueue, processor *TurnProcessor, broadcaster *events.Broadcaster, redisClient *redis.Client, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		queue:       turnQueue,
		processor:   processor,
		broadcaster: broadcaster,
		redisClient: redisClient,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		lastSweep:   time.Now(),
	}
}

// ID returns the worker id used as the lock owner.
func (w *Worker) ID() string {
	return w.id
}

// Start begins processing turns from the queue. It returns after Stop.
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "worker_id", w.id)

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			w.processor.Close()
			return nil
		default:
			if err := w.processNext(); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error("Error processing turn", "error", err, "worker_id", w.id)
				// Continue processing even on error
				time.Sleep(1 * time.Second)
			}
			w.sweep()
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

func (w *Worker) sweep() {
	if time.Since(w.lastSweep) < time.Minute {
		return
	}
	w.lastSweep = time.Now()
	if n := w.processor.EvictIdle(idleAfter); n > 0 {
		w.log.Info("Evicted idle sessions", "worker_id", w.id, "count", n)
	}
}

// processNext waits for a ready session and applies its oldest turn
func (w *Worker) processNext() error {
	sessionID, ok, err := w.queue.NextSession(w.ctx, workerTimeout)
	if err != nil {
		return fmt.Errorf("failed to dequeue session: %w", err)
	}
	if !ok {
		// Timeout with nothing ready - this is normal
		return nil
	}

	locked, err := w.acquireSessionLock(sessionID)
	if err != nil {
		_ = w.queue.RequeueSession(w.ctx, sessionID)
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !locked {
		// Another worker is applying a turn for this session
		w.log.Debug("Session locked, re-queueing",
			"worker_id", w.id,
			"session_id", sessionID.String(),
		)
		if err := w.queue.RequeueSession(w.ctx, sessionID); err != nil {
			return fmt.Errorf("failed to re-queue session: %w", err)
		}
		time.Sleep(lockedBackoff)
		return nil
	}
	defer w.releaseSessionLock(sessionID)

	req, err := w.queue.PopTurn(w.ctx, sessionID)
	if err != nil {
		return err
	}
	if req == nil {
		// Cleared after it was marked ready
		return nil
	}
	return w.processTurn(req)
}

// processTurn applies a single turn and reports its progress
func (w *Worker) processTurn(req *queuePkg.TurnRequest) error {
	log := logger.WithSession(logger.WithRequestID(w.log, req.RequestID), req.SessionID.String()).
		With("worker_id", w.id)
	log.Info("Processing turn")
	start := time.Now()

	if err := w.broadcaster.PublishTurnProcessing(w.ctx, req.SessionID, req.RequestID); err != nil {
		// Don't fail the turn just because event publishing failed
		log.Error("Failed to publish processing event", "error", err)
	}

	res, err := w.processor.ProcessTurn(w.ctx, req)
	if err != nil {
		logger.WithError(log, err).Error("Turn failed")
		if pubErr := w.broadcaster.PublishTurnFailed(w.ctx, req.SessionID, req.RequestID, err.Error()); pubErr != nil {
			log.Error("Failed to publish failure event", "error", pubErr)
		}
		return fmt.Errorf("failed to process turn: %w", err)
	}

	log.Info("Turn processed",
		"applied", res.Result.Applied,
		"unresolved", len(res.Result.Unresolved),
		"generating", res.Generation != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err := w.broadcaster.PublishTurnCompleted(w.ctx, req.SessionID, req.RequestID, res.Text, res.Result); err != nil {
		log.Error("Failed to publish completion event", "error", err)
	}
	return nil
}

// acquireSessionLock attempts to acquire the lock for a session.
// Returns true if the lock was acquired, false if already locked
func (w *Worker) acquireSessionLock(sessionID uuid.UUID) (bool, error) {
	return w.redisClient.SetNX(w.ctx, lockKey(sessionID), w.id, lockTTL).Result()
}

// releaseSessionLock releases the lock for a session
func (w *Worker) releaseSessionLock(sessionID uuid.UUID) {
	// Release even while shutting down so the session isn't blocked for lockTTL
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, w.redisClient, []string{lockKey(sessionID)}, w.id).Err(); err != nil {
		w.log.Error("Failed to release session lock", "error", err, "session_id", sessionID.String())
	}
}

func lockKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("stage-lock:%s", sessionID.String())
}
