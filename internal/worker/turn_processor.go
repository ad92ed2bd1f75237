package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/stage-engine/internal/logger"
	"github.com/jwebster45206/stage-engine/internal/services/events"
	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/engine"
	"github.com/jwebster45206/stage-engine/pkg/generation"
	"github.com/jwebster45206/stage-engine/pkg/queue"
	"github.com/jwebster45206/stage-engine/pkg/stage"
	"github.com/jwebster45206/stage-engine/pkg/storage"
)

const saveTimeout = 5 * time.Second

// TurnProcessor applies queued turns to per-session engines. Stored
// snapshots are the source of truth: a session whose snapshot changed
// elsewhere (another worker, a reset through the API) is reloaded before
// the turn is applied.
type TurnProcessor struct {
	storage     storage.Storage
	catalog     *catalog.Catalog
	generator   generation.Generator
	broadcaster *events.Broadcaster
	delays      []time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

type session struct {
	id     uuid.UUID
	engine *engine.Engine

	// mu serializes turns and snapshot writes and guards turns. Lock order
	// is mu before the pipeline lock; the commit hook runs after the
	// pipeline has released its lock.
	mu    sync.Mutex
	turns int

	lastUsed time.Time // guarded by TurnProcessor.mu
}

// NewTurnProcessor creates a new turn processor. delays may be nil for the
// default retry schedule.
func NewTurnProcessor(
	store storage.Storage,
	cat *catalog.Catalog,
	gen generation.Generator,
	broadcaster *events.Broadcaster,
	delays []time.Duration,
	logger *slog.Logger,
) *TurnProcessor {
	return &TurnProcessor{
		storage:     store,
		catalog:     cat,
		generator:   gen,
		broadcaster: broadcaster,
		delays:      delays,
		logger:      logger,
		sessions:    make(map[uuid.UUID]*session),
	}
}

// ProcessTurn applies one turn and persists the resulting stage.
func (p *TurnProcessor) ProcessTurn(ctx context.Context, req *queue.TurnRequest) (engine.TurnResult, error) {
	snap, err := p.storage.LoadStage(ctx, req.SessionID)
	if err != nil {
		return engine.TurnResult{}, fmt.Errorf("failed to load stage: %w", err)
	}

	s := p.session(req.SessionID, snap)

	// Holding mu across the turn keeps a fast generation commit from
	// saving before the turn itself is stored.
	s.mu.Lock()
	res := s.engine.ProcessTurn(ctx, req.Text)
	s.turns++
	err = p.save(ctx, s)
	s.mu.Unlock()
	if err != nil {
		return res, fmt.Errorf("failed to save stage: %w", err)
	}

	if err := p.broadcaster.PublishStageUpdated(ctx, req.SessionID, res.State); err != nil {
		p.logger.Error("Failed to publish stage update", "error", err, "session_id", req.SessionID)
	}
	return res, nil
}

// save writes the session's live stage. Callers hold s.mu.
func (p *TurnProcessor) save(ctx context.Context, s *session) error {
	return p.storage.SaveStage(ctx, p.snapshot(s))
}

func (p *TurnProcessor) snapshot(s *session) *storage.StageSnapshot {
	return &storage.StageSnapshot{
		SessionID: s.id,
		State:     s.engine.State(),
		Turns:     s.turns,
	}
}

// session returns the live engine for id, building or resyncing it from
// snap as needed.
func (p *TurnProcessor) session(id uuid.UUID, snap *storage.StageSnapshot) *session {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[id]
	if !ok {
		s = p.newSession(id, snap)
		p.sessions[id] = s
		return s
	}
	s.lastUsed = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case snap == nil && s.turns > 0:
		p.logger.Info("Stage was reset, starting over", "session_id", id)
		s.engine.Restore(stage.NewState())
		s.turns = 0
	case snap != nil && snap.Turns != s.turns:
		p.logger.Info("Stage changed elsewhere, reloading", "session_id", id, "stored_turns", snap.Turns, "local_turns", s.turns)
		s.engine.Restore(snap.State)
		s.turns = snap.Turns
	}
	return s
}

func (p *TurnProcessor) newSession(id uuid.UUID, snap *storage.StageSnapshot) *session {
	s := &session{id: id, lastUsed: time.Now()}
	initial := stage.NewState()
	if snap != nil {
		initial = snap.State
		s.turns = snap.Turns
	}

	log := logger.WithSession(p.logger, id.String())
	popts := []generation.Option{generation.WithReporter(p.reporter(id))}
	if len(p.delays) > 0 {
		popts = append(popts, generation.WithDelays(p.delays))
	}

	s.engine = engine.New(p.catalog, p.generator, initial,
		events.NewStageHandlers(p.broadcaster, id, log),
		log,
		engine.WithCommitHook(p.commitHook(s)),
		engine.WithPipelineOptions(popts...),
	)
	p.logger.Debug("Session engine created", "session_id", id, "turns", s.turns)
	return s
}

// commitHook persists and announces a background the pipeline put on stage
// after the turn finished. The pipeline only knows this process's requests,
// so the save is conditional on the stored turn count: if the stage was
// reset or another worker applied a newer turn, the commit is dropped and
// the engine is resynced from storage.
func (p *TurnProcessor) commitHook(s *session) engine.CommitHook {
	return func(_ stage.State, path string, fallback bool) {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		s.mu.Lock()
		snap := p.snapshot(s)
		saved, err := p.storage.CompareAndSaveStage(ctx, snap, s.turns)
		if err == nil && !saved {
			snap, err = p.resync(ctx, s)
		}
		s.mu.Unlock()

		if err != nil {
			p.logger.Error("Failed to save stage after background change", "error", err, "session_id", s.id, "path", path)
			return
		}
		if !saved {
			p.logger.Info("Generated background dropped, stage changed elsewhere", "session_id", s.id, "path", path, "fallback", fallback)
			if snap == nil {
				return
			}
		} else {
			p.logger.Info("Background changed by generation", "session_id", s.id, "path", path, "fallback", fallback)
		}
		if err := p.broadcaster.PublishStageUpdated(ctx, s.id, snap.State); err != nil {
			p.logger.Error("Failed to publish stage update", "error", err, "session_id", s.id)
		}
	}
}

// resync replaces the live stage with the stored one, or a fresh stage when
// nothing is stored. Callers hold s.mu.
func (p *TurnProcessor) resync(ctx context.Context, s *session) (*storage.StageSnapshot, error) {
	stored, err := p.storage.LoadStage(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload stage: %w", err)
	}
	if stored == nil {
		s.engine.Restore(stage.NewState())
		s.turns = 0
		return nil, nil
	}
	s.engine.Restore(stored.State)
	s.turns = stored.Turns
	return stored, nil
}

func (p *TurnProcessor) reporter(id uuid.UUID) generation.Reporter {
	return func(st generation.Status) {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := p.broadcaster.PublishGenerationStatus(ctx, id, st); err != nil {
			p.logger.Warn("Failed to publish generation status", "error", err, "session_id", id)
		}
	}
}

// State returns the live stage of a session held by this processor.
func (p *TurnProcessor) State(id uuid.UUID) (stage.State, bool) {
	p.mu.Lock()
	s, ok := p.sessions[id]
	p.mu.Unlock()
	if !ok {
		return stage.State{}, false
	}
	return s.engine.State(), true
}

// Wait blocks until every session's background work has finished.
func (p *TurnProcessor) Wait() {
	p.mu.Lock()
	list := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		list = append(list, s)
	}
	p.mu.Unlock()

	for _, s := range list {
		s.engine.Wait()
	}
}

// EvictIdle closes engines unused for longer than maxIdle. Their stage
// stays in storage and is reloaded on the next turn.
func (p *TurnProcessor) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	p.mu.Lock()
	var idle []*session
	for id, s := range p.sessions {
		if s.lastUsed.Before(cutoff) {
			idle = append(idle, s)
			delete(p.sessions, id)
		}
	}
	p.mu.Unlock()

	for _, s := range idle {
		s.engine.Close()
		p.logger.Debug("Session engine evicted", "session_id", s.id)
	}
	return len(idle)
}

// Sessions returns the number of live session engines.
func (p *TurnProcessor) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close stops every session engine.
func (p *TurnProcessor) Close() {
	p.mu.Lock()
	list := p.sessions
	p.sessions = make(map[uuid.UUID]*session)
	p.mu.Unlock()

	for _, s := range list {
		s.engine.Close()
	}
}
