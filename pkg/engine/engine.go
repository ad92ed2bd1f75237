package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/directive"
	"github.com/jwebster45206/stage-engine/pkg/generation"
	"github.com/jwebster45206/stage-engine/pkg/resolve"
	"github.com/jwebster45206/stage-engine/pkg/stage"
)

// TurnResult is what one processed model response did to the stage.
type TurnResult struct {
	Text       string                `json:"text"`
	Directives []directive.Directive `json:"directives"`
	Result     stage.Result          `json:"result"`
	State      stage.State           `json:"state"`
	Generation *generation.Token     `json:"generation,omitempty"`
}

// CommitHook is called with the new state whenever the pipeline puts a
// background on stage outside of ProcessTurn.
type CommitHook func(state stage.State, path string, fallback bool)

// Option configures an Engine.
type Option func(*Engine)

// WithCommitHook sets the hook for asynchronous background changes. The hook
// runs on the pipeline's goroutine after its lock is released, so it may do
// I/O and may call Restore.
func WithCommitHook(h CommitHook) Option {
	return func(e *Engine) { e.onCommit = h }
}

// WithPipelineOptions passes options through to the generation pipeline.
func WithPipelineOptions(opts ...generation.Option) Option {
	return func(e *Engine) { e.pipelineOpts = append(e.pipelineOpts, opts...) }
}

// Engine drives one session's stage: it parses model output, applies the
// directives and hands unresolved backgrounds to the generation pipeline.
type Engine struct {
	catalog  *catalog.Catalog
	resolver *resolve.Resolver
	stage    *stage.Manager
	pipeline *generation.Pipeline
	logger   *slog.Logger

	onCommit     CommitHook
	pipelineOpts []generation.Option

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New creates an engine for one session starting from initial. Handlers
// receive every visible change, including ones made later by the pipeline.
func New(cat *catalog.Catalog, gen generation.Generator, initial stage.State, h stage.Handlers, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		catalog:  cat,
		resolver: resolve.New(cat),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.stage = stage.NewManager(initial, e.resolver, h, logger)

	popts := append([]generation.Option{
		generation.WithRegistrar(cat),
		generation.WithLogger(logger),
	}, e.pipelineOpts...)
	e.pipeline = generation.NewPipeline(gen, e.resolver, popts...)
	return e
}

// ProcessTurn applies the directives embedded in text and returns the
// stripped prose with the resulting state. It never fails: a catalog that
// cannot be refreshed is used as last loaded, and misses are reported in
// the result.
func (e *Engine) ProcessTurn(ctx context.Context, text string) TurnResult {
	if err := e.catalog.EnsureFresh(ctx); err != nil {
		e.logger.Warn("Using previous catalog", "error", err)
	}

	parsed := directive.Parse(text)

	// Any background directive, resolvable or not, makes pending generations
	// stale. Superseding before Apply keeps a slow commit from landing after
	// this turn's background.
	for _, d := range parsed.Directives {
		if d.Type == directive.Background && d.Value != "" {
			e.pipeline.Supersede()
			break
		}
	}

	res := e.stage.Apply(parsed.Directives)

	out := TurnResult{
		Text:       parsed.Text,
		Directives: parsed.Directives,
		Result:     res,
	}
	if res.PendingBackground != "" {
		tok := e.pipeline.RequestBackground(e.ctx, res.PendingBackground, engineSink{e})
		out.Generation = &tok
		e.logger.Info("Background generation requested", "value", tok.Value, "stamp", tok.Stamp)
	}
	out.State = e.stage.Snapshot()
	return out
}

// engineSink puts pipeline results on the live stage and passes commits on
// to the hook.
type engineSink struct {
	e *Engine
}

func (s engineSink) ApplyBackground(path string, fallback bool) {
	s.e.stage.SetBackground(path)
}

func (s engineSink) Committed(path string, fallback bool) {
	if s.e.onCommit != nil {
		s.e.onCommit(s.e.stage.Snapshot(), path, fallback)
	}
}

// State returns a copy of the live stage.
func (e *Engine) State() stage.State {
	return e.stage.Snapshot()
}

// Restore replaces the live stage and makes pending generations stale.
func (e *Engine) Restore(s stage.State) {
	e.pipeline.Supersede()
	e.stage.Restore(s)
}

// Resolver exposes the engine's resolver, e.g. for previews.
func (e *Engine) Resolver() *resolve.Resolver {
	return e.resolver
}

// Wait blocks until background generation work has finished.
func (e *Engine) Wait() {
	e.pipeline.Wait()
}

// Close stops background retries and waits for them to exit.
func (e *Engine) Close() {
	e.once.Do(func() {
		e.cancel()
		e.pipeline.Wait()
	})
}
