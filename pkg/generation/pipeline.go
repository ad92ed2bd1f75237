package generation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/resolve"
)

// DefaultDelays is the wait before each retry after the first attempt.
var DefaultDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// Generator synthesizes a new asset and returns its path relative to the
// asset root.
type Generator interface {
	Generate(ctx context.Context, prompt string, cat catalog.Category) (string, error)
}

// Sink receives the background the pipeline wants on stage. fallback is
// true for a stand-in picked from the existing catalog.
type Sink interface {
	ApplyBackground(path string, fallback bool)
}

// Committer may be implemented by a Sink that does slow work for a commit,
// such as persisting the stage. Committed runs after ApplyBackground, once
// the pipeline lock is released.
type Committer interface {
	Committed(path string, fallback bool)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(path string, fallback bool)

func (f SinkFunc) ApplyBackground(path string, fallback bool) { f(path, fallback) }

// Registrar persists a generated asset so later resolutions find it.
// *catalog.Catalog implements it.
type Registrar interface {
	Register(ctx context.Context, e catalog.Entry) error
}

// FallbackFinder picks a stand-in for a missing asset. *resolve.Resolver
// implements it.
type FallbackFinder interface {
	Fallback(cat catalog.Category, value string) (resolve.Match, bool)
}

// Reporter is told about every phase change.
type Reporter func(Status)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDelays replaces the retry schedule. The number of delays is the
// number of retries.
func WithDelays(d []time.Duration) Option {
	return func(p *Pipeline) { p.delays = d }
}

// WithSleep replaces the function used to wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// WithReporter sets the status reporter.
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) { p.report = r }
}

// WithRegistrar sets where generated assets are recorded.
func WithRegistrar(r Registrar) Option {
	return func(p *Pipeline) { p.registrar = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline turns unresolved background values into generated assets.
//
// Every request gets a Token with a stamp larger than any before it. A
// result is put on stage only if, at that moment, no larger stamp has been
// issued; the check and the Sink call happen under one lock. Older requests
// are never aborted, they notice they are stale at their next check and stop.
type Pipeline struct {
	gen       Generator
	fallback  FallbackFinder
	registrar Registrar
	report    Reporter
	logger    *slog.Logger
	delays    []time.Duration
	sleep     func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	clock    uint64
	latest   uint64
	inflight map[string]bool

	wg sync.WaitGroup
}

// NewPipeline creates a pipeline.
func NewPipeline(gen Generator, fallback FallbackFinder, opts ...Option) *Pipeline {
	p := &Pipeline{
		gen:      gen,
		fallback: fallback,
		report:   func(Status) {},
		logger:   slog.Default(),
		delays:   DefaultDelays,
		sleep:    sleepCtx,
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// RequestBackground stamps a new request for value and starts working on it
// in the background. Any older request becomes stale.
func (p *Pipeline) RequestBackground(ctx context.Context, value string, sink Sink) Token {
	p.mu.Lock()
	p.clock++
	p.latest = p.clock
	tok := Token{Value: value, Stamp: p.clock}
	p.mu.Unlock()

	p.Submit(ctx, tok, sink)
	return tok
}

// Submit starts work on an already stamped token. It returns false if the
// same request is already in flight.
func (p *Pipeline) Submit(ctx context.Context, tok Token, sink Sink) bool {
	key := tok.Key()
	p.mu.Lock()
	if p.inflight[key] {
		p.mu.Unlock()
		p.logger.Debug("Generation already in flight", "key", key)
		return false
	}
	p.inflight[key] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.inflight, key)
			p.mu.Unlock()
		}()
		p.run(ctx, tok, sink)
	}()
	return true
}

// Supersede makes every outstanding request stale without starting a new
// one. Used when a background was set by other means.
func (p *Pipeline) Supersede() {
	p.mu.Lock()
	p.clock++
	p.latest = p.clock
	p.mu.Unlock()
}

// Latest returns the largest stamp issued so far.
func (p *Pipeline) Latest() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Wait blocks until all background work has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) current(tok Token) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return tok.Stamp >= p.latest
}

// commitIfCurrent hands path to sink only if tok is still the newest request.
// The check and ApplyBackground share the lock; Committed runs outside it.
func (p *Pipeline) commitIfCurrent(tok Token, sink Sink, path string, fallback bool) bool {
	p.mu.Lock()
	if tok.Stamp < p.latest {
		p.mu.Unlock()
		return false
	}
	sink.ApplyBackground(path, fallback)
	p.mu.Unlock()

	if c, ok := sink.(Committer); ok {
		c.Committed(path, fallback)
	}
	return true
}

func (p *Pipeline) run(ctx context.Context, tok Token, sink Sink) {
	logger := p.logger.With("value", tok.Value, "stamp", tok.Stamp)
	usingFallback := false

	for attempt := 0; attempt <= len(p.delays); attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.delays[attempt-1]); err != nil {
				p.report(Status{Token: tok, Phase: PhaseFailed, Error: err.Error()})
				logger.Warn("Generation cancelled", "error", err)
				return
			}
			if !p.current(tok) {
				p.report(Status{Token: tok, Phase: PhaseStale})
				logger.Debug("Generation superseded before retry")
				return
			}
		}
		tok.Attempt = attempt + 1

		p.report(Status{Token: tok, Phase: PhaseGenerating})
		path, err := p.generate(ctx, tok)
		if err == nil {
			p.register(ctx, tok, path, logger)
			if p.commitIfCurrent(tok, sink, path, false) {
				p.report(Status{Token: tok, Phase: PhaseCommitted, Path: path})
				logger.Info("Generated background committed", "path", path, "attempt", tok.Attempt)
			} else {
				p.report(Status{Token: tok, Phase: PhaseStale, Path: path})
				logger.Info("Generated background discarded, newer request exists", "path", path)
			}
			return
		}

		logger.Warn("Background generation failed", "error", err, "attempt", tok.Attempt)

		if !usingFallback {
			usingFallback = true
			p.applyFallback(tok, sink, logger)
		}

		if IsFatal(err) {
			p.report(Status{Token: tok, Phase: PhaseFailed, Error: err.Error()})
			return
		}
		if !p.current(tok) {
			p.report(Status{Token: tok, Phase: PhaseStale})
			return
		}
	}

	p.report(Status{Token: tok, Phase: PhaseExhausted})
	logger.Warn("Background generation retries exhausted, keeping fallback", "attempts", tok.Attempt)
}

func (p *Pipeline) generate(ctx context.Context, tok Token) (string, error) {
	path, err := p.gen.Generate(ctx, tok.Value, catalog.Background)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", ErrEmptyResult
	}
	return path, nil
}

func (p *Pipeline) register(ctx context.Context, tok Token, path string, logger *slog.Logger) {
	if p.registrar == nil {
		return
	}
	e := catalog.Entry{Category: catalog.Background, Path: path, Description: tok.Value}
	if err := p.registrar.Register(ctx, e); err != nil {
		logger.Error("Failed to register generated background", "path", path, "error", err)
	}
}

func (p *Pipeline) applyFallback(tok Token, sink Sink, logger *slog.Logger) {
	if p.fallback == nil {
		return
	}
	m, ok := p.fallback.Fallback(catalog.Background, tok.Value)
	if !ok {
		logger.Warn("No fallback background available")
		return
	}
	if !p.commitIfCurrent(tok, sink, m.Entry.Path, true) {
		return
	}
	p.report(Status{Token: tok, Phase: PhaseFallback, Path: m.Entry.Path})
	logger.Info("Fallback background applied", "path", m.Entry.Path, "heuristic", m.Heuristic)
}

// Describe formats a status for people, e.g. a status line in a UI.
func Describe(s Status) string {
	switch s.Phase {
	case PhaseGenerating:
		if s.Token.Attempt > 1 {
			return fmt.Sprintf("generating %q (attempt %d)", s.Token.Value, s.Token.Attempt)
		}
		return fmt.Sprintf("generating %q", s.Token.Value)
	case PhaseFallback:
		return fmt.Sprintf("using fallback %s", s.Path)
	case PhaseCommitted:
		return fmt.Sprintf("background ready: %s", s.Path)
	case PhaseFailed:
		return fmt.Sprintf("could not generate %q: %s", s.Token.Value, s.Error)
	case PhaseExhausted:
		return fmt.Sprintf("gave up generating %q", s.Token.Value)
	default:
		return ""
	}
}

