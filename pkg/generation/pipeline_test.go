package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/resolve"
)

// fakeGenerator answers each call with the next scripted step.
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	steps []func(ctx context.Context, prompt string) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, cat catalog.Category) (string, error) {
	g.mu.Lock()
	i := g.calls
	g.calls++
	g.mu.Unlock()
	if i >= len(g.steps) {
		i = len(g.steps) - 1
	}
	return g.steps[i](ctx, prompt)
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func returns(path string, err error) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) { return path, err }
}

type sinkCall struct {
	Path     string
	Fallback bool
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *recordingSink) ApplyBackground(path string, fallback bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{path, fallback})
}

func (s *recordingSink) Calls() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

type statusLog struct {
	mu       sync.Mutex
	statuses []Status
}

func (l *statusLog) report(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
}

func (l *statusLog) phases(stamp uint64) []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Phase
	for _, s := range l.statuses {
		if s.Token.Stamp == stamp {
			out = append(out, s.Phase)
		}
	}
	return out
}

type harness struct {
	cat    *catalog.Catalog
	gen    *fakeGenerator
	sink   *recordingSink
	log    *statusLog
	sleeps []time.Duration
	p      *Pipeline
}

func newHarness(t *testing.T, steps ...func(context.Context, string) (string, error)) *harness {
	t.Helper()
	h := &harness{
		gen:  &fakeGenerator{steps: steps},
		sink: &recordingSink{},
		log:  &statusLog{},
	}
	h.cat = catalog.New(catalog.Manifest{
		catalog.Background: {
			"backgrounds/forest_edge.png": "trees at the edge of a forest",
			"backgrounds/default.png":     "default backdrop",
		},
	}, time.Minute, nil)
	require.NoError(t, h.cat.Refresh(context.Background()))

	var mu sync.Mutex
	h.p = NewPipeline(h.gen, resolve.New(h.cat),
		WithRegistrar(h.cat),
		WithReporter(h.log.report),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			h.sleeps = append(h.sleeps, d)
			mu.Unlock()
			return ctx.Err()
		}),
	)
	return h
}

func TestPipeline_CommitsOnFirstAttempt(t *testing.T) {
	h := newHarness(t, returns("backgrounds/generated/lighthouse_01.png", nil))

	tok := h.p.RequestBackground(context.Background(), "lighthouse", h.sink)
	h.p.Wait()

	assert.Equal(t, uint64(1), tok.Stamp)
	assert.Equal(t, []sinkCall{{"backgrounds/generated/lighthouse_01.png", false}}, h.sink.Calls())
	assert.Equal(t, []Phase{PhaseGenerating, PhaseCommitted}, h.log.phases(tok.Stamp))
	assert.Empty(t, h.sleeps)

	entries := h.cat.Entries(catalog.Background)
	assert.Contains(t, entries, catalog.Entry{
		Category:    catalog.Background,
		Path:        "backgrounds/generated/lighthouse_01.png",
		Description: "lighthouse",
	})
}

func TestPipeline_OlderResultNeverCommits(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	h := newHarness(t,
		func(ctx context.Context, prompt string) (string, error) {
			close(started)
			<-release
			return "backgrounds/generated/castle_r1.png", nil
		},
		returns("backgrounds/generated/castle_r2.png", nil),
	)

	r1 := h.p.RequestBackground(context.Background(), "castle", h.sink)
	<-started
	r2 := h.p.RequestBackground(context.Background(), "castle", h.sink)
	require.Greater(t, r2.Stamp, r1.Stamp)
	close(release)
	h.p.Wait()

	calls := h.sink.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, sinkCall{"backgrounds/generated/castle_r2.png", false}, calls[len(calls)-1])
	for _, c := range calls {
		assert.NotEqual(t, "backgrounds/generated/castle_r1.png", c.Path)
	}
	assert.Equal(t, []Phase{PhaseGenerating, PhaseStale}, h.log.phases(r1.Stamp))
	assert.Equal(t, []Phase{PhaseGenerating, PhaseCommitted}, h.log.phases(r2.Stamp))
}

// slowCommitSink blocks in Committed until released.
type slowCommitSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
}

func (s *slowCommitSink) Committed(path string, fallback bool) {
	close(s.entered)
	<-s.release
}

func TestPipeline_CommittedRunsOutsideLock(t *testing.T) {
	h := newHarness(t, returns("backgrounds/generated/harbor_01.png", nil))
	sink := &slowCommitSink{entered: make(chan struct{}), release: make(chan struct{})}

	tok := h.p.RequestBackground(context.Background(), "harbor", sink)
	<-sink.entered

	done := make(chan struct{})
	go func() {
		h.p.Supersede()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Supersede blocked while Committed was running")
	}
	assert.Greater(t, h.p.Latest(), tok.Stamp)
	assert.Equal(t, []sinkCall{{"backgrounds/generated/harbor_01.png", false}}, sink.Calls())

	close(sink.release)
	h.p.Wait()
}

func TestPipeline_StaleFailureDoesNotApplyFallback(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	h := newHarness(t,
		func(ctx context.Context, prompt string) (string, error) {
			close(started)
			<-release
			return "", errors.New("connection reset")
		},
	)

	r1 := h.p.RequestBackground(context.Background(), "forest", h.sink)
	<-started
	h.p.Supersede()
	close(release)
	h.p.Wait()

	assert.Empty(t, h.sink.Calls())
	assert.Equal(t, []Phase{PhaseGenerating, PhaseStale}, h.log.phases(r1.Stamp))
	assert.Equal(t, 1, h.gen.Calls())
}

func TestPipeline_FatalErrorKeepsFallback(t *testing.T) {
	for _, fatal := range []error{ErrAuthRequired, ErrAuthInvalid, fmt.Errorf("venice: %w", ErrUnsupportedType)} {
		t.Run(fatal.Error(), func(t *testing.T) {
			h := newHarness(t, returns("", fatal))

			tok := h.p.RequestBackground(context.Background(), "forest clearing", h.sink)
			h.p.Wait()

			assert.Equal(t, 1, h.gen.Calls(), "fatal errors are not retried")
			assert.Equal(t, []sinkCall{{"backgrounds/forest_edge.png", true}}, h.sink.Calls())
			assert.Equal(t, []Phase{PhaseGenerating, PhaseFallback, PhaseFailed}, h.log.phases(tok.Stamp))
			assert.Empty(t, h.sleeps)
		})
	}
}

func TestPipeline_TransientErrorsRetryThenCommit(t *testing.T) {
	h := newHarness(t,
		returns("", errors.New("timeout")),
		returns("", nil),
		returns("backgrounds/generated/forest_03.png", nil),
	)

	tok := h.p.RequestBackground(context.Background(), "forest", h.sink)
	h.p.Wait()

	assert.Equal(t, 3, h.gen.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeps)
	assert.Equal(t, []sinkCall{
		{"backgrounds/forest_edge.png", true},
		{"backgrounds/generated/forest_03.png", false},
	}, h.sink.Calls())
	assert.Equal(t, []Phase{
		PhaseGenerating, PhaseFallback,
		PhaseGenerating,
		PhaseGenerating, PhaseCommitted,
	}, h.log.phases(tok.Stamp))
}

func TestPipeline_ExhaustedLeavesFallback(t *testing.T) {
	h := newHarness(t, returns("", errors.New("503")))

	tok := h.p.RequestBackground(context.Background(), "submarine", h.sink)
	h.p.Wait()

	assert.Equal(t, len(DefaultDelays)+1, h.gen.Calls())
	assert.Equal(t, DefaultDelays, h.sleeps)
	require.Len(t, h.sink.Calls(), 1)
	assert.True(t, h.sink.Calls()[0].Fallback)

	phases := h.log.phases(tok.Stamp)
	assert.Equal(t, PhaseExhausted, phases[len(phases)-1])
}

func TestPipeline_SupersededDuringRetry(t *testing.T) {
	h := newHarness(t, returns("", errors.New("timeout")))
	h.p.sleep = func(ctx context.Context, d time.Duration) error {
		h.p.Supersede()
		return nil
	}

	tok := h.p.RequestBackground(context.Background(), "forest", h.sink)
	h.p.Wait()

	assert.Equal(t, 1, h.gen.Calls(), "a stale request stops before its next attempt")
	assert.Equal(t, []Phase{PhaseGenerating, PhaseFallback, PhaseStale}, h.log.phases(tok.Stamp))
}

func TestPipeline_CancelledContextStops(t *testing.T) {
	h := newHarness(t, returns("", errors.New("timeout")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tok := h.p.RequestBackground(ctx, "forest", h.sink)
	h.p.Wait()

	phases := h.log.phases(tok.Stamp)
	assert.Equal(t, PhaseFailed, phases[len(phases)-1])
	assert.Equal(t, 1, h.gen.Calls())
}

func TestPipeline_DuplicateSubmitIgnored(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, prompt string) (string, error) {
		close(started)
		<-release
		return "backgrounds/generated/dup.png", nil
	})

	tok := h.p.RequestBackground(context.Background(), "dup", h.sink)
	<-started
	assert.False(t, h.p.Submit(context.Background(), tok, h.sink))
	close(release)
	h.p.Wait()

	assert.Equal(t, 1, h.gen.Calls())
	assert.Len(t, h.sink.Calls(), 1)
}

func TestPipeline_StampsIncrease(t *testing.T) {
	h := newHarness(t, returns("backgrounds/generated/x.png", nil))
	var last uint64
	for i := 0; i < 5; i++ {
		tok := h.p.RequestBackground(context.Background(), "x", h.sink)
		assert.Greater(t, tok.Stamp, last)
		last = tok.Stamp
		if i == 2 {
			h.p.Supersede()
		}
	}
	h.p.Wait()
	assert.Equal(t, last, h.p.Latest())
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrAuthRequired, true},
		{ErrAuthInvalid, true},
		{ErrUnsupportedType, true},
		{fmt.Errorf("wrapped: %w", ErrAuthInvalid), true},
		{ErrEmptyResult, false},
		{errors.New("timeout"), false},
		{context.DeadlineExceeded, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsFatal(tt.err), "%v", tt.err)
	}
}

func TestDescribe(t *testing.T) {
	tok := Token{Value: "forest", Stamp: 3, Attempt: 2}
	assert.Equal(t, `generating "forest" (attempt 2)`, Describe(Status{Token: tok, Phase: PhaseGenerating}))
	assert.Equal(t, "using fallback backgrounds/a.png", Describe(Status{Token: tok, Phase: PhaseFallback, Path: "backgrounds/a.png"}))
	assert.Equal(t, `could not generate "forest": bad key`, Describe(Status{Token: tok, Phase: PhaseFailed, Error: "bad key"}))
	assert.Empty(t, Describe(Status{Token: tok, Phase: PhaseStale}))
	assert.Equal(t, "forest#3", tok.Key())
}
