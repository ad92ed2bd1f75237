package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/engine"
	"github.com/jwebster45206/stage-engine/pkg/generation"
	"github.com/jwebster45206/stage-engine/pkg/stage"
)

// Session runs one stage in-process and turns the engine's asynchronous
// callbacks into bubbletea messages.
type Session struct {
	engine    *engine.Engine
	catalog   *catalog.Catalog
	events    chan tea.Msg
	stateFile string
	logger    *slog.Logger
}

type turnMsg struct {
	input  string
	result engine.TurnResult
}

type cueMsg struct {
	text string
}

type commitMsg struct {
	state    stage.State
	path     string
	fallback bool
}

type generationMsg struct {
	status generation.Status
}

type savedMsg struct {
	path string
	err  error
}

func NewSession(cat *catalog.Catalog, gen generation.Generator, initial stage.State, delays []time.Duration, stateFile string, logger *slog.Logger) *Session {
	s := &Session{
		catalog:   cat,
		events:    make(chan tea.Msg, 64),
		stateFile: stateFile,
		logger:    logger,
	}

	cues := stage.HandlerFuncs{
		Effect:      func(name string) { s.emit(cueMsg{text: "effect: " + name}) },
		SoundEffect: func(name string) { s.emit(cueMsg{text: "sound: " + name}) },
		Camera: func(action, target string) {
			if target != "" {
				action += " → " + target
			}
			s.emit(cueMsg{text: "camera: " + action})
		},
	}

	pipelineOpts := []generation.Option{
		generation.WithReporter(func(st generation.Status) { s.emit(generationMsg{status: st}) }),
	}
	if len(delays) > 0 {
		pipelineOpts = append(pipelineOpts, generation.WithDelays(delays))
	}

	s.engine = engine.New(cat, gen, initial, cues, logger,
		engine.WithCommitHook(func(state stage.State, path string, fallback bool) {
			s.emit(commitMsg{state: state, path: path, fallback: fallback})
		}),
		engine.WithPipelineOptions(pipelineOpts...),
	)
	return s
}

// emit never blocks: the commit hook runs under the pipeline lock.
func (s *Session) emit(msg tea.Msg) {
	select {
	case s.events <- msg:
	default:
		s.logger.Warn("Console event dropped", "type", fmt.Sprintf("%T", msg))
	}
}

// Listen waits for the next asynchronous engine event.
func (s *Session) Listen() tea.Cmd {
	return func() tea.Msg {
		return <-s.events
	}
}

// Process applies one block of model text.
func (s *Session) Process(input string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return turnMsg{input: input, result: s.engine.ProcessTurn(ctx, input)}
	}
}

func (s *Session) State() stage.State {
	return s.engine.State()
}

func (s *Session) Reset() {
	s.engine.Restore(stage.NewState())
}

// Save writes the stage to the state file, if one was given.
func (s *Session) Save() tea.Cmd {
	return func() tea.Msg {
		if s.stateFile == "" {
			return savedMsg{err: errors.New("no state file given on the command line")}
		}
		return savedMsg{path: s.stateFile, err: saveState(s.stateFile, s.engine.State())}
	}
}

func (s *Session) Close() {
	s.engine.Close()
}

// loadState reads a saved stage. An empty path or a missing file starts
// from an empty stage.
func loadState(path string) (stage.State, error) {
	if path == "" {
		return stage.NewState(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return stage.NewState(), nil
	}
	if err != nil {
		return stage.State{}, fmt.Errorf("failed to read state file: %w", err)
	}
	var st stage.State
	if err := json.Unmarshal(data, &st); err != nil {
		return stage.State{}, fmt.Errorf("failed to parse state file: %w", err)
	}
	// Clone fills collections a hand-written file may leave out
	return st.Clone(), nil
}

func saveState(path string, st stage.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
