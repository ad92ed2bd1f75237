package stage

import (
	"log/slog"
	"sync"

	"github.com/jwebster45206/stage-engine/pkg/directive"
)

// Manager owns the live State of one session and serializes every change
// to it.
type Manager struct {
	resolver Resolver
	handlers Handlers
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// NewManager creates a manager starting from initial.
func NewManager(initial State, r Resolver, h Handlers, logger *slog.Logger) *Manager {
	if h == nil {
		h = NopHandlers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		resolver: r,
		handlers: h,
		logger:   logger,
		state:    initial.Clone(),
	}
}

// Apply applies a directive batch to the live state.
func (m *Manager) Apply(ds []directive.Directive) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, res := Apply(m.state, ds, m.resolver, m.handlers)
	m.state = next

	for _, u := range res.Unresolved {
		m.logger.Warn("Directive unresolved",
			"type", u.Directive.Type,
			"value", u.Directive.Value,
			"reason", u.Reason)
	}
	if len(res.Weak) > 0 {
		m.logger.Debug("Sprites applied as weak matches", "count", len(res.Weak))
	}
	return res
}

// SetBackground puts path on stage directly, bypassing the resolver. Used
// when a generated or fallback background arrives. Clears the overlay.
func (m *Manager) SetBackground(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := applier{state: m.state, handlers: m.handlers}
	a.setBackground(path)
	m.state = a.state
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Restore replaces the current state, e.g. after loading a saved session.
// Handlers are not called.
func (m *Manager) Restore(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.Clone()
}
