package generation

import "fmt"

// Token identifies one background request as it moves through the
// pipeline. Stamp is a logical timestamp: a token may commit only while no
// larger stamp has been issued.
type Token struct {
	Value   string `json:"value"`
	Stamp   uint64 `json:"stamp"`
	Attempt int    `json:"attempt"`
}

// Key identifies the request for deduplication.
func (t Token) Key() string {
	return fmt.Sprintf("%s#%d", t.Value, t.Stamp)
}

// Phase is a step in a request's life, reported to the Reporter.
type Phase string

const (
	PhaseGenerating Phase = "generating"
	PhaseFallback   Phase = "fallback"
	PhaseCommitted  Phase = "committed"
	PhaseStale      Phase = "stale"
	PhaseFailed     Phase = "failed"
	PhaseExhausted  Phase = "exhausted"
)

// Status is one progress report for a token.
type Status struct {
	Token Token  `json:"token"`
	Phase Phase  `json:"phase"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// Final reports whether no further status will follow for the token.
func (s Status) Final() bool {
	switch s.Phase {
	case PhaseCommitted, PhaseStale, PhaseFailed, PhaseExhausted:
		return true
	}
	return false
}
