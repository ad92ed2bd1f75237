package runner

import (
	"time"

	"github.com/google/uuid"
)

// ResetStageText as step text deletes the stage instead of submitting a turn.
const ResetStageText = "RESET_STAGE"

// TestSuite defines a complete integration test scenario.
// Can either be a regular test with Steps, or a suite that references other Cases
type TestSuite struct {
	Name  string     `json:"name"`
	Steps []TestStep `json:"steps,omitempty"` // Used for regular tests
	Cases []string   `json:"cases,omitempty"` // Used for suite tests (list of case files)
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep is one generated text submitted as a turn, and what the stage
// should look like once the worker has committed it.
type TestStep struct {
	Name   string       `json:"name,omitempty"`
	Text   string       `json:"text"`
	Expect Expectations `json:"expect"`
}

// Expectations defines what to check after a step executes. Nil and empty
// fields are not checked.
type Expectations struct {
	Background       *string           `json:"background,omitempty"`
	BackgroundPrefix *string           `json:"background_prefix,omitempty"` // generated backgrounds have random names
	Overlay          *string           `json:"overlay,omitempty"`
	Music            *string           `json:"music,omitempty"`
	Portraits        map[string]string `json:"portraits,omitempty"` // character -> sprite path
	Hidden           []string          `json:"hidden,omitempty"`    // characters that must not be visible
	Inventory        []string          `json:"inventory,omitempty"` // order independent
	SceneObjects     []string          `json:"scene_objects,omitempty"`
	Turns            *int              `json:"turns,omitempty"`

	// WaitForBackground keeps polling after the turn commits until the
	// background is set, for steps that trigger generation.
	WaitForBackground bool `json:"wait_for_background,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	StepName  string
	RequestID string
	Success   bool
	Error     error
	Duration  time.Duration
	IsReset   bool // RESET_STAGE steps do not count toward pass/fail metrics
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job       TestJob
	Results   []TestResult
	SessionID uuid.UUID
	Duration  time.Duration
	Error     error
}
