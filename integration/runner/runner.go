package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/storage"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running stage-engine API
// and worker.
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 30 * time.Second},
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}
	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		subJobs, err := LoadTestSuiteWithExpansion(filepath.Join(casesDir, caseFile), casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}
		jobs = append(jobs, subJobs...)
	}
	return jobs, nil
}

// RunSuite executes every step of suite against a fresh session
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job:       TestJob{Name: suite.Name, Suite: suite},
		Results:   make([]TestResult, 0, len(suite.Steps)),
		SessionID: uuid.New(),
	}
	defer func() {
		_ = DeleteStage(context.Background(), r.Client, r.BaseURL, result.SessionID)
	}()

	prevTurns := 0
	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult, turns := r.runStep(ctx, result.SessionID, step, prevTurns)
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}

		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
		prevTurns = turns
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

// runStep submits one turn and checks the committed stage. It returns the
// turn counter after the step.
func (r *Runner) runStep(ctx context.Context, sessionID uuid.UUID, step TestStep, prevTurns int) (TestResult, int) {
	start := time.Now()
	result := TestResult{StepName: step.Name}
	fail := func(err error) (TestResult, int) {
		result.Error = err
		result.Duration = time.Since(start)
		return result, prevTurns
	}

	if step.Text == ResetStageText {
		if err := DeleteStage(ctx, r.Client, r.BaseURL, sessionID); err != nil {
			return fail(fmt.Errorf("failed to reset stage: %w", err))
		}
		if _, err := GetStage(ctx, r.Client, r.BaseURL, sessionID); !errors.Is(err, errStageNotFound) {
			return fail(fmt.Errorf("stage still present after reset: %v", err))
		}
		result.Success = true
		result.IsReset = true
		result.Duration = time.Since(start)
		return result, 0
	}

	requestID, err := PostTurn(ctx, r.Client, r.BaseURL, sessionID, step.Text)
	if err != nil {
		return fail(err)
	}
	result.RequestID = requestID

	snap, err := PollForCommit(ctx, r.Client, r.BaseURL, sessionID, prevTurns)
	if err != nil {
		return fail(err)
	}
	turns := snap.Turns

	if step.Expect.WaitForBackground && snap.State.Background == "" {
		if snap, err = PollForBackground(ctx, r.Client, r.BaseURL, sessionID); err != nil {
			return fail(err)
		}
	}

	if err := CheckExpectations(step.Expect, snap); err != nil {
		return fail(fmt.Errorf("expectation failed: %w", err))
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result, turns
}

// CheckExpectations validates exp against a committed snapshot
func CheckExpectations(exp Expectations, snap *storage.StageSnapshot) error {
	st := snap.State

	if exp.Background != nil && st.Background != *exp.Background {
		return fmt.Errorf("expected background %q, got %q", *exp.Background, st.Background)
	}
	if exp.BackgroundPrefix != nil && !strings.HasPrefix(st.Background, *exp.BackgroundPrefix) {
		return fmt.Errorf("expected background under %q, got %q", *exp.BackgroundPrefix, st.Background)
	}
	if exp.Overlay != nil && st.Overlay != *exp.Overlay {
		return fmt.Errorf("expected overlay %q, got %q", *exp.Overlay, st.Overlay)
	}
	if exp.Music != nil && st.Music != *exp.Music {
		return fmt.Errorf("expected music %q, got %q", *exp.Music, st.Music)
	}

	for id, want := range exp.Portraits {
		p, ok := st.Portraits[catalog.CharacterIDFromName(id)]
		if !ok {
			return fmt.Errorf("expected %s on stage, visible: %v", id, st.VisibleCharacters())
		}
		if p.Path != want {
			return fmt.Errorf("expected %s sprite %q, got %q", id, want, p.Path)
		}
	}
	for _, id := range exp.Hidden {
		if _, ok := st.Portraits[catalog.CharacterIDFromName(id)]; ok {
			return fmt.Errorf("expected %s to be hidden, visible: %v", id, st.VisibleCharacters())
		}
	}

	if exp.Inventory != nil {
		if err := sameItems("inventory", exp.Inventory, st.Inventory); err != nil {
			return err
		}
	}
	if exp.SceneObjects != nil {
		if err := sameItems("scene objects", exp.SceneObjects, st.SceneObjects); err != nil {
			return err
		}
	}

	if exp.Turns != nil && snap.Turns != *exp.Turns {
		return fmt.Errorf("expected turns to be %d, got %d", *exp.Turns, snap.Turns)
	}
	return nil
}

// sameItems compares two item lists ignoring order and case
func sameItems(what string, want, got []string) error {
	norm := func(items []string) []string {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = strings.ToLower(it)
		}
		sort.Strings(out)
		return out
	}
	w, g := norm(want), norm(got)
	if strings.Join(w, "\x00") != strings.Join(g, "\x00") {
		return fmt.Errorf("expected %s %v, got %v", what, want, got)
	}
	return nil
}
