package runner

import (
	"time"

	"github.com/jwebster45206/episode-engine/pkg/episode"
	"github.com/jwebster45206/episode-engine/pkg/state"
)

// TestSuite defines a complete integration test scenario
// Can either be a regular test with Steps, or a suite that references other Cases
type TestSuite struct {
	Name        string         `json:"name"`
	SeedProfile *state.Profile `json:"seed_profile,omitempty"` // Stored before the first step
	Steps       []TestStep     `json:"steps,omitempty"`        // Used for regular tests
	Cases       []string       `json:"cases,omitempty"`        // Used for suite tests (list of case files)
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep is one interaction with the API. Exactly one of Event, Focus,
// ClearFocus or Profile is set.
type TestStep struct {
	Name         string         `json:"name,omitempty"`
	Event        *episode.Event `json:"event,omitempty"`
	Async        bool           `json:"async,omitempty"` // Queue the event and poll until expectations hold
	Focus        string         `json:"focus,omitempty"`
	ClearFocus   bool           `json:"clear_focus,omitempty"`
	Profile      *state.Profile `json:"profile,omitempty"`
	ExpectStatus int            `json:"expect_status,omitempty"` // Defaults to 200, or 202 for async events
	Expectations Expectations   `json:"expect"`
}

// Expectations defines what to check after a test step executes
type Expectations struct {
	Lifecycles map[string]state.Lifecycle `json:"lifecycles,omitempty"` // Episode ID -> lifecycle
	Beats      map[string]int             `json:"beats,omitempty"`      // Episode ID -> current beat index
	Flags      map[string]any             `json:"flags,omitempty"`      // Compared after JSON decoding
	NoFlags    []string                   `json:"no_flags,omitempty"`
	Primary    *string                    `json:"primary,omitempty"` // Episode ID of the ranked context's primary
	Unlocked   []string                   `json:"unlocked,omitempty"`
	Completed  []string                   `json:"completed,omitempty"`
	Duplicate  *bool                      `json:"duplicate,omitempty"`
	Ignored    *bool                      `json:"ignored,omitempty"`
}

// IsEmpty reports whether the step checks nothing beyond its status code.
func (e Expectations) IsEmpty() bool {
	return len(e.Lifecycles) == 0 && len(e.Beats) == 0 && len(e.Flags) == 0 && len(e.NoFlags) == 0 &&
		e.Primary == nil && len(e.Unlocked) == 0 && len(e.Completed) == 0 && e.Duplicate == nil && e.Ignored == nil
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName string
	StepName string
	Success  bool
	Error    error
	Duration time.Duration
}

// TestJob represents a test suite to be executed by a worker
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job      TestJob
	Results  []TestResult
	Error    error
	Duration time.Duration
	PlayerID string // Fresh player used for this run
}
