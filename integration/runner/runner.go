package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/episode-engine/internal/router"
	"github.com/jwebster45206/episode-engine/pkg/priority"
	"github.com/jwebster45206/episode-engine/pkg/state"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// PollInterval is how often async steps re-check player state
const PollInterval = 250 * time.Millisecond

// Runner executes integration tests against a running episode-engine API
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration // Max wait for an async step's expectations
	Logger            func(format string, args ...any)
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 30 * time.Second},
		Timeout:           30 * time.Second,
		Logger:            func(string, ...any) {},
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
		return []TestJob{{Name: suite.Name, Suite: suite, CaseFile: filename}}, nil
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

// RunSuite executes a complete test suite against a fresh player
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	playerID := "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	result := TestRunResult{
		Job:      TestJob{Name: suite.Name, Suite: suite},
		Results:  make([]TestResult, 0, len(suite.Steps)),
		PlayerID: playerID,
	}

	if suite.SeedProfile != nil {
		seed := *suite.SeedProfile
		seed.PlayerID = playerID
		if _, _, err := r.do(ctx, http.MethodPut, r.playerURL(playerID, "profile"), seed, http.StatusOK); err != nil {
			result.Error = fmt.Errorf("failed to seed profile: %w", err)
			result.Duration = time.Since(start)
			return result, result.Error
		}
	}

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.runStep(ctx, playerID, step)
		stepResult.TestName = suite.Name
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
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

func (r *Runner) runStep(ctx context.Context, playerID string, step TestStep) TestResult {
	start := time.Now()
	result := TestResult{StepName: step.Name}

	summary, err := r.execute(ctx, playerID, step)
	if err == nil {
		if step.Async {
			err = r.waitFor(ctx, playerID, step.Expectations)
		} else {
			err = r.check(ctx, playerID, summary, step.Expectations)
		}
	}

	result.Error = err
	result.Success = err == nil
	result.Duration = time.Since(start)
	return result
}

// execute performs the step's request and returns the summary when the API sends one.
func (r *Runner) execute(ctx context.Context, playerID string, step TestStep) (*router.Summary, error) {
	var (
		method, url string
		body        any
		want        = http.StatusOK
	)
	switch {
	case step.Event != nil:
		method, url, body = http.MethodPost, r.playerURL(playerID, "events"), step.Event
		if step.Async {
			url += "?async=true"
			want = http.StatusAccepted
		}
	case step.Focus != "":
		method, url, body = http.MethodPost, r.playerURL(playerID, "focus"), map[string]string{"episode_id": step.Focus}
	case step.ClearFocus:
		method, url = http.MethodDelete, r.playerURL(playerID, "focus")
	case step.Profile != nil:
		profile := *step.Profile
		profile.PlayerID = playerID
		method, url, body = http.MethodPut, r.playerURL(playerID, "profile"), profile
	default:
		return nil, fmt.Errorf("step has no action")
	}
	if step.ExpectStatus != 0 {
		want = step.ExpectStatus
	}

	status, data, err := r.do(ctx, method, url, body, want)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || step.Profile != nil {
		return nil, nil
	}

	var summary router.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &summary, nil
}

// waitFor polls player state until the expectations hold or the timeout passes.
func (r *Runner) waitFor(ctx context.Context, playerID string, expect Expectations) error {
	deadline := time.Now().Add(r.Timeout)
	for {
		err := r.check(ctx, playerID, nil, expect)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for queued event: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

func (r *Runner) check(ctx context.Context, playerID string, summary *router.Summary, expect Expectations) error {
	if summary != nil {
		if expect.Duplicate != nil && summary.Duplicate != *expect.Duplicate {
			return fmt.Errorf("expected duplicate=%v, got %v", *expect.Duplicate, summary.Duplicate)
		}
		if expect.Ignored != nil && summary.Ignored != *expect.Ignored {
			return fmt.Errorf("expected ignored=%v, got %v", *expect.Ignored, summary.Ignored)
		}
		for _, id := range expect.Unlocked {
			if !slices.Contains(summary.Unlocked, id) {
				return fmt.Errorf("expected %s to unlock, got %v", id, summary.Unlocked)
			}
		}
		for _, id := range expect.Completed {
			if !slices.Contains(summary.Completed, id) {
				return fmt.Errorf("expected %s to complete, got %v", id, summary.Completed)
			}
		}
	}

	if len(expect.Lifecycles) > 0 || len(expect.Beats) > 0 {
		var states map[string]*state.EpisodeState
		if err := r.getJSON(ctx, r.playerURL(playerID, "episodes"), &states); err != nil {
			return err
		}
		for id, want := range expect.Lifecycles {
			es, ok := states[id]
			if !ok {
				// Locked episodes have no stored state until they unlock
				if want == state.LifecycleInactive {
					continue
				}
				return fmt.Errorf("episode %s has no state", id)
			}
			if es.Lifecycle != want {
				return fmt.Errorf("expected %s to be %s, got %s", id, want, es.Lifecycle)
			}
		}
		for id, want := range expect.Beats {
			es, ok := states[id]
			if !ok {
				return fmt.Errorf("episode %s has no state", id)
			}
			if es.CurrentBeat != want {
				return fmt.Errorf("expected %s at beat index %d, got %d", id, want, es.CurrentBeat)
			}
		}
	}

	if len(expect.Flags) > 0 || len(expect.NoFlags) > 0 {
		var got map[string]any
		if err := r.getJSON(ctx, r.playerURL(playerID, "flags"), &got); err != nil {
			return err
		}
		for key, want := range expect.Flags {
			if fmt.Sprint(got[key]) != fmt.Sprint(want) {
				return fmt.Errorf("expected flag %s=%v, got %v", key, want, got[key])
			}
		}
		for _, key := range expect.NoFlags {
			if _, ok := got[key]; ok {
				return fmt.Errorf("expected flag %s to be unset", key)
			}
		}
	}

	if expect.Primary != nil {
		var rc priority.RankedContext
		if err := r.getJSON(ctx, r.playerURL(playerID, "context"), &rc); err != nil {
			return err
		}
		primary := ""
		for _, ep := range rc.Episodes {
			if ep.Tier == state.TierPrimary {
				primary = ep.EpisodeID
			}
		}
		if primary != *expect.Primary {
			return fmt.Errorf("expected primary %q, got %q", *expect.Primary, primary)
		}
	}
	return nil
}

func (r *Runner) playerURL(playerID, resource string) string {
	return fmt.Sprintf("%s/v1/players/%s/%s", r.BaseURL, playerID, resource)
}

func (r *Runner) getJSON(ctx context.Context, url string, v any) error {
	_, data, err := r.do(ctx, http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}

// do sends one request and fails unless the response has the wanted status.
func (r *Runner) do(ctx context.Context, method, url string, body any, want int) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != want {
		return resp.StatusCode, data, fmt.Errorf("%s %s returned %d (expected %d): %s", method, url, resp.StatusCode, want, string(data))
	}
	return resp.StatusCode, data, nil
}
