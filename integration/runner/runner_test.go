package runner

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/episode-engine/internal/app"
	"github.com/jwebster45206/episode-engine/internal/config"
	"github.com/jwebster45206/episode-engine/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startStack runs the API and one worker in-process over miniredis and the shipped catalog.
func startStack(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)

	cfg := &config.Config{
		RedisURL:         "redis://" + mr.Addr(),
		StorageBackend:   config.BackendMemory,
		CatalogDir:       filepath.Join("..", "..", "data", "episodes"),
		MaxCascadeDepth:  16,
		MemoryLimit:      50,
		SeenEventLimit:   64,
		PrimaryWeight:    0.6,
		SecondaryWeight:  0.3,
		BackgroundWeight: 0.1,
	}
	rt, err := app.Build(context.Background(), cfg, logger)
	require.NoError(t, err)

	w := worker.New(rt.Queue, rt.Router, rt.Broadcaster, rt.Redis, logger, "test-worker").
		WithPollTimeout(time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start()
	}()

	srv := httptest.NewServer(rt.Handler())
	t.Cleanup(func() {
		srv.Close()
		w.Stop()
		<-done
		rt.Close()
	})
	return srv.URL
}

func TestRunSuite_Cases(t *testing.T) {
	baseURL := startStack(t)

	for _, name := range []string{"lighthouse_keeper.json", "async_queue.json"} {
		t.Run(name, func(t *testing.T) {
			jobs, err := LoadTestSuiteWithExpansion(filepath.Join("..", "cases", name), filepath.Join("..", "cases"))
			require.NoError(t, err)
			require.Len(t, jobs, 1)

			r := NewRunner(baseURL)
			r.Timeout = 10 * time.Second
			result, err := r.RunSuite(context.Background(), jobs[0].Suite)
			require.NoError(t, err)
			for _, step := range result.Results {
				assert.True(t, step.Success, "%s: %v", step.StepName, step.Error)
			}
		})
	}
}

func TestRunSuite_ReportsFailedExpectation(t *testing.T) {
	baseURL := startStack(t)
	wrong := "storm_night"

	suite := TestSuite{
		Name: "wrong primary",
		Steps: []TestStep{
			{Name: "focus", Focus: "lighthouse_keeper", Expectations: Expectations{Primary: &wrong}},
			{Name: "after", ClearFocus: true},
		},
	}

	r := NewRunner(baseURL)
	r.ErrorHandlingMode = ErrorHandlingExit
	result, err := r.RunSuite(context.Background(), suite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `expected primary "storm_night"`)
	assert.Len(t, result.Results, 1)
}

func TestLoadTestSuiteWithExpansion_Sequence(t *testing.T) {
	dir := t.TempDir()
	writeCase(t, dir, "a.json", `{"name": "a", "steps": [{"clear_focus": true}]}`)
	writeCase(t, dir, "b.json", `{"name": "b", "steps": [{"clear_focus": true}]}`)
	writeCase(t, dir, "seq.json", `{"name": "seq", "cases": ["a.json", "b.json"]}`)

	jobs, err := LoadTestSuiteWithExpansion(filepath.Join(dir, "seq.json"), dir)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "b", jobs[1].Name)

	writeCase(t, dir, "broken.json", `{"name": "broken", "cases": ["missing.json"]}`)
	_, err = LoadTestSuiteWithExpansion(filepath.Join(dir, "broken.json"), dir)
	assert.ErrorContains(t, err, "missing.json")
}

func writeCase(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
