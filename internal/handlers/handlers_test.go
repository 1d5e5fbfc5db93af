package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/episode-engine/internal/dispatch"
	"github.com/jwebster45206/episode-engine/internal/router"
	"github.com/jwebster45206/episode-engine/internal/services"
	"github.com/jwebster45206/episode-engine/internal/services/events"
	"github.com/jwebster45206/episode-engine/internal/services/lock"
	"github.com/jwebster45206/episode-engine/internal/services/queue"
	"github.com/jwebster45206/episode-engine/internal/storage"
	"github.com/jwebster45206/episode-engine/pkg/conditionals"
	"github.com/jwebster45206/episode-engine/pkg/episode"
	"github.com/jwebster45206/episode-engine/pkg/priority"
	"github.com/jwebster45206/episode-engine/pkg/state"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testCatalog(t *testing.T) *episode.Catalog {
	t.Helper()
	level := 25
	defs := []episode.Definition{
		{
			ID:    "harbor",
			Title: "Harbor lights",
			Beats: []episode.Beat{
				{
					ID:         1,
					Title:      "Arrival",
					Trigger:    episode.Trigger{Kind: episode.TriggerImmediate},
					Actions:    []episode.Action{episode.NewAction(&episode.SetMood{Mood: "wistful"})},
					Completion: episode.Completion{Kind: episode.CompletionDialogueComplete, Target: "keeper_intro"},
				},
				{
					ID:         2,
					Title:      "Relight",
					Trigger:    episode.Trigger{Kind: episode.TriggerPreviousBeatComplete},
					Completion: episode.Completion{Kind: episode.CompletionEndEpisode},
				},
			},
		},
		{
			ID:           "storm",
			Title:        "Storm",
			Prerequisite: &conditionals.Prerequisite{CompletedEpisodes: []string{"harbor"}},
			Beats: []episode.Beat{
				{ID: 1, Title: "Clouds", Trigger: episode.Trigger{Kind: episode.TriggerImmediate}, Completion: episode.Completion{Kind: episode.CompletionLocationVisited, Target: "cliffs"}},
			},
		},
		{
			ID:           "veteran",
			Title:        "Veteran",
			Prerequisite: &conditionals.Prerequisite{PlayerLevel: &level},
			Beats: []episode.Beat{
				{ID: 1, Title: "Old wounds", Trigger: episode.Trigger{Kind: episode.TriggerImmediate}, Completion: episode.Completion{Kind: episode.CompletionEndEpisode}},
			},
		},
	}
	catalog, errs := episode.NewCatalog(defs)
	require.Empty(t, errs)
	return catalog
}

type app struct {
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	store   *storage.MockStorage
	queue   *queue.PlayerQueue
	players *PlayerHandler
	mux     *http.ServeMux
}

func newApp(t *testing.T) *app {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	catalog := testCatalog(t)
	store := storage.NewMockStorage()
	broadcaster := events.NewBroadcaster(rdb, testLogger)
	ledger := services.NewLedger(store, testLogger)
	d := dispatch.New(dispatch.Collaborators{
		Profiles:  ledger,
		Quests:    broadcaster,
		Character: broadcaster,
		Scenes:    broadcaster,
		Messages:  broadcaster,
		World:     broadcaster,
		Rewards:   ledger,
		Memory:    broadcaster,
		Notifier:  broadcaster,
	}, testLogger)
	rt := router.New(catalog, store, d, ledger, priority.NewManager(catalog, priority.DefaultTierWeights()), testLogger).
		WithProgressPublisher(broadcaster).
		WithLocker(lock.NewRedisLocker(rdb, testLogger).WithWait(100 * time.Millisecond))

	pq := queue.NewPlayerQueue(queue.NewClientWithRedis(rdb, testLogger))
	players := NewPlayerHandler(rt, store, testLogger)

	mux := http.NewServeMux()
	mux.Handle("/health", NewHealthHandler(map[string]Pinger{"storage": store}, catalog.Len(), testLogger))
	episodes := NewEpisodeHandler(catalog, testLogger)
	mux.Handle("/v1/episodes", episodes)
	mux.Handle("/v1/episodes/", episodes)
	mux.Handle("/v1/players/", players)
	mux.Handle("/v1/events/players/", NewEventsHandler(rdb, testLogger))

	return &app{mr: mr, rdb: rdb, store: store, queue: pq, players: players, mux: mux}
}

func (a *app) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 3, health.Episodes)

	a.store.SetPingError(context.DeadlineExceeded)
	rec = a.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[HealthResponse](t, rec).Components["storage"])
}

func TestEpisodes(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodGet, "/v1/episodes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]EpisodeSummary](t, rec)
	require.Len(t, list, 3)
	assert.Equal(t, "harbor", list[0].ID)
	assert.False(t, list[0].Gated)
	assert.True(t, list[1].Gated)

	rec = a.do(t, http.MethodGet, "/v1/episodes/harbor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	def := decode[episode.Definition](t, rec)
	assert.Len(t, def.Beats, 2)
	assert.Equal(t, episode.ActionSetMood, def.Beats[0].Actions[0].Kind)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/episodes/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, a.do(t, http.MethodPost, "/v1/episodes", "{}").Code)
}

func TestPlayer_FocusAndEvent(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodPost, "/v1/players/p1/focus", `{"episode_id":"harbor"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[router.Summary](t, rec)
	assert.Equal(t, []string{"harbor"}, summary.Activated)
	require.NotNil(t, summary.Context)
	require.Len(t, summary.Context.Episodes, 1)
	assert.InDelta(t, 1.0, summary.Context.Episodes[0].Weight, 1e-9)

	rec = a.do(t, http.MethodPost, "/v1/players/p1/events", `{"kind":"dialogue_complete","target":"keeper_intro"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary = decode[router.Summary](t, rec)
	assert.Equal(t, []string{"harbor"}, summary.Completed)
	assert.Equal(t, []string{"storm"}, summary.Unlocked)
	assert.True(t, summary.Context.IsNeutral())

	rec = a.do(t, http.MethodGet, "/v1/players/p1/episodes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	states := decode[map[string]*state.EpisodeState](t, rec)
	assert.Equal(t, state.LifecycleCompleted, states["harbor"].Lifecycle)
	assert.Equal(t, state.LifecycleAvailable, states["storm"].Lifecycle)

	rec = a.do(t, http.MethodGet, "/v1/players/p1/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]priority.ActiveEpisode](t, rec))
}

func TestPlayer_EventValidation(t *testing.T) {
	a := newApp(t)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/players/p1/events", `{"target":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/players/p1/events", `not json`).Code)

	rec := a.do(t, http.MethodPost, "/v1/players/p1/events", `{"kind":"weather_change"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[router.Summary](t, rec).Ignored)
}

func TestPlayer_ActiveSetErrors(t *testing.T) {
	a := newApp(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"two primaries", `{"episodes":[{"episode_id":"harbor","tier":"primary"},{"episode_id":"storm","tier":"primary"}]}`, http.StatusBadRequest},
		{"unknown episode", `{"episodes":[{"episode_id":"ghost","tier":"primary"}]}`, http.StatusNotFound},
		{"prerequisite unmet", `{"episodes":[{"episode_id":"veteran","tier":"secondary"}]}`, http.StatusConflict},
		{"bad tier", `{"episodes":[{"episode_id":"harbor","tier":"loud"}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPut, "/v1/players/p1/active", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestPlayer_ContextAndClearFocus(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodPut, "/v1/players/p1/active", `{"episodes":[{"episode_id":"harbor","tier":"primary"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/v1/players/p1/context?location=pier&time_of_day=night", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rc := decode[priority.RankedContext](t, rec)
	assert.Equal(t, "pier", rc.Situation.Location)
	require.Len(t, rc.Episodes, 1)
	assert.Equal(t, "Arrival", rc.Episodes[0].BeatTitle)

	rec = a.do(t, http.MethodDelete, "/v1/players/p1/focus", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/players/p1/context", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[priority.RankedContext](t, rec).Episodes)
}

func TestPlayer_AsyncEvent(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodPost, "/v1/players/p1/events?async=true", `{"kind":"tick"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	broadcaster := events.NewBroadcaster(a.rdb, testLogger)
	a.players.WithQueue(a.queue, broadcaster)

	rec = a.do(t, http.MethodPost, "/v1/players/p1/events?async=true", `{"kind":"tick"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	queued := decode[QueuedResponse](t, rec)
	assert.NotEmpty(t, queued.RequestID)
	assert.Equal(t, queued.RequestID, queued.EventID)

	depth, err := a.queue.Depth(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestPlayer_ProfileUnlocks(t *testing.T) {
	a := newApp(t)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/players/p1/profile", "").Code)

	rec := a.do(t, http.MethodPut, "/v1/players/p1/profile", `{"level":30,"location":"harbor"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ProfileResponse](t, rec)
	assert.Contains(t, resp.Unlocked, "veteran")
	assert.Equal(t, "p1", resp.Profile.PlayerID)

	rec = a.do(t, http.MethodGet, "/v1/players/p1/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, decode[state.Profile](t, rec).Level)
}

func TestPlayer_ProfileKeepsGrantHistory(t *testing.T) {
	a := newApp(t)
	existing := state.NewProfile("p1")
	existing.RecordGrant("p1:harbor:1:0")
	require.NoError(t, a.store.SaveProfile(context.Background(), existing))

	rec := a.do(t, http.MethodPut, "/v1/players/p1/profile", `{"level":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := a.store.LoadProfile(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, stored.HasGrant("p1:harbor:1:0"))
}

func TestPlayer_ProfileWaitsForPlayerLock(t *testing.T) {
	a := newApp(t)
	existing := state.NewProfile("p1")
	existing.Level = 3
	require.NoError(t, a.store.SaveProfile(context.Background(), existing))

	// Another process is mid-event for this player and never lets go
	require.NoError(t, a.mr.Set(lock.Key("p1"), "worker-other"))

	rec := a.do(t, http.MethodPut, "/v1/players/p1/profile", `{"level":30}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	stored, err := a.store.LoadProfile(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Level, "profile untouched while the lock is held elsewhere")

	a.mr.Del(lock.Key("p1"))
	rec = a.do(t, http.MethodPut, "/v1/players/p1/profile", `{"level":30}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, a.mr.Exists(lock.Key("p1")), "lock released after the write")
}

func TestPlayer_Flags(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodGet, "/v1/players/p1/flags", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string]any](t, rec))

	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/v1/players/p1/flags", "").Code)
	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/v1/players/p1/flags", `{"keys":["visits"]}`).Code)
}

func TestPlayer_Routing(t *testing.T) {
	a := newApp(t)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/players/p1", "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/players/p1/weather", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, a.do(t, http.MethodPatch, "/v1/players/p1/active", "{}").Code)
}

func TestEvents_RelaysPlayerChannel(t *testing.T) {
	a := newApp(t)
	server := httptest.NewServer(a.mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/events/players/p1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var name string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "event: ") {
				name = strings.TrimPrefix(line, "event: ")
			}
			if line == "" && name != "" {
				return name
			}
		}
	}

	assert.Equal(t, "connected", readEvent())

	broadcaster := events.NewBroadcaster(a.rdb, testLogger)
	require.NoError(t, broadcaster.SetMood(ctx, "p1", "wistful"))
	assert.Equal(t, string(events.EventTypeCharacterMood), readEvent())
}

func TestEvents_BadPath(t *testing.T) {
	a := newApp(t)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/events/players/", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, a.do(t, http.MethodPost, "/v1/events/players/p1", "").Code)
}
