package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/episode-engine/internal/services/lock"
	"github.com/jwebster45206/episode-engine/internal/storage"
	"github.com/jwebster45206/episode-engine/pkg/conditionals"
	"github.com/jwebster45206/episode-engine/pkg/episode"
	"github.com/jwebster45206/episode-engine/pkg/state"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedGame parks the first set_mood:wistful until release is closed.
type gatedGame struct {
	*recordingGame
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedGame() *gatedGame {
	return &gatedGame{recordingGame: &recordingGame{}, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedGame) SetMood(ctx context.Context, playerID, m string) error {
	if m == "wistful" {
		first := false
		g.once.Do(func() { first = true })
		if first {
			close(g.entered)
			<-g.release
		}
	}
	return g.recordingGame.SetMood(ctx, playerID, m)
}

func sharedLocker(t *testing.T) *lock.RedisLocker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return lock.NewRedisLocker(rdb, testLogger).WithWait(5 * time.Second)
}

// Two routers over one store stand in for the API and worker processes.
func TestRouter_SharedLockerSerializesAcrossRouters(t *testing.T) {
	store := storage.NewMockStorage()
	game := newGatedGame()
	locker := sharedLocker(t)
	api := buildRouter(t, store, game, nil, e1()).WithLocker(locker)
	worker := buildRouter(t, store, game, nil, e1()).WithLocker(locker)
	ctx := context.Background()

	_, err := api.SetFocusedEpisode(ctx, "p1", "e1")
	require.NoError(t, err)

	workerDone := make(chan error, 1)
	go func() {
		_, err := worker.Submit(ctx, "p1", episode.Event{ID: "ev-worker", Kind: episode.EventDialogueComplete, Target: "D1"})
		workerDone <- err
	}()
	<-game.entered

	apiDone := make(chan *Summary, 1)
	go func() {
		summary, err := api.Submit(ctx, "p1", episode.Event{ID: "ev-api", Kind: episode.EventDialogueComplete, Target: "D1"})
		assert.NoError(t, err)
		apiDone <- summary
	}()

	select {
	case <-apiDone:
		t.Fatal("api submit ran while the worker held the player")
	case <-time.After(100 * time.Millisecond):
	}

	close(game.release)
	require.NoError(t, <-workerDone)
	summary := <-apiDone
	require.NotNil(t, summary)

	assert.Empty(t, summary.Advanced, "episode already completed by the worker")
	assert.Equal(t, []string{"set_mood:warm", "set_mood:wistful"}, game.Calls())

	ps, err := store.LoadPlayerState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, state.LifecycleCompleted, ps.Episode("e1").Lifecycle)
	assert.ElementsMatch(t, []string{"ev-worker", "ev-api"}, ps.SeenEvents)
}

// A reward grant inside an event and a profile resync must not interleave.
func TestRouter_UpdateProfileWaitsForEvent(t *testing.T) {
	bounty := episode.Definition{
		ID:    "bounty",
		Title: "Bounty",
		Beats: []episode.Beat{
			{
				ID:         1,
				Title:      "Wait",
				Trigger:    episode.Trigger{Kind: episode.TriggerImmediate},
				Completion: episode.Completion{Kind: episode.CompletionDialogueComplete, Target: "D1"},
			},
			{
				ID:      2,
				Title:   "Payout",
				Trigger: episode.Trigger{Kind: episode.TriggerPreviousBeatComplete},
				Actions: []episode.Action{
					mood("wistful"),
					episode.NewAction(&episode.RewardPlayer{Gold: 50}),
				},
				Completion: episode.Completion{Kind: episode.CompletionEndEpisode},
			},
		},
	}
	store := storage.NewMockStorage()
	game := newGatedGame()
	locker := sharedLocker(t)
	api := buildRouter(t, store, game, nil, bounty).WithLocker(locker)
	worker := buildRouter(t, store, game, nil, bounty).WithLocker(locker)
	ctx := context.Background()

	require.NoError(t, store.SaveProfile(ctx, state.NewProfile("p1")))
	_, err := api.SetFocusedEpisode(ctx, "p1", "bounty")
	require.NoError(t, err)

	workerDone := make(chan error, 1)
	go func() {
		_, err := worker.Submit(ctx, "p1", episode.Event{Kind: episode.EventDialogueComplete, Target: "D1"})
		workerDone <- err
	}()
	<-game.entered

	profileDone := make(chan error, 1)
	go func() {
		resync := state.NewProfile("p1")
		resync.Level = 7
		_, err := api.UpdateProfile(ctx, resync)
		profileDone <- err
	}()

	select {
	case err := <-profileDone:
		t.Fatalf("profile written while the worker held the player: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(game.release)
	require.NoError(t, <-workerDone)
	require.NoError(t, <-profileDone)

	profile, err := store.LoadProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, profile.Level)
	assert.True(t, profile.HasGrant("p1:bounty:2:1"), "grant history survives the resync")
}

func TestRouter_UpdateProfileUnlocks(t *testing.T) {
	veteran := simple("veteran")
	veteran.Prerequisite = &conditionals.Prerequisite{PlayerLevel: intPtr(25)}
	f := newFixture(t, nil, veteran)
	existing := state.NewProfile("p1")
	existing.RecordGrant("p1:harbor:1:0")
	require.NoError(t, f.store.SaveProfile(context.Background(), existing))

	incoming := state.NewProfile("p1")
	incoming.Level = 30
	unlocked, err := f.router.UpdateProfile(context.Background(), incoming)
	require.NoError(t, err)
	assert.Equal(t, []string{"veteran"}, unlocked)
	assert.Equal(t, state.LifecycleAvailable, f.lifecycle(t, "veteran"))

	stored, err := f.store.LoadProfile(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 30, stored.Level)
	assert.True(t, stored.HasGrant("p1:harbor:1:0"))
}

type refusingLocker struct{}

func (refusingLocker) Lock(context.Context, string) (func(), error) {
	return nil, lock.ErrTimeout
}

func TestRouter_LockFailureLeavesStateAlone(t *testing.T) {
	f := newFixture(t, nil, e1())
	f.router.WithLocker(refusingLocker{})
	ctx := context.Background()

	_, err := f.router.SetFocusedEpisode(ctx, "p1", "e1")
	assert.ErrorIs(t, err, lock.ErrTimeout)
	_, err = f.router.Submit(ctx, "p1", episode.Event{Kind: episode.EventTick})
	assert.ErrorIs(t, err, lock.ErrTimeout)
	assert.True(t, errors.Is(f.router.ClearFlags(ctx, "p1", nil), lock.ErrTimeout))

	assert.Equal(t, 0, f.store.Saves())
	assert.Empty(t, f.game.Calls())
	assert.Equal(t, 0, f.router.locks.size(), "local lock released when the shared one is refused")
}
