package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/jwebster45206/episode-engine/internal/storage"
	"github.com/jwebster45206/episode-engine/pkg/episode"
	"github.com/jwebster45206/episode-engine/pkg/priority"
	"github.com/jwebster45206/episode-engine/pkg/state"
)

// ActionDispatcher binds action execution to one player's state.
type ActionDispatcher interface {
	Runner(player *state.PlayerState) state.ActionRunner
}

// ProfileStore reads and writes the player record used for prerequisites and
// situational context.
type ProfileStore interface {
	LoadProfile(ctx context.Context, playerID string) (*state.Profile, error)
	SaveProfile(ctx context.Context, profile *state.Profile) error
}

// ErrNoProfileStore is returned by profile writes on a router built without a profile store.
var ErrNoProfileStore = errors.New("no profile store configured")

// ProgressPublisher is told about episode progress after it has been saved.
type ProgressPublisher interface {
	PublishEpisodeAdvanced(ctx context.Context, playerID, episodeID string, fromBeat, toBeat int) error
	PublishEpisodeCompleted(ctx context.Context, playerID, episodeID string) error
}

// Summary reports what one call changed for a player.
type Summary struct {
	PlayerID  string                  `json:"player_id"`
	EventID   string                  `json:"event_id,omitempty"`
	Advanced  []string                `json:"advanced"`            // Episodes whose beat index or lifecycle changed
	Activated []string                `json:"activated,omitempty"` // Episodes that became active
	Completed []string                `json:"completed,omitempty"` // Episodes that reached completed
	Unlocked  []string                `json:"unlocked,omitempty"`  // Episodes that became available
	Effects   []state.EffectBatch     `json:"effects,omitempty"`
	Ignored   bool                    `json:"ignored,omitempty"`   // Unknown event kind
	Duplicate bool                    `json:"duplicate,omitempty"` // Event ID already processed
	Context   *priority.RankedContext `json:"context,omitempty"`   // Recomputed only when something changed
}

// Changed reports whether any episode state moved.
func (s *Summary) Changed() bool {
	return len(s.Effects) > 0 || len(s.Unlocked) > 0 || len(s.Activated) > 0
}

// Router is the single ingress point for gameplay events and the narrative-bias
// controls. Every mutation holds the player's lock: an in-process mutex, plus the
// shared Locker when several processes write the same players.
type Router struct {
	catalog    *episode.Catalog
	store      storage.Storage
	dispatcher ActionDispatcher
	profiles   ProfileStore
	priority   *priority.Manager
	logger     *slog.Logger
	progress   ProgressPublisher

	locks       *playerLocks
	locker      Locker
	now         func() time.Time
	maxCascade  int
	seenLimit   int
	memoryLimit int
}

// New creates a router. profiles may be nil, in which case every player reads as a
// level-0 player with no profile.
func New(catalog *episode.Catalog, store storage.Storage, dispatcher ActionDispatcher, profiles ProfileStore, manager *priority.Manager, logger *slog.Logger) *Router {
	return &Router{
		catalog:    catalog,
		store:      store,
		dispatcher: dispatcher,
		profiles:   profiles,
		priority:   manager,
		logger:     logger,
		locks:      newPlayerLocks(),
		now:        time.Now,
		maxCascade: state.DefaultMaxCascade,
		seenLimit:  state.DefaultSeenEventLimit,
	}
}

// WithClock sets the wall clock passed to state machines.
// Returns the Router for method chaining
func (r *Router) WithClock(now func() time.Time) *Router {
	if now != nil {
		r.now = now
	}
	return r
}

// WithMaxCascade sets the beat cascade limit per call.
// Returns the Router for method chaining
func (r *Router) WithMaxCascade(n int) *Router {
	if n > 0 {
		r.maxCascade = n
	}
	return r
}

// WithSeenEventLimit sets how many event IDs are remembered for deduplication.
// Returns the Router for method chaining
func (r *Router) WithSeenEventLimit(n int) *Router {
	if n > 0 {
		r.seenLimit = n
	}
	return r
}

// WithMemoryLimit sets the narrator memory bound applied to loaded players.
// Returns the Router for method chaining
func (r *Router) WithMemoryLimit(n int) *Router {
	if n > 0 {
		r.memoryLimit = n
	}
	return r
}

// WithProgressPublisher sets where episode progress is announced.
// Returns the Router for method chaining
func (r *Router) WithProgressPublisher(p ProgressPublisher) *Router {
	r.progress = p
	return r
}

// WithLocker sets the lock shared with other processes writing the same players.
// Returns the Router for method chaining
func (r *Router) WithLocker(l Locker) *Router {
	r.locker = l
	return r
}

func (r *Router) Catalog() *episode.Catalog { return r.catalog }

// Submit applies one gameplay event for a player. It is the only event-driven mutation path.
func (r *Router) Submit(ctx context.Context, playerID string, ev episode.Event) (*Summary, error) {
	summary := &Summary{PlayerID: playerID, EventID: ev.ID, Advanced: []string{}}
	if !ev.Kind.IsKnown() {
		r.logger.Debug("Ignoring unknown event kind", "player_id", playerID, "event_kind", ev.Kind)
		summary.Ignored = true
		return summary, nil
	}

	unlock, err := r.acquire(ctx, playerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ps, profile, err := r.load(ctx, playerID)
	if err != nil {
		return nil, err
	}

	if !ps.MarkSeen(ev.ID, r.seenLimit) {
		r.logger.Debug("Dropping duplicate event", "player_id", playerID, "event_id", ev.ID)
		summary.Duplicate = true
		return summary, nil
	}

	view := state.NewView(profile, ps)
	summary.Unlocked = r.refresh(ps, view)

	runner := r.dispatcher.Runner(ps)
	for _, id := range ps.EpisodeIDs(state.LifecycleActive) {
		def, ok := r.catalog.Get(id)
		if !ok {
			r.logger.Warn("Active episode missing from catalog", "player_id", playerID, "episode_id", id)
			continue
		}
		batch := r.machine(def, ps).OnEvent(ctx, ev, runner)
		r.collect(ps, summary, batch)
	}

	summary.Unlocked = append(summary.Unlocked, r.refresh(ps, view)...)

	if err := r.store.SavePlayerState(ctx, ps); err != nil {
		return nil, fmt.Errorf("failed to save player state: %w", err)
	}

	if summary.Changed() {
		summary.Context = r.priority.ComputeContext(ps, situationFor(profile, ev))
		r.announce(ctx, playerID, summary)
	}

	r.logger.Info("Event processed",
		"player_id", playerID,
		"event_id", ev.ID,
		"event_kind", ev.Kind,
		"advanced", len(summary.Advanced),
		"completed", len(summary.Completed),
		"unlocked", len(summary.Unlocked))
	return summary, nil
}

// SetActiveEpisodes replaces the player's active set. Episodes entering the set are
// activated, which processes their first beat. An empty list clears all focus.
func (r *Router) SetActiveEpisodes(ctx context.Context, playerID string, entries []state.ActiveEntry) (*Summary, error) {
	unlock, err := r.acquire(ctx, playerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ps, profile, err := r.load(ctx, playerID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{PlayerID: playerID, Advanced: []string{}}
	view := state.NewView(profile, ps)
	summary.Unlocked = r.refresh(ps, view)

	planned, err := r.priority.Plan(ps, view, entries)
	if err != nil {
		return nil, err
	}
	joined := r.priority.Apply(ps, planned)
	if len(joined) > 0 {
		r.logger.Info("Active set changed", "player_id", playerID, "joined", joined, "size", len(planned))
	}

	runner := r.dispatcher.Runner(ps)
	for _, entry := range planned {
		es := ps.Episode(entry.EpisodeID)
		if es == nil || es.Lifecycle != state.LifecycleAvailable {
			continue
		}
		def, _ := r.catalog.Get(entry.EpisodeID)
		batch, err := r.machine(def, ps).Activate(ctx, runner)
		if err != nil {
			return nil, fmt.Errorf("failed to activate %s: %w", entry.EpisodeID, err)
		}
		summary.Activated = append(summary.Activated, entry.EpisodeID)
		r.collect(ps, summary, batch)
	}

	summary.Unlocked = append(summary.Unlocked, r.refresh(ps, view)...)

	if err := r.store.SavePlayerState(ctx, ps); err != nil {
		return nil, fmt.Errorf("failed to save player state: %w", err)
	}

	summary.Context = r.priority.ComputeContext(ps, situationFor(profile, episode.Event{}))
	r.announce(ctx, playerID, summary)
	return summary, nil
}

// SetFocusedEpisode makes one episode the sole primary.
func (r *Router) SetFocusedEpisode(ctx context.Context, playerID, episodeID string) (*Summary, error) {
	return r.SetActiveEpisodes(ctx, playerID, []state.ActiveEntry{{EpisodeID: episodeID, Tier: state.TierPrimary}})
}

// ClearFocus empties the active set, leaving no narrative bias.
func (r *Router) ClearFocus(ctx context.Context, playerID string) (*Summary, error) {
	return r.SetActiveEpisodes(ctx, playerID, nil)
}

// GetActiveEpisodes lists the active set with base weights.
func (r *Router) GetActiveEpisodes(ctx context.Context, playerID string) ([]priority.ActiveEpisode, error) {
	ps, err := r.store.LoadPlayerState(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load player state: %w", err)
	}
	return r.priority.Active(ps), nil
}

// GetRankedContext computes the blended narrative context. It has no side effects.
// Empty situation fields fall back to the player's profile.
func (r *Router) GetRankedContext(ctx context.Context, playerID string, situation priority.Situation) (*priority.RankedContext, error) {
	ps, err := r.store.LoadPlayerState(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load player state: %w", err)
	}
	profile, err := r.loadProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}

	fallback := situationFor(profile, episode.Event{})
	if situation.Location == "" {
		situation.Location = fallback.Location
	}
	if situation.TimeOfDay == "" {
		situation.TimeOfDay = fallback.TimeOfDay
	}
	return r.priority.ComputeContext(ps, situation), nil
}

// GetEpisodeStates returns copies of every tracked episode state for a player.
func (r *Router) GetEpisodeStates(ctx context.Context, playerID string) (map[string]*state.EpisodeState, error) {
	ps, err := r.store.LoadPlayerState(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load player state: %w", err)
	}
	return ps.EpisodeSnapshot(), nil
}

// GetFlags returns a copy of the player's story flags.
func (r *Router) GetFlags(ctx context.Context, playerID string) (map[string]any, error) {
	ps, err := r.store.LoadPlayerState(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load player state: %w", err)
	}
	return ps.Flags.Natives(), nil
}

// RefreshAvailability re-evaluates prerequisites of inactive episodes, for callers that
// changed the profile outside of an event. It returns the newly available episode IDs.
func (r *Router) RefreshAvailability(ctx context.Context, playerID string) ([]string, error) {
	unlock, err := r.acquire(ctx, playerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ps, profile, err := r.load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	unlocked := r.refresh(ps, state.NewView(profile, ps))
	if len(unlocked) == 0 {
		return unlocked, nil
	}
	if err := r.store.SavePlayerState(ctx, ps); err != nil {
		return nil, fmt.Errorf("failed to save player state: %w", err)
	}
	return unlocked, nil
}

// UpdateProfile replaces the player's profile and re-checks prerequisites under the
// player lock, so it cannot interleave with a reward grant. When the new profile carries
// no grant history the stored history is kept, so a resync cannot replay rewards. It
// returns the newly available episode IDs.
func (r *Router) UpdateProfile(ctx context.Context, profile *state.Profile) ([]string, error) {
	if r.profiles == nil {
		return nil, ErrNoProfileStore
	}
	playerID := profile.PlayerID
	unlock, err := r.acquire(ctx, playerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := r.loadProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if existing != nil && len(profile.GrantedRewards) == 0 {
		profile.GrantedRewards = existing.GrantedRewards
	}
	if err := r.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	ps, err := r.store.LoadPlayerState(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load player state: %w", err)
	}
	unlocked := r.refresh(ps, state.NewView(profile, ps))
	if len(unlocked) > 0 {
		if err := r.store.SavePlayerState(ctx, ps); err != nil {
			return nil, fmt.Errorf("failed to save player state: %w", err)
		}
	}
	r.logger.Info("Profile updated", "player_id", playerID, "level", profile.Level, "unlocked", len(unlocked))
	return unlocked, nil
}

// ClearFlags removes the named story flags, or every flag when keys is empty.
// This is the only way flags disappear other than a clear_flag action.
func (r *Router) ClearFlags(ctx context.Context, playerID string, keys []string) error {
	unlock, err := r.acquire(ctx, playerID)
	if err != nil {
		return err
	}
	defer unlock()

	ps, err := r.store.LoadPlayerState(ctx, playerID)
	if err != nil {
		return fmt.Errorf("failed to load player state: %w", err)
	}
	if len(keys) == 0 {
		keys = slices.Sorted(maps.Keys(ps.Flags))
	}
	for _, k := range keys {
		ps.Flags.Clear(k)
	}
	if err := r.store.SavePlayerState(ctx, ps); err != nil {
		return fmt.Errorf("failed to save player state: %w", err)
	}
	r.logger.Info("Story flags cleared", "player_id", playerID, "count", len(keys))
	return nil
}

func (r *Router) load(ctx context.Context, playerID string) (*state.PlayerState, *state.Profile, error) {
	ps, err := r.store.LoadPlayerState(ctx, playerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load player state: %w", err)
	}
	if r.memoryLimit > 0 {
		ps.Memory.Limit = r.memoryLimit
	}
	profile, err := r.loadProfile(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	return ps, profile, nil
}

func (r *Router) loadProfile(ctx context.Context, playerID string) (*state.Profile, error) {
	if r.profiles == nil {
		return nil, nil
	}
	profile, err := r.profiles.LoadProfile(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return profile, nil
}

func (r *Router) machine(def *episode.Definition, ps *state.PlayerState) *state.Machine {
	return state.NewMachine(def, ps.EnsureEpisode(def.ID), r.logger.With("player_id", ps.PlayerID)).
		WithClock(r.now).
		WithMaxCascade(r.maxCascade)
}

// refresh moves inactive episodes whose prerequisite now holds to available. The view
// reads ps, so completions earlier in the same call count.
func (r *Router) refresh(ps *state.PlayerState, view state.View) []string {
	var unlocked []string
	for _, def := range r.catalog.All() {
		es := ps.Episode(def.ID)
		if es != nil && es.Lifecycle != state.LifecycleInactive {
			continue
		}
		if es == nil {
			es = state.NewEpisodeState(def.ID)
		}
		m := state.NewMachine(def, es, r.logger)
		if !m.EvaluatePrerequisite(view) {
			continue
		}
		m.MakeAvailable()
		ps.Episodes[def.ID] = es
		unlocked = append(unlocked, def.ID)
	}
	if len(unlocked) > 0 {
		r.logger.Info("Episodes available", "player_id", ps.PlayerID, "episode_ids", unlocked)
	}
	return unlocked
}

// collect folds one machine result into the summary. Completed episodes leave the
// active set; their state stays for prerequisite checks.
func (r *Router) collect(ps *state.PlayerState, summary *Summary, batch state.EffectBatch) {
	if !batch.Changed() {
		return
	}
	summary.Effects = append(summary.Effects, batch)
	if (batch.ToBeat != batch.FromBeat || batch.Completed) && !slices.Contains(summary.Advanced, batch.EpisodeID) {
		summary.Advanced = append(summary.Advanced, batch.EpisodeID)
	}
	if batch.Completed {
		summary.Completed = append(summary.Completed, batch.EpisodeID)
		r.priority.Remove(ps, batch.EpisodeID)
	}
}

func (r *Router) announce(ctx context.Context, playerID string, summary *Summary) {
	if r.progress == nil {
		return
	}
	for _, batch := range summary.Effects {
		if batch.ToBeat != batch.FromBeat {
			if err := r.progress.PublishEpisodeAdvanced(ctx, playerID, batch.EpisodeID, batch.FromBeat, batch.ToBeat); err != nil {
				r.logger.Warn("Failed to publish episode progress", "player_id", playerID, "episode_id", batch.EpisodeID, "error", err)
			}
		}
		if batch.Completed {
			if err := r.progress.PublishEpisodeCompleted(ctx, playerID, batch.EpisodeID); err != nil {
				r.logger.Warn("Failed to publish episode completion", "player_id", playerID, "episode_id", batch.EpisodeID, "error", err)
			}
		}
	}
}

// situationFor prefers what the event says about where and when the player is.
func situationFor(profile *state.Profile, ev episode.Event) priority.Situation {
	var s priority.Situation
	if profile != nil {
		s.Location = profile.Location
		s.TimeOfDay = profile.TimeOfDay
	}
	if ev.Kind == episode.EventLocationChange {
		if ev.Location != "" {
			s.Location = ev.Location
		} else if ev.Target != "" {
			s.Location = ev.Target
		}
	}
	if ev.TimeOfDay != "" {
		s.TimeOfDay = ev.TimeOfDay
	}
	return s
}
