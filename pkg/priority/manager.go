package priority

import (
	"errors"
	"fmt"
	"slices"

	"github.com/jwebster45206/episode-engine/pkg/conditionals"
	"github.com/jwebster45206/episode-engine/pkg/episode"
	"github.com/jwebster45206/episode-engine/pkg/state"
)

var (
	ErrUnknownEpisode    = episode.ErrUnknownEpisode
	ErrMultiplePrimary   = errors.New("at most one episode may be primary")
	ErrPrerequisiteUnmet = errors.New("episode prerequisite is not met")
	ErrEpisodeCompleted  = errors.New("episode is already completed")
	ErrDuplicateEpisode  = errors.New("episode listed more than once")
	ErrInvalidTier       = errors.New("invalid priority tier")
	ErrInvalidWeight     = errors.New("weight must be between 0 and 1")
)

// TierWeights are the base weights each tier starts from before context adjustment.
type TierWeights struct {
	Primary    float64
	Secondary  float64
	Background float64
}

func DefaultTierWeights() TierWeights {
	return TierWeights{Primary: 0.6, Secondary: 0.3, Background: 0.1}
}

// Base returns the base weight for a tier; tiers outside the blend weigh nothing.
func (w TierWeights) Base(t state.Tier) float64 {
	switch t {
	case state.TierPrimary:
		return w.Primary
	case state.TierSecondary:
		return w.Secondary
	case state.TierBackground:
		return w.Background
	}
	return 0
}

// ActiveEpisode is one member of the active set as reported to callers.
type ActiveEpisode struct {
	EpisodeID string     `json:"episode_id"`
	Tier      state.Tier `json:"tier"`
	Weight    float64    `json:"weight"`
}

// Manager maintains a player's active-episode set and blends it into a ranked context.
// It holds no per-player state; everything lives in state.PlayerState.
type Manager struct {
	catalog *episode.Catalog
	weights TierWeights
}

func NewManager(catalog *episode.Catalog, weights TierWeights) *Manager {
	return &Manager{catalog: catalog, weights: weights}
}

func (m *Manager) Weights() TierWeights { return m.weights }

// Plan validates a full replacement of the active set without changing anything.
// Inactive episodes are accepted only when view shows their prerequisite holds.
func (m *Manager) Plan(ps *state.PlayerState, view conditionals.PlayerView, entries []state.ActiveEntry) ([]state.ActiveEntry, error) {
	planned := make([]state.ActiveEntry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	primaries := 0

	for _, entry := range entries {
		def, ok := m.catalog.Get(entry.EpisodeID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEpisode, entry.EpisodeID)
		}
		if seen[entry.EpisodeID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEpisode, entry.EpisodeID)
		}
		seen[entry.EpisodeID] = true

		if !entry.Tier.IsBlended() {
			return nil, fmt.Errorf("%w %q for %s", ErrInvalidTier, entry.Tier, entry.EpisodeID)
		}
		if entry.Tier == state.TierPrimary {
			primaries++
			if primaries > 1 {
				return nil, ErrMultiplePrimary
			}
		}
		if entry.Weight != nil && (*entry.Weight < 0 || *entry.Weight > 1) {
			return nil, fmt.Errorf("%w: %s has %v", ErrInvalidWeight, entry.EpisodeID, *entry.Weight)
		}

		lifecycle := state.LifecycleInactive
		if es := ps.Episode(entry.EpisodeID); es != nil {
			lifecycle = es.Lifecycle
		}
		switch lifecycle {
		case state.LifecycleCompleted:
			return nil, fmt.Errorf("%w: %s", ErrEpisodeCompleted, entry.EpisodeID)
		case state.LifecycleInactive:
			if !conditionals.EvaluatePrerequisite(def.Prerequisite, view) {
				return nil, fmt.Errorf("%w: %s", ErrPrerequisiteUnmet, entry.EpisodeID)
			}
		}

		e := entry
		if entry.Weight != nil {
			w := *entry.Weight
			e.Weight = &w
		}
		planned = append(planned, e)
	}
	return planned, nil
}

// Apply replaces the active set with a planned one. Episodes leaving the set drop to
// tier none. It returns the IDs that joined the set, in order.
func (m *Manager) Apply(ps *state.PlayerState, planned []state.ActiveEntry) []string {
	keep := make(map[string]bool, len(planned))
	for _, e := range planned {
		keep[e.EpisodeID] = true
	}
	for _, old := range ps.Active {
		if keep[old.EpisodeID] {
			continue
		}
		if es := ps.Episode(old.EpisodeID); es != nil {
			es.Tier = state.TierNone
			es.Weight = 0
		}
	}

	var joined []string
	for _, e := range planned {
		if !ps.IsInActiveSet(e.EpisodeID) {
			joined = append(joined, e.EpisodeID)
		}
		es := ps.EnsureEpisode(e.EpisodeID)
		es.Tier = e.Tier
		es.Weight = m.baseWeight(e)
	}
	ps.Active = slices.Clone(planned)
	return joined
}

// Active lists the active set with each entry's base weight.
func (m *Manager) Active(ps *state.PlayerState) []ActiveEpisode {
	out := make([]ActiveEpisode, 0, len(ps.Active))
	for _, e := range ps.Active {
		out = append(out, ActiveEpisode{EpisodeID: e.EpisodeID, Tier: e.Tier, Weight: m.baseWeight(e)})
	}
	return out
}

// Remove drops an episode from the active set. It reports whether it was present.
func (m *Manager) Remove(ps *state.PlayerState, episodeID string) bool {
	idx := slices.IndexFunc(ps.Active, func(e state.ActiveEntry) bool { return e.EpisodeID == episodeID })
	if idx < 0 {
		return false
	}
	ps.Active = slices.Delete(ps.Active, idx, idx+1)
	if es := ps.Episode(episodeID); es != nil && es.Lifecycle != state.LifecycleCompleted {
		es.Tier = state.TierNone
		es.Weight = 0
	}
	return true
}

func (m *Manager) baseWeight(e state.ActiveEntry) float64 {
	if e.Weight != nil {
		return *e.Weight
	}
	return m.weights.Base(e.Tier)
}
