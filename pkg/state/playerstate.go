package state

import (
	"slices"
	"sort"
	"time"

	"github.com/jwebster45206/episode-engine/pkg/flags"
)

// Lifecycle is the position of one episode in its inactive -> available -> active -> completed progression.
type Lifecycle string

const (
	LifecycleInactive  Lifecycle = "inactive"
	LifecycleAvailable Lifecycle = "available"
	LifecycleActive    Lifecycle = "active"
	LifecycleCompleted Lifecycle = "completed"
)

// Tier is the narrative emphasis an episode holds in the active blend.
type Tier string

const (
	TierPrimary    Tier = "primary"
	TierSecondary  Tier = "secondary"
	TierBackground Tier = "background"
	TierNone       Tier = "none" // Not in the active blend
)

// IsBlended reports whether the tier participates in the ranked context.
func (t Tier) IsBlended() bool {
	return t == TierPrimary || t == TierSecondary || t == TierBackground
}

// Rank orders tiers for tie-breaking; lower ranks sort first.
func (t Tier) Rank() int {
	switch t {
	case TierPrimary:
		return 0
	case TierSecondary:
		return 1
	case TierBackground:
		return 2
	}
	return 3
}

const (
	DefaultMemoryLimit    = 50
	DefaultSeenEventLimit = 64
)

// EpisodeState is the runtime state of one episode for one player.
type EpisodeState struct {
	EpisodeID      string    `json:"episode_id"`
	Lifecycle      Lifecycle `json:"lifecycle"`
	CurrentBeat    int       `json:"current_beat"`              // Index into the definition's beats
	ActionsFired   bool      `json:"actions_fired"`             // Current beat's trigger has fired
	PendingActions []int     `json:"pending_actions,omitempty"` // Failed required action indices of the current beat
	CompletionSeen bool      `json:"completion_seen,omitempty"` // Completion event arrived while required actions were pending
	BeatStartedAt  time.Time `json:"beat_started_at,omitzero"`
	Tier           Tier      `json:"tier"`
	Weight         float64   `json:"weight"`
	FiredBeats     []int     `json:"fired_beats,omitempty"`
	CompletedBeats []int     `json:"completed_beats,omitempty"`
	SkippedBeats   []int     `json:"skipped_beats,omitempty"`
	ActivatedAt    time.Time `json:"activated_at,omitzero"`
	CompletedAt    time.Time `json:"completed_at,omitzero"`
}

// NewEpisodeState returns the inactive state every episode starts in.
func NewEpisodeState(episodeID string) *EpisodeState {
	return &EpisodeState{
		EpisodeID: episodeID,
		Lifecycle: LifecycleInactive,
		Tier:      TierNone,
	}
}

func (es *EpisodeState) Clone() *EpisodeState {
	if es == nil {
		return nil
	}
	out := *es
	out.PendingActions = slices.Clone(es.PendingActions)
	out.FiredBeats = slices.Clone(es.FiredBeats)
	out.CompletedBeats = slices.Clone(es.CompletedBeats)
	out.SkippedBeats = slices.Clone(es.SkippedBeats)
	return &out
}

// ActiveEntry is one member of a player's active-episode set.
type ActiveEntry struct {
	EpisodeID string   `json:"episode_id"`
	Tier      Tier     `json:"tier"`
	Weight    *float64 `json:"weight,omitempty"` // Authored override of the tier's base weight
}

// PlayerState is everything the runtime owns for one player.
type PlayerState struct {
	PlayerID   string                   `json:"player_id"`
	Episodes   map[string]*EpisodeState `json:"episodes"`
	Flags      flags.Flags              `json:"flags"`
	Active     []ActiveEntry            `json:"active,omitempty"`
	Memory     MemoryLog                `json:"memory"`
	SeenEvents []string                 `json:"seen_events,omitempty"`
	UpdatedAt  time.Time                `json:"updated_at,omitzero"`
}

func NewPlayerState(playerID string) *PlayerState {
	return &PlayerState{
		PlayerID: playerID,
		Episodes: make(map[string]*EpisodeState),
		Flags:    make(flags.Flags),
		Memory:   MemoryLog{Limit: DefaultMemoryLimit},
	}
}

// Normalize fills in maps that a decoder may have left nil.
func (ps *PlayerState) Normalize() {
	if ps.Episodes == nil {
		ps.Episodes = make(map[string]*EpisodeState)
	}
	if ps.Flags == nil {
		ps.Flags = make(flags.Flags)
	}
	if ps.Memory.Limit <= 0 {
		ps.Memory.Limit = DefaultMemoryLimit
	}
}

// Episode returns the runtime state for an episode, or nil if none exists yet.
func (ps *PlayerState) Episode(episodeID string) *EpisodeState {
	return ps.Episodes[episodeID]
}

// EnsureEpisode returns the runtime state for an episode, creating it inactive.
func (ps *PlayerState) EnsureEpisode(episodeID string) *EpisodeState {
	if es, ok := ps.Episodes[episodeID]; ok {
		return es
	}
	es := NewEpisodeState(episodeID)
	ps.Episodes[episodeID] = es
	return es
}

// HasCompleted reports whether the player has completed the episode.
func (ps *PlayerState) HasCompleted(episodeID string) bool {
	es, ok := ps.Episodes[episodeID]
	return ok && es.Lifecycle == LifecycleCompleted
}

// EpisodeIDs returns the IDs of every tracked episode in the given lifecycle, sorted.
func (ps *PlayerState) EpisodeIDs(lifecycle Lifecycle) []string {
	var ids []string
	for id, es := range ps.Episodes {
		if es.Lifecycle == lifecycle {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsInActiveSet reports whether the episode is part of the active blend.
func (ps *PlayerState) IsInActiveSet(episodeID string) bool {
	return slices.ContainsFunc(ps.Active, func(e ActiveEntry) bool { return e.EpisodeID == episodeID })
}

// MarkSeen records an event ID and reports whether it was new. The list is bounded; the
// oldest IDs are forgotten first.
func (ps *PlayerState) MarkSeen(eventID string, limit int) bool {
	if eventID == "" {
		return true
	}
	if slices.Contains(ps.SeenEvents, eventID) {
		return false
	}
	if limit <= 0 {
		limit = DefaultSeenEventLimit
	}
	ps.SeenEvents = append(ps.SeenEvents, eventID)
	if over := len(ps.SeenEvents) - limit; over > 0 {
		ps.SeenEvents = slices.Delete(ps.SeenEvents, 0, over)
	}
	return true
}

// Clone returns a deep copy.
func (ps *PlayerState) Clone() *PlayerState {
	if ps == nil {
		return nil
	}
	out := *ps
	out.Episodes = make(map[string]*EpisodeState, len(ps.Episodes))
	for id, es := range ps.Episodes {
		out.Episodes[id] = es.Clone()
	}
	out.Flags = ps.Flags.Clone()
	out.Active = slices.Clone(ps.Active)
	for i, e := range out.Active {
		if e.Weight != nil {
			w := *e.Weight
			out.Active[i].Weight = &w
		}
	}
	out.Memory = ps.Memory.Clone()
	out.SeenEvents = slices.Clone(ps.SeenEvents)
	return &out
}

// EpisodeSnapshot returns copies of every episode state keyed by ID.
func (ps *PlayerState) EpisodeSnapshot() map[string]*EpisodeState {
	out := make(map[string]*EpisodeState, len(ps.Episodes))
	for id, es := range ps.Episodes {
		out[id] = es.Clone()
	}
	return out
}
