package state

import (
	"context"

	"github.com/jwebster45206/episode-engine/pkg/episode"
)

// PendingAction identifies one authored action about to be executed for a player.
type PendingAction struct {
	EpisodeID string
	BeatID    int
	Index     int // Position within the beat's action list
	Action    episode.Action
}

// ActionResult reports the outcome of one collaborator call.
type ActionResult struct {
	Kind episode.ActionKind
	OK   bool
	Err  error
}

// ActionRunner executes actions on behalf of the state machine and awaits their outcome.
type ActionRunner interface {
	Run(ctx context.Context, pending PendingAction) ActionResult
}

// ActionRunnerFunc adapts a function to ActionRunner.
type ActionRunnerFunc func(ctx context.Context, pending PendingAction) ActionResult

func (f ActionRunnerFunc) Run(ctx context.Context, pending PendingAction) ActionResult {
	return f(ctx, pending)
}

// FiredAction records an executed action in an EffectBatch.
type FiredAction struct {
	BeatID int                `json:"beat_id"`
	Index  int                `json:"index"`
	Kind   episode.ActionKind `json:"kind"`
	OK     bool               `json:"ok"`
	Error  string             `json:"error,omitempty"`
}

// EffectBatch describes everything one call into the machine changed.
type EffectBatch struct {
	EpisodeID string        `json:"episode_id"`
	FromBeat  int           `json:"from_beat"`
	ToBeat    int           `json:"to_beat"`
	Fired     []FiredAction `json:"fired,omitempty"`
	Advanced  []int         `json:"advanced,omitempty"` // Beat IDs whose completion condition was met
	Skipped   []int         `json:"skipped,omitempty"`  // Optional beat IDs passed over
	Completed bool          `json:"completed,omitempty"`
	Ignored   bool          `json:"ignored,omitempty"` // Event matched an already-passed beat
	Capped    bool          `json:"capped,omitempty"`  // Cascade stopped at the depth limit
}

// Changed reports whether the batch altered the episode's state.
func (b EffectBatch) Changed() bool {
	return len(b.Fired) > 0 || len(b.Advanced) > 0 || len(b.Skipped) > 0 || b.Completed
}

// Failures returns the fired actions that did not succeed.
func (b EffectBatch) Failures() []FiredAction {
	var out []FiredAction
	for _, f := range b.Fired {
		if !f.OK {
			out = append(out, f)
		}
	}
	return out
}
