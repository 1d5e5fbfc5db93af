package conditionals

import (
	"slices"

	"github.com/jwebster45206/episode-engine/pkg/flags"
	"golang.org/x/text/cases"
)

// Prerequisite gates when an episode becomes available to a player.
// Every field that is set must hold (AND-combined); a nil Prerequisite always holds.
type Prerequisite struct {
	PlayerLevel        *int                   `json:"player_level,omitempty" yaml:"player_level,omitempty"`               // Minimum player level
	AffectionLevel     *int                   `json:"affection_level,omitempty" yaml:"affection_level,omitempty"`         // Minimum affection/relationship level
	CompletedEpisodes  []string               `json:"completed_episodes,omitempty" yaml:"completed_episodes,omitempty"`   // All must be completed
	RequiredItems      []string               `json:"required_items,omitempty" yaml:"required_items,omitempty"`           // All must be in inventory
	Location           string                 `json:"location,omitempty" yaml:"location,omitempty"`                       // Player must be here
	TimeOfDay          string                 `json:"time_of_day,omitempty" yaml:"time_of_day,omitempty"`                 // e.g. "night"
	RelationshipStatus string                 `json:"relationship_status,omitempty" yaml:"relationship_status,omitempty"` // e.g. "dating"
	Flags              map[string]flags.Value `json:"flags,omitempty" yaml:"flags,omitempty"`                             // All flags must match exactly
	Expr               string                 `json:"expr,omitempty" yaml:"expr,omitempty"`                               // CEL expression over player and flags
}

// PlayerView provides the minimal interface needed to evaluate prerequisites.
// This avoids an import cycle with the state package.
type PlayerView interface {
	GetLevel() int
	GetAffection() int
	GetRelationshipStatus() string
	GetLocation() string
	GetTimeOfDay() string
	GetInventory() []string
	HasCompletedEpisode(episodeID string) bool
	GetFlags() flags.Flags
}

// IsEmpty reports whether no condition is specified.
func (p *Prerequisite) IsEmpty() bool {
	return p == nil || (p.PlayerLevel == nil &&
		p.AffectionLevel == nil &&
		len(p.CompletedEpisodes) == 0 &&
		len(p.RequiredItems) == 0 &&
		p.Location == "" &&
		p.TimeOfDay == "" &&
		p.RelationshipStatus == "" &&
		len(p.Flags) == 0 &&
		p.Expr == "")
}

// EvaluatePrerequisite checks if all conditions in a Prerequisite are met
func EvaluatePrerequisite(p *Prerequisite, view PlayerView) bool {
	// Episodes without a prerequisite are always available
	if p.IsEmpty() {
		return true
	}
	if view == nil {
		return false
	}

	if p.PlayerLevel != nil && view.GetLevel() < *p.PlayerLevel {
		return false
	}

	if p.AffectionLevel != nil && view.GetAffection() < *p.AffectionLevel {
		return false
	}

	for _, episodeID := range p.CompletedEpisodes {
		if !view.HasCompletedEpisode(episodeID) {
			return false
		}
	}

	if len(p.RequiredItems) > 0 {
		inventory := view.GetInventory()
		for _, item := range p.RequiredItems {
			if !slices.ContainsFunc(inventory, func(have string) bool { return MatchID(have, item) }) {
				return false
			}
		}
	}

	if p.Location != "" && !MatchID(view.GetLocation(), p.Location) {
		return false
	}

	if p.TimeOfDay != "" && !MatchID(view.GetTimeOfDay(), p.TimeOfDay) {
		return false
	}

	if p.RelationshipStatus != "" && !MatchID(view.GetRelationshipStatus(), p.RelationshipStatus) {
		return false
	}

	if len(p.Flags) > 0 {
		playerFlags := view.GetFlags()
		for key, expected := range p.Flags {
			actual, ok := playerFlags[key]
			if !ok || !actual.Equal(expected) {
				return false
			}
		}
	}

	if p.Expr != "" {
		ok, err := EvalExpr(p.Expr, view)
		if err != nil || !ok {
			return false
		}
	}

	// All conditions passed
	return true
}

// MatchID compares two authored identifiers case-insensitively.
// An empty want matches nothing; callers treat "unset" before calling.
func MatchID(have, want string) bool {
	if want == "" {
		return false
	}
	if have == want {
		return true
	}
	fold := cases.Fold()
	return fold.String(have) == fold.String(want)
}
