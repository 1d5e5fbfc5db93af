package episode

import (
	"maps"
	"slices"

	"github.com/jwebster45206/episode-engine/pkg/conditionals"
)

// TriggerKind determines when a beat's actions fire.
type TriggerKind string

const (
	TriggerPreviousBeatComplete TriggerKind = "previous_beat_complete"
	TriggerPlayerAction         TriggerKind = "player_action"
	TriggerLocationEnter        TriggerKind = "location_enter"
	TriggerTimeCondition        TriggerKind = "time_condition"
	TriggerImmediate            TriggerKind = "immediate"
)

// IsEventDriven reports whether the trigger needs a gameplay event to fire.
func (k TriggerKind) IsEventDriven() bool {
	return k != TriggerImmediate && k != TriggerPreviousBeatComplete
}

// CompletionKind is the gameplay outcome that advances a beat.
type CompletionKind string

const (
	CompletionPlayerAccepts     CompletionKind = "player_accepts"
	CompletionDialogueComplete  CompletionKind = "dialogue_complete"
	CompletionBossDefeated      CompletionKind = "boss_defeated"
	CompletionLocationVisited   CompletionKind = "location_visited"
	CompletionItemObtained      CompletionKind = "item_obtained"
	CompletionActivityCompleted CompletionKind = "activity_completed"
	CompletionEndEpisode        CompletionKind = "end_episode"
)

// IsEventDriven reports whether the condition waits on a gameplay event.
func (k CompletionKind) IsEventDriven() bool {
	return k != CompletionEndEpisode
}

// Definition is an authored episode. Definitions are immutable once loaded into a Catalog.
type Definition struct {
	ID           string                     `json:"id" yaml:"id"`
	Title        string                     `json:"title" yaml:"title"`
	Description  string                     `json:"description,omitempty" yaml:"description,omitempty"`
	Prerequisite *conditionals.Prerequisite `json:"prerequisite,omitempty" yaml:"prerequisite,omitempty"`
	Beats        []Beat                     `json:"beats" yaml:"beats"`
	Affinity     *Affinity                  `json:"affinity,omitempty" yaml:"affinity,omitempty"`
}

// Beat is the smallest unit of episode progression.
type Beat struct {
	ID          int        `json:"id" yaml:"id"` // Beats are ordered by ID
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"` // Guidance for the narrator
	Trigger     Trigger    `json:"trigger" yaml:"trigger"`
	Actions     []Action   `json:"actions,omitempty" yaml:"actions,omitempty"`
	Completion  Completion `json:"completion" yaml:"completion"`
	Optional    bool       `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Trigger gates when a beat's actions fire.
type Trigger struct {
	Kind         TriggerKind `json:"kind" yaml:"kind"`
	Action       string      `json:"action,omitempty" yaml:"action,omitempty"`               // player_action: named action, empty matches any
	Location     string      `json:"location,omitempty" yaml:"location,omitempty"`           // location_enter
	TimeOfDay    string      `json:"time_of_day,omitempty" yaml:"time_of_day,omitempty"`     // time_condition
	AfterSeconds int         `json:"after_seconds,omitempty" yaml:"after_seconds,omitempty"` // time_condition: delay since the beat became current
}

// Completion is the gameplay outcome that advances a beat.
type Completion struct {
	Kind     CompletionKind `json:"kind" yaml:"kind"`
	Target   string         `json:"target,omitempty" yaml:"target,omitempty"`     // Dialogue, boss, location, item or activity ID; empty matches any
	Requires []ActionKind   `json:"requires,omitempty" yaml:"requires,omitempty"` // Actions in this beat that must succeed before it can complete
}

// RequiresAction reports whether the completion is gated on the success of kind.
func (c Completion) RequiresAction(kind ActionKind) bool {
	for _, k := range c.Requires {
		if k == kind {
			return true
		}
	}
	return false
}

// Affinity declares where and when an episode is most relevant.
// Values are relevance multipliers; unmatched context uses 1.0.
type Affinity struct {
	Locations  map[string]float64 `json:"locations,omitempty" yaml:"locations,omitempty"`
	TimesOfDay map[string]float64 `json:"times_of_day,omitempty" yaml:"times_of_day,omitempty"`
}

// Multiplier returns the combined relevance multiplier for a situation.
func (a *Affinity) Multiplier(location, timeOfDay string) float64 {
	if a == nil {
		return 1.0
	}
	m := 1.0
	if factor, ok := lookupFactor(a.Locations, location); ok {
		m *= factor
	}
	if factor, ok := lookupFactor(a.TimesOfDay, timeOfDay); ok {
		m *= factor
	}
	return m
}

// lookupFactor prefers an exact key, then the first case-insensitive match in key order.
func lookupFactor(factors map[string]float64, key string) (float64, bool) {
	if key == "" {
		return 0, false
	}
	if factor, ok := factors[key]; ok {
		return factor, true
	}
	for _, k := range slices.Sorted(maps.Keys(factors)) {
		if conditionals.MatchID(key, k) {
			return factors[k], true
		}
	}
	return 0, false
}

// Beat returns the beat at index i, or nil when i is out of range.
func (d *Definition) Beat(i int) *Beat {
	if d == nil || i < 0 || i >= len(d.Beats) {
		return nil
	}
	return &d.Beats[i]
}

// LastBeatIndex returns the index of the final beat.
func (d *Definition) LastBeatIndex() int {
	return len(d.Beats) - 1
}
