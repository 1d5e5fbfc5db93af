package episode

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/jwebster45206/episode-engine/pkg/conditionals"
	"golang.org/x/text/cases"
)

// AuthoringError rejects a malformed episode definition at load time.
type AuthoringError struct {
	EpisodeID string
	Problems  []string
}

func (e *AuthoringError) Error() string {
	id := e.EpisodeID
	if id == "" {
		id = "<unnamed>"
	}
	return fmt.Sprintf("episode %s is invalid:\n  - %s", id, strings.Join(e.Problems, "\n  - "))
}

var validIDRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)

// IsValidID reports whether id is lowercase snake_case.
func IsValidID(id string) bool {
	return validIDRegex.MatchString(id)
}

type validator struct {
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

// Validate checks a single definition in isolation. Cross-episode references
// (completed_episodes) are checked by NewCatalog.
func Validate(def *Definition) error {
	v := &validator{}
	if def == nil {
		return &AuthoringError{Problems: []string{"definition is nil"}}
	}

	switch {
	case def.ID == "":
		v.addf("id is required")
	case !IsValidID(def.ID):
		v.addf("id '%s' should be lowercase snake_case", def.ID)
	}
	if def.Title == "" {
		v.addf("title is required")
	}

	v.validatePrerequisite(def.Prerequisite)
	v.validateAffinity(def.Affinity)

	if len(def.Beats) == 0 {
		v.addf("episode has no beats")
	}

	seen := make(map[int]bool, len(def.Beats))
	for i := range def.Beats {
		beat := &def.Beats[i]
		if seen[beat.ID] {
			v.addf("duplicate beat id %d", beat.ID)
		}
		seen[beat.ID] = true
		v.validateBeat(beat)
	}

	if len(v.problems) > 0 {
		return &AuthoringError{EpisodeID: def.ID, Problems: v.problems}
	}
	return nil
}

func (v *validator) validateBeat(beat *Beat) {
	where := fmt.Sprintf("beat %d", beat.ID)

	switch beat.Trigger.Kind {
	case TriggerImmediate, TriggerPreviousBeatComplete, TriggerPlayerAction:
	case TriggerLocationEnter:
		if beat.Trigger.Location == "" {
			v.addf("%s: location_enter trigger requires a location", where)
		}
	case TriggerTimeCondition:
		if beat.Trigger.TimeOfDay == "" && beat.Trigger.AfterSeconds <= 0 {
			v.addf("%s: time_condition trigger requires time_of_day or after_seconds", where)
		}
		if beat.Trigger.AfterSeconds < 0 {
			v.addf("%s: after_seconds cannot be negative", where)
		}
	case "":
		v.addf("%s: trigger kind is required", where)
	default:
		v.addf("%s: unknown trigger kind %q", where, beat.Trigger.Kind)
	}

	switch beat.Completion.Kind {
	case CompletionPlayerAccepts, CompletionDialogueComplete, CompletionBossDefeated,
		CompletionItemObtained, CompletionActivityCompleted, CompletionEndEpisode:
	case CompletionLocationVisited:
		if beat.Completion.Target == "" {
			v.addf("%s: location_visited completion requires a target", where)
		}
	case "":
		v.addf("%s: completion kind is required", where)
	default:
		v.addf("%s: unknown completion kind %q", where, beat.Completion.Kind)
	}

	present := make(map[ActionKind]bool, len(beat.Actions))
	for i, action := range beat.Actions {
		for _, problem := range action.Validate() {
			v.addf("%s action %d: %s", where, i, problem)
		}
		present[action.Kind] = true
	}
	for _, kind := range beat.Completion.Requires {
		if !present[kind] {
			v.addf("%s: completion requires %q but the beat has no such action", where, kind)
		}
	}
}

func (v *validator) validatePrerequisite(p *conditionals.Prerequisite) {
	if p == nil {
		return
	}
	if p.PlayerLevel != nil && *p.PlayerLevel < 0 {
		v.addf("prerequisite player_level cannot be negative")
	}
	for _, id := range p.CompletedEpisodes {
		if !IsValidID(id) {
			v.addf("prerequisite completed episode '%s' should be lowercase snake_case", id)
		}
	}
	if p.Expr != "" {
		if err := conditionals.CompileExpr(p.Expr); err != nil {
			v.addf("prerequisite expr: %v", err)
		}
	}
}

func (v *validator) validateAffinity(a *Affinity) {
	if a == nil {
		return
	}
	v.validateFactors("location", a.Locations)
	v.validateFactors("time of day", a.TimesOfDay)
}

// validateFactors rejects factors that would poison a weight, and keys that collide
// once case is folded, since lookups ignore case.
func (v *validator) validateFactors(what string, factors map[string]float64) {
	fold := cases.Fold()
	seen := make(map[string]string, len(factors))
	for _, key := range slices.Sorted(maps.Keys(factors)) {
		factor := factors[key]
		switch {
		case math.IsNaN(factor) || math.IsInf(factor, 0):
			v.addf("affinity for %s '%s' must be a finite number", what, key)
		case factor < 0:
			v.addf("affinity for %s '%s' cannot be negative", what, key)
		}
		folded := fold.String(key)
		if prev, ok := seen[folded]; ok {
			v.addf("affinity for %s '%s' duplicates '%s'", what, key, prev)
			continue
		}
		seen[folded] = key
	}
}
