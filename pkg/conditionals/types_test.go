package conditionals

import (
	"testing"

	"github.com/jwebster45206/episode-engine/pkg/flags"
)

// mockPlayerView implements PlayerView for testing
type mockPlayerView struct {
	level        int
	affection    int
	relationship string
	location     string
	timeOfDay    string
	inventory    []string
	completed    map[string]bool
	flags        flags.Flags
}

func (m *mockPlayerView) GetLevel() int                        { return m.level }
func (m *mockPlayerView) GetAffection() int                    { return m.affection }
func (m *mockPlayerView) GetRelationshipStatus() string        { return m.relationship }
func (m *mockPlayerView) GetLocation() string                  { return m.location }
func (m *mockPlayerView) GetTimeOfDay() string                 { return m.timeOfDay }
func (m *mockPlayerView) GetInventory() []string               { return m.inventory }
func (m *mockPlayerView) HasCompletedEpisode(id string) bool   { return m.completed[id] }
func (m *mockPlayerView) GetFlags() flags.Flags                { return m.flags }

func intPtr(i int) *int { return &i }

func TestEvaluatePrerequisite(t *testing.T) {
	view := &mockPlayerView{
		level:        10,
		affection:    40,
		relationship: "friends",
		location:     "lighthouse",
		timeOfDay:    "night",
		inventory:    []string{"old_key", "lantern"},
		completed:    map[string]bool{"arrival": true},
		flags:        flags.Flags{"met_keeper": flags.Bool(true), "trust": flags.Int(3)},
	}

	tests := []struct {
		name     string
		prereq   *Prerequisite
		expected bool
	}{
		{"nil prerequisite", nil, true},
		{"empty prerequisite", &Prerequisite{}, true},
		{"level met", &Prerequisite{PlayerLevel: intPtr(10)}, true},
		{"level unmet", &Prerequisite{PlayerLevel: intPtr(25)}, false},
		{"affection met", &Prerequisite{AffectionLevel: intPtr(30)}, true},
		{"affection unmet", &Prerequisite{AffectionLevel: intPtr(50)}, false},
		{"completed episode", &Prerequisite{CompletedEpisodes: []string{"arrival"}}, true},
		{"missing completed episode", &Prerequisite{CompletedEpisodes: []string{"arrival", "storm"}}, false},
		{"items held", &Prerequisite{RequiredItems: []string{"Old_Key"}}, true},
		{"item missing", &Prerequisite{RequiredItems: []string{"compass"}}, false},
		{"location case-folded", &Prerequisite{Location: "Lighthouse"}, true},
		{"wrong location", &Prerequisite{Location: "harbor"}, false},
		{"time of day", &Prerequisite{TimeOfDay: "night"}, true},
		{"wrong time of day", &Prerequisite{TimeOfDay: "morning"}, false},
		{"relationship", &Prerequisite{RelationshipStatus: "friends"}, true},
		{"flags match", &Prerequisite{Flags: map[string]flags.Value{"met_keeper": flags.Bool(true)}}, true},
		{"flag value mismatch", &Prerequisite{Flags: map[string]flags.Value{"trust": flags.Int(4)}}, false},
		{"flag missing", &Prerequisite{Flags: map[string]flags.Value{"storm_seen": flags.Bool(true)}}, false},
		{"expression true", &Prerequisite{Expr: `flags.trust >= 3 && player.level > 5`}, true},
		{"expression false", &Prerequisite{Expr: `flags.trust > 3`}, false},
		{"expression missing key", &Prerequisite{Expr: `flags.unknown == true`}, false},
		{"expression with has", &Prerequisite{Expr: `!has(flags.unknown)`}, true},
		{"expression inventory", &Prerequisite{Expr: `"lantern" in player.inventory`}, true},
		{
			"all combined",
			&Prerequisite{
				PlayerLevel:       intPtr(5),
				CompletedEpisodes: []string{"arrival"},
				Location:          "lighthouse",
				TimeOfDay:         "night",
			},
			true,
		},
		{
			"one failing field fails the whole",
			&Prerequisite{
				PlayerLevel: intPtr(5),
				Location:    "harbor",
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluatePrerequisite(tt.prereq, view)
			if got != tt.expected {
				t.Errorf("EvaluatePrerequisite() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestCompileExpr(t *testing.T) {
	if err := CompileExpr(`player.level >= 3`); err != nil {
		t.Errorf("expected valid expression, got %v", err)
	}
	if err := CompileExpr(`player.level >=`); err == nil {
		t.Error("expected compile error for truncated expression")
	}
}

func TestEvalExpr_NonBool(t *testing.T) {
	view := &mockPlayerView{level: 3}
	if _, err := EvalExpr(`player.level + 1`, view); err == nil {
		t.Error("expected error for non-bool expression")
	}
}

func TestMatchID(t *testing.T) {
	if !MatchID("Harbor", "harbor") {
		t.Error("expected case-folded match")
	}
	if MatchID("harbor", "") {
		t.Error("empty want should never match")
	}
	if MatchID("harbor", "lighthouse") {
		t.Error("different ids should not match")
	}
}
