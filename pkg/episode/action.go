package episode

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jwebster45206/episode-engine/pkg/flags"
	"gopkg.in/yaml.v3"
)

// ActionKind names a side-effecting command issued to an external collaborator.
type ActionKind string

const (
	ActionDeliverMessage         ActionKind = "deliver_message"
	ActionActivateQuest          ActionKind = "activate_quest"
	ActionSetQuestObjective      ActionKind = "set_quest_objective"
	ActionCompleteQuest          ActionKind = "complete_quest"
	ActionSetMood                ActionKind = "set_mood"
	ActionForceLocation          ActionKind = "force_location"
	ActionClearLocationOverride  ActionKind = "clear_location_override"
	ActionSetLocation            ActionKind = "set_location"
	ActionStartDialogue          ActionKind = "start_dialogue"
	ActionLoadDungeonEnvironment ActionKind = "load_dungeon_environment"
	ActionStartBossBattle        ActionKind = "start_boss_battle"
	ActionRewardPlayer           ActionKind = "reward_player"
	ActionCreateMemoryMarker     ActionKind = "create_memory_marker"
	ActionUnlockActivity         ActionKind = "unlock_activity"
	ActionPlayAudioCue           ActionKind = "play_audio_cue"
	ActionShowNotification       ActionKind = "show_notification"
	ActionSetFlag                ActionKind = "set_flag"
	ActionClearFlag              ActionKind = "clear_flag"
)

// paramFactories is the closed set of action kinds. Adding a kind means adding
// its Params type here and a route in the dispatcher.
var paramFactories = map[ActionKind]func() Params{
	ActionDeliverMessage:         func() Params { return &DeliverMessage{} },
	ActionActivateQuest:          func() Params { return &ActivateQuest{} },
	ActionSetQuestObjective:      func() Params { return &SetQuestObjective{} },
	ActionCompleteQuest:          func() Params { return &CompleteQuest{} },
	ActionSetMood:                func() Params { return &SetMood{} },
	ActionForceLocation:          func() Params { return &ForceLocation{} },
	ActionClearLocationOverride:  func() Params { return &ClearLocationOverride{} },
	ActionSetLocation:            func() Params { return &SetLocation{} },
	ActionStartDialogue:          func() Params { return &StartDialogue{} },
	ActionLoadDungeonEnvironment: func() Params { return &LoadDungeonEnvironment{} },
	ActionStartBossBattle:        func() Params { return &StartBossBattle{} },
	ActionRewardPlayer:           func() Params { return &RewardPlayer{} },
	ActionCreateMemoryMarker:     func() Params { return &CreateMemoryMarker{} },
	ActionUnlockActivity:         func() Params { return &UnlockActivity{} },
	ActionPlayAudioCue:           func() Params { return &PlayAudioCue{} },
	ActionShowNotification:       func() Params { return &ShowNotification{} },
	ActionSetFlag:                func() Params { return &SetFlag{} },
	ActionClearFlag:              func() Params { return &ClearFlag{} },
}

// ActionKinds returns every known action kind, sorted.
func ActionKinds() []ActionKind {
	kinds := make([]ActionKind, 0, len(paramFactories))
	for k := range paramFactories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// IsKnown reports whether kind belongs to the action vocabulary.
func (k ActionKind) IsKnown() bool {
	_, ok := paramFactories[k]
	return ok
}

// Params is implemented by the typed parameters of each action kind.
type Params interface {
	Kind() ActionKind
	validate() []string
}

// Action is a tagged variant: Kind selects the concrete Params type.
// Params is nil when the authored kind is unknown; validation rejects such actions.
type Action struct {
	Kind   ActionKind
	Params Params
}

// NewAction wraps typed params into an Action.
func NewAction(p Params) Action {
	return Action{Kind: p.Kind(), Params: p}
}

// Validate reports authoring problems with the action.
func (a Action) Validate() []string {
	if !a.Kind.IsKnown() {
		return []string{fmt.Sprintf("unknown action kind %q", a.Kind)}
	}
	if a.Params == nil {
		return []string{fmt.Sprintf("action %q has no parameters", a.Kind)}
	}
	if a.Params.Kind() != a.Kind {
		return []string{fmt.Sprintf("action kind %q does not match parameters of %q", a.Kind, a.Params.Kind())}
	}
	return a.Params.validate()
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind ActionKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("failed to decode action: %w", err)
	}
	a.Kind = head.Kind
	a.Params = nil

	factory, ok := paramFactories[head.Kind]
	if !ok {
		// Left for validation to reject the owning episode
		return nil
	}
	params := factory()
	if err := json.Unmarshal(data, params); err != nil {
		return fmt.Errorf("failed to decode %s action: %w", head.Kind, err)
	}
	a.Params = params
	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if a.Params != nil {
		data, err := json.Marshal(a.Params)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
	}
	kind, err := json.Marshal(a.Kind)
	if err != nil {
		return nil, err
	}
	fields["kind"] = kind
	return json.Marshal(fields)
}

func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Kind ActionKind `yaml:"kind"`
	}
	if err := node.Decode(&head); err != nil {
		return fmt.Errorf("failed to decode action: %w", err)
	}
	a.Kind = head.Kind
	a.Params = nil

	factory, ok := paramFactories[head.Kind]
	if !ok {
		return nil
	}
	params := factory()
	if err := node.Decode(params); err != nil {
		return fmt.Errorf("failed to decode %s action: %w", head.Kind, err)
	}
	a.Params = params
	return nil
}

func required(kind ActionKind, field, value string) []string {
	if value == "" {
		return []string{fmt.Sprintf("%s requires %s", kind, field)}
	}
	return nil
}

// DeliverMessage shows a line of narration or dialogue to the player.
type DeliverMessage struct {
	Speaker string `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Text    string `json:"text" yaml:"text"`
}

func (*DeliverMessage) Kind() ActionKind { return ActionDeliverMessage }
func (p *DeliverMessage) validate() []string {
	return required(ActionDeliverMessage, "text", p.Text)
}

// ActivateQuest creates a quest in the quest system.
type ActivateQuest struct {
	QuestID     string `json:"quest_id" yaml:"quest_id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (*ActivateQuest) Kind() ActionKind { return ActionActivateQuest }
func (p *ActivateQuest) validate() []string {
	return append(required(ActionActivateQuest, "quest_id", p.QuestID),
		required(ActionActivateQuest, "title", p.Title)...)
}

type SetQuestObjective struct {
	QuestID   string `json:"quest_id" yaml:"quest_id"`
	Objective string `json:"objective" yaml:"objective"`
}

func (*SetQuestObjective) Kind() ActionKind { return ActionSetQuestObjective }
func (p *SetQuestObjective) validate() []string {
	return append(required(ActionSetQuestObjective, "quest_id", p.QuestID),
		required(ActionSetQuestObjective, "objective", p.Objective)...)
}

type CompleteQuest struct {
	QuestID string `json:"quest_id" yaml:"quest_id"`
}

func (*CompleteQuest) Kind() ActionKind { return ActionCompleteQuest }
func (p *CompleteQuest) validate() []string {
	return required(ActionCompleteQuest, "quest_id", p.QuestID)
}

type SetMood struct {
	Mood string `json:"mood" yaml:"mood"`
}

func (*SetMood) Kind() ActionKind { return ActionSetMood }
func (p *SetMood) validate() []string {
	return required(ActionSetMood, "mood", p.Mood)
}

// ForceLocation overrides where the companion character is placed.
type ForceLocation struct {
	LocationID string `json:"location_id" yaml:"location_id"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func (*ForceLocation) Kind() ActionKind { return ActionForceLocation }
func (p *ForceLocation) validate() []string {
	return required(ActionForceLocation, "location_id", p.LocationID)
}

type ClearLocationOverride struct{}

func (*ClearLocationOverride) Kind() ActionKind { return ActionClearLocationOverride }
func (*ClearLocationOverride) validate() []string {
	return nil
}

type SetLocation struct {
	LocationID string `json:"location_id" yaml:"location_id"`
}

func (*SetLocation) Kind() ActionKind { return ActionSetLocation }
func (p *SetLocation) validate() []string {
	return required(ActionSetLocation, "location_id", p.LocationID)
}

// StartDialogue plays a scene. Its completion comes back as a dialogue_complete event.
type StartDialogue struct {
	DialogueID string            `json:"dialogue_id" yaml:"dialogue_id"`
	Context    map[string]string `json:"context,omitempty" yaml:"context,omitempty"`
}

func (*StartDialogue) Kind() ActionKind { return ActionStartDialogue }
func (p *StartDialogue) validate() []string {
	return required(ActionStartDialogue, "dialogue_id", p.DialogueID)
}

type LoadDungeonEnvironment struct {
	DungeonID   string `json:"dungeon_id" yaml:"dungeon_id"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

func (*LoadDungeonEnvironment) Kind() ActionKind { return ActionLoadDungeonEnvironment }
func (p *LoadDungeonEnvironment) validate() []string {
	return required(ActionLoadDungeonEnvironment, "dungeon_id", p.DungeonID)
}

type StartBossBattle struct {
	BossID string `json:"boss_id" yaml:"boss_id"`
	Arena  string `json:"arena,omitempty" yaml:"arena,omitempty"`
}

func (*StartBossBattle) Kind() ActionKind { return ActionStartBossBattle }
func (p *StartBossBattle) validate() []string {
	return required(ActionStartBossBattle, "boss_id", p.BossID)
}

// RewardPlayer grants every listed component in a single ledger call.
type RewardPlayer struct {
	Gold           int      `json:"gold,omitempty" yaml:"gold,omitempty"`
	Experience     int      `json:"experience,omitempty" yaml:"experience,omitempty"`
	Items          []string `json:"items,omitempty" yaml:"items,omitempty"`
	AffectionDelta int      `json:"affection_delta,omitempty" yaml:"affection_delta,omitempty"`
}

func (*RewardPlayer) Kind() ActionKind { return ActionRewardPlayer }
func (p *RewardPlayer) validate() []string {
	var problems []string
	if p.Gold < 0 || p.Experience < 0 {
		problems = append(problems, "reward_player gold and experience cannot be negative")
	}
	if p.Gold == 0 && p.Experience == 0 && len(p.Items) == 0 && p.AffectionDelta == 0 {
		problems = append(problems, "reward_player grants nothing")
	}
	return problems
}

type CreateMemoryMarker struct {
	MarkerID    string `json:"marker_id" yaml:"marker_id"`
	Description string `json:"description" yaml:"description"`
	Rank        int    `json:"rank,omitempty" yaml:"rank,omitempty"`
}

func (*CreateMemoryMarker) Kind() ActionKind { return ActionCreateMemoryMarker }
func (p *CreateMemoryMarker) validate() []string {
	return append(required(ActionCreateMemoryMarker, "marker_id", p.MarkerID),
		required(ActionCreateMemoryMarker, "description", p.Description)...)
}

type UnlockActivity struct {
	ActivityID string `json:"activity_id" yaml:"activity_id"`
}

func (*UnlockActivity) Kind() ActionKind { return ActionUnlockActivity }
func (p *UnlockActivity) validate() []string {
	return required(ActionUnlockActivity, "activity_id", p.ActivityID)
}

type PlayAudioCue struct {
	CueID string `json:"cue_id" yaml:"cue_id"`
	Loop  bool   `json:"loop,omitempty" yaml:"loop,omitempty"`
}

func (*PlayAudioCue) Kind() ActionKind { return ActionPlayAudioCue }
func (p *PlayAudioCue) validate() []string {
	return required(ActionPlayAudioCue, "cue_id", p.CueID)
}

// Notification severities
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
)

type ShowNotification struct {
	Title    string `json:"title" yaml:"title"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty"`
	Severity string `json:"severity,omitempty" yaml:"severity,omitempty"` // info (default), success, warning
}

func (*ShowNotification) Kind() ActionKind { return ActionShowNotification }
func (p *ShowNotification) validate() []string {
	problems := required(ActionShowNotification, "title", p.Title)
	switch p.Severity {
	case "", SeverityInfo, SeveritySuccess, SeverityWarning:
	default:
		problems = append(problems, fmt.Sprintf("show_notification has unknown severity %q", p.Severity))
	}
	return problems
}

// SetFlag writes a story flag. Exactly one of Value or Increment is used.
type SetFlag struct {
	Flag      string      `json:"flag" yaml:"flag"`
	Value     flags.Value `json:"value,omitempty" yaml:"value,omitempty"`
	Increment int64       `json:"increment,omitempty" yaml:"increment,omitempty"`
}

func (*SetFlag) Kind() ActionKind { return ActionSetFlag }
func (p *SetFlag) validate() []string {
	problems := required(ActionSetFlag, "flag", p.Flag)
	switch {
	case p.Value.IsZero() && p.Increment == 0:
		problems = append(problems, fmt.Sprintf("set_flag %q needs a value or an increment", p.Flag))
	case !p.Value.IsZero() && p.Increment != 0:
		problems = append(problems, fmt.Sprintf("set_flag %q cannot have both a value and an increment", p.Flag))
	}
	return problems
}

type ClearFlag struct {
	Flag string `json:"flag" yaml:"flag"`
}

func (*ClearFlag) Kind() ActionKind { return ActionClearFlag }
func (p *ClearFlag) validate() []string {
	return required(ActionClearFlag, "flag", p.Flag)
}
