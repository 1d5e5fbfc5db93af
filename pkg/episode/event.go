package episode

import "time"

// EventKind identifies a gameplay event reported by the game.
type EventKind string

const (
	EventLocationChange   EventKind = "location_change"
	EventDialogueComplete EventKind = "dialogue_complete"
	EventCombatOutcome    EventKind = "combat_outcome"
	EventActivityComplete EventKind = "activity_complete"
	EventItemObtained     EventKind = "item_obtained"
	EventPlayerAction     EventKind = "player_action"
	EventPlayerResponse   EventKind = "player_response"
	EventTick             EventKind = "tick" // Carries only a wall-clock snapshot, for time conditions
)

var knownEvents = map[EventKind]bool{
	EventLocationChange:   true,
	EventDialogueComplete: true,
	EventCombatOutcome:    true,
	EventActivityComplete: true,
	EventItemObtained:     true,
	EventPlayerAction:     true,
	EventPlayerResponse:   true,
	EventTick:             true,
}

// IsKnown reports whether the runtime recognizes the event kind.
func (k EventKind) IsKnown() bool {
	return knownEvents[k]
}

// Event is a gameplay occurrence submitted to the runtime.
type Event struct {
	ID        string    `json:"id,omitempty"`          // Optional; repeated IDs are dropped as redeliveries
	Kind      EventKind `json:"kind"`                  // What happened
	Target    string    `json:"target,omitempty"`      // Dialogue, boss, activity, item or action ID
	Location  string    `json:"location,omitempty"`    // location_change destination
	TimeOfDay string    `json:"time_of_day,omitempty"` // In-world time of day at the event
	Accepted  bool      `json:"accepted,omitempty"`    // player_response
	Victory   bool      `json:"victory,omitempty"`     // combat_outcome
	At        time.Time `json:"at,omitzero"`            // Wall-clock snapshot; zero means "now"
}
