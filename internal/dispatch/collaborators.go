package dispatch

import (
	"context"

	"github.com/jwebster45206/episode-engine/pkg/state"
)

// ProfileStore reads the player record used for prerequisites and rewards.
type ProfileStore interface {
	LoadProfile(ctx context.Context, playerID string) (*state.Profile, error)
}

// QuestSystem owns quest lifecycle. The runtime only issues commands.
type QuestSystem interface {
	ActivateQuest(ctx context.Context, playerID, questID, title, description string) error
	SetObjective(ctx context.Context, playerID, questID, objective string) error
	CompleteQuest(ctx context.Context, playerID, questID string) error
}

// CharacterControl sets the companion's mood and location override.
type CharacterControl interface {
	SetMood(ctx context.Context, playerID, mood string) error
	ForceLocation(ctx context.Context, playerID, locationID, reason string) error
	ClearLocationOverride(ctx context.Context, playerID string) error
}

// ScenePlayer starts dialogue scenes. Scene completion comes back as a gameplay event.
type ScenePlayer interface {
	StartScene(ctx context.Context, playerID, dialogueID string, sceneContext map[string]string) error
}

// Messenger shows narration or dialogue lines to the player.
type Messenger interface {
	DeliverMessage(ctx context.Context, playerID, speaker, text string) error
}

// World covers game systems that change the player's surroundings.
type World interface {
	SetLocation(ctx context.Context, playerID, locationID string) error
	LoadDungeon(ctx context.Context, playerID, dungeonID, environment string) error
	StartBossBattle(ctx context.Context, playerID, bossID, arena string) error
	UnlockActivity(ctx context.Context, playerID, activityID string) error
	PlayAudioCue(ctx context.Context, playerID, cueID string, loop bool) error
}

// Grant is every reward component of one reward_player action.
type Grant struct {
	IdempotencyKey string   `json:"idempotency_key"`
	Gold           int      `json:"gold,omitempty"`
	Experience     int      `json:"experience,omitempty"`
	Items          []string `json:"items,omitempty"`
	AffectionDelta int      `json:"affection_delta,omitempty"`
}

// RewardLedger applies a grant in one write and ignores a repeated IdempotencyKey.
type RewardLedger interface {
	Grant(ctx context.Context, playerID string, grant Grant) error
}

type MemorySink interface {
	CreateMemoryMarker(ctx context.Context, playerID, markerID, description string, rank int) error
}

type Notifier interface {
	ShowNotification(ctx context.Context, playerID, title, message, severity string) error
}

// Collaborators are the external systems actions are routed to.
type Collaborators struct {
	Profiles  ProfileStore
	Quests    QuestSystem
	Character CharacterControl
	Scenes    ScenePlayer
	Messages  Messenger
	World     World
	Rewards   RewardLedger
	Memory    MemorySink
	Notifier  Notifier
}
