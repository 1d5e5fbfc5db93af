package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeRequestQueued     EventType = "request.queued"
	EventTypeRequestProcessing EventType = "request.processing"
	EventTypeRequestCompleted  EventType = "request.completed"
	EventTypeRequestFailed     EventType = "request.failed"
	EventTypeEpisodeAdvanced   EventType = "episode.advanced"
	EventTypeEpisodeCompleted  EventType = "episode.completed"

	// Game commands, one per collaborator call
	EventTypeQuestActivated        EventType = "quest.activated"
	EventTypeQuestObjective        EventType = "quest.objective"
	EventTypeQuestCompleted        EventType = "quest.completed"
	EventTypeCharacterMood         EventType = "character.mood"
	EventTypeCharacterForceLoc     EventType = "character.force_location"
	EventTypeCharacterClearLoc     EventType = "character.clear_location_override"
	EventTypeSceneStart            EventType = "scene.start"
	EventTypeMessageDelivered      EventType = "message.delivered"
	EventTypeWorldLocation         EventType = "world.location"
	EventTypeWorldDungeon          EventType = "world.dungeon"
	EventTypeWorldBossBattle       EventType = "world.boss_battle"
	EventTypeWorldActivityUnlocked EventType = "world.activity_unlocked"
	EventTypeWorldAudioCue         EventType = "world.audio_cue"
	EventTypeMemoryMarker          EventType = "memory.marker"
	EventTypeNotification          EventType = "notification"
)

// Event represents a generic event structure
type Event struct {
	Type      EventType      `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	PlayerID  string         `json:"player_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Channel returns the pub/sub channel for a player's events
func Channel(playerID string) string {
	return fmt.Sprintf("player-events:%s", playerID)
}

// Broadcaster publishes events to Redis Pub/Sub for SSE distribution. It also
// stands in for the game-side collaborators by publishing each call as a command
// for the game client to carry out.
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Request lifecycle

// PublishRequestQueued publishes a request.queued event
func (b *Broadcaster) PublishRequestQueued(ctx context.Context, playerID, requestID string) error {
	return b.publish(ctx, playerID, Event{
		Type:      EventTypeRequestQueued,
		RequestID: requestID,
		Data:      map[string]any{"status": "queued"},
	})
}

// PublishRequestProcessing publishes a request.processing event
func (b *Broadcaster) PublishRequestProcessing(ctx context.Context, playerID, requestID, eventKind string) error {
	return b.publish(ctx, playerID, Event{
		Type:      EventTypeRequestProcessing,
		RequestID: requestID,
		Data: map[string]any{
			"status":     "processing",
			"event_kind": eventKind,
		},
	})
}

// PublishRequestCompleted publishes a request.completed event
func (b *Broadcaster) PublishRequestCompleted(ctx context.Context, playerID, requestID string, result any) error {
	return b.publish(ctx, playerID, Event{
		Type:      EventTypeRequestCompleted,
		RequestID: requestID,
		Data: map[string]any{
			"status": "completed",
			"result": result,
		},
	})
}

// PublishRequestFailed publishes a request.failed event
func (b *Broadcaster) PublishRequestFailed(ctx context.Context, playerID, requestID, errorMsg string) error {
	return b.publish(ctx, playerID, Event{
		Type:      EventTypeRequestFailed,
		RequestID: requestID,
		Data: map[string]any{
			"status": "failed",
			"error":  errorMsg,
		},
	})
}

// Episode progress

func (b *Broadcaster) PublishEpisodeAdvanced(ctx context.Context, playerID, episodeID string, fromBeat, toBeat int) error {
	return b.publish(ctx, playerID, Event{
		Type: EventTypeEpisodeAdvanced,
		Data: map[string]any{
			"episode_id": episodeID,
			"from_beat":  fromBeat,
			"to_beat":    toBeat,
		},
	})
}

func (b *Broadcaster) PublishEpisodeCompleted(ctx context.Context, playerID, episodeID string) error {
	return b.publish(ctx, playerID, Event{
		Type: EventTypeEpisodeCompleted,
		Data: map[string]any{"episode_id": episodeID},
	})
}

// Game commands

func (b *Broadcaster) ActivateQuest(ctx context.Context, playerID, questID, title, description string) error {
	return b.command(ctx, playerID, EventTypeQuestActivated, map[string]any{
		"quest_id":    questID,
		"title":       title,
		"description": description,
	})
}

func (b *Broadcaster) SetObjective(ctx context.Context, playerID, questID, objective string) error {
	return b.command(ctx, playerID, EventTypeQuestObjective, map[string]any{
		"quest_id":  questID,
		"objective": objective,
	})
}

func (b *Broadcaster) CompleteQuest(ctx context.Context, playerID, questID string) error {
	return b.command(ctx, playerID, EventTypeQuestCompleted, map[string]any{"quest_id": questID})
}

func (b *Broadcaster) SetMood(ctx context.Context, playerID, mood string) error {
	return b.command(ctx, playerID, EventTypeCharacterMood, map[string]any{"mood": mood})
}

func (b *Broadcaster) ForceLocation(ctx context.Context, playerID, locationID, reason string) error {
	return b.command(ctx, playerID, EventTypeCharacterForceLoc, map[string]any{
		"location_id": locationID,
		"reason":      reason,
	})
}

func (b *Broadcaster) ClearLocationOverride(ctx context.Context, playerID string) error {
	return b.command(ctx, playerID, EventTypeCharacterClearLoc, nil)
}

func (b *Broadcaster) StartScene(ctx context.Context, playerID, dialogueID string, sceneContext map[string]string) error {
	return b.command(ctx, playerID, EventTypeSceneStart, map[string]any{
		"dialogue_id": dialogueID,
		"context":     sceneContext,
	})
}

func (b *Broadcaster) DeliverMessage(ctx context.Context, playerID, speaker, text string) error {
	return b.command(ctx, playerID, EventTypeMessageDelivered, map[string]any{
		"speaker": speaker,
		"text":    text,
	})
}

func (b *Broadcaster) SetLocation(ctx context.Context, playerID, locationID string) error {
	return b.command(ctx, playerID, EventTypeWorldLocation, map[string]any{"location_id": locationID})
}

func (b *Broadcaster) LoadDungeon(ctx context.Context, playerID, dungeonID, environment string) error {
	return b.command(ctx, playerID, EventTypeWorldDungeon, map[string]any{
		"dungeon_id":  dungeonID,
		"environment": environment,
	})
}

func (b *Broadcaster) StartBossBattle(ctx context.Context, playerID, bossID, arena string) error {
	return b.command(ctx, playerID, EventTypeWorldBossBattle, map[string]any{
		"boss_id": bossID,
		"arena":   arena,
	})
}

func (b *Broadcaster) UnlockActivity(ctx context.Context, playerID, activityID string) error {
	return b.command(ctx, playerID, EventTypeWorldActivityUnlocked, map[string]any{"activity_id": activityID})
}

func (b *Broadcaster) PlayAudioCue(ctx context.Context, playerID, cueID string, loop bool) error {
	return b.command(ctx, playerID, EventTypeWorldAudioCue, map[string]any{
		"cue_id": cueID,
		"loop":   loop,
	})
}

func (b *Broadcaster) CreateMemoryMarker(ctx context.Context, playerID, markerID, description string, rank int) error {
	return b.command(ctx, playerID, EventTypeMemoryMarker, map[string]any{
		"marker_id":   markerID,
		"description": description,
		"rank":        rank,
	})
}

func (b *Broadcaster) ShowNotification(ctx context.Context, playerID, title, message, severity string) error {
	return b.command(ctx, playerID, EventTypeNotification, map[string]any{
		"title":    title,
		"message":  message,
		"severity": severity,
	})
}

func (b *Broadcaster) command(ctx context.Context, playerID string, eventType EventType, data map[string]any) error {
	return b.publish(ctx, playerID, Event{Type: eventType, Data: data})
}

// publish publishes an event to the player-specific channel
func (b *Broadcaster) publish(ctx context.Context, playerID string, event Event) error {
	channel := Channel(playerID)
	event.PlayerID = playerID

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"request_id", event.RequestID,
	)

	return nil
}
