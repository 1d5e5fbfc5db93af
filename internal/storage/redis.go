package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/episode-engine/pkg/flags"
	"github.com/jwebster45206/episode-engine/pkg/state"
	"github.com/redis/go-redis/v9"
)

const (
	episodeStatePrefix = "episode-state:"
	storyFlagsPrefix   = "story-flags:"
	playerMetaPrefix   = "player-meta:"
	profilePrefix      = "profile:"
)

// RedisStorage implements the Storage interface using Redis hashes for
// episode states and story flags, and JSON strings for meta and profiles
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
}

// Ensure RedisStorage implements Storage interface
var _ Storage = (*RedisStorage)(nil)

// NewRedisStorageWithClient wraps an existing client
func NewRedisStorageWithClient(client *redis.Client, logger *slog.Logger) *RedisStorage {
	return &RedisStorage{
		client: client,
		logger: logger,
	}
}

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	cmd := r.client.Ping(ctx)
	if err := cmd.Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Player state operations

func (r *RedisStorage) LoadPlayerState(ctx context.Context, playerID string) (*state.PlayerState, error) {
	pipe := r.client.Pipeline()
	episodesCmd := pipe.HGetAll(ctx, episodeStatePrefix+playerID)
	flagsCmd := pipe.HGetAll(ctx, storyFlagsPrefix+playerID)
	metaCmd := pipe.Get(ctx, playerMetaPrefix+playerID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Error("Failed to load player state", "player_id", playerID, "error", err)
		return nil, fmt.Errorf("failed to load player state: %w", err)
	}

	ps := state.NewPlayerState(playerID)

	for episodeID, raw := range episodesCmd.Val() {
		var es state.EpisodeState
		if err := json.Unmarshal([]byte(raw), &es); err != nil {
			return nil, fmt.Errorf("failed to unmarshal episode state %s: %w", episodeID, err)
		}
		ps.Episodes[episodeID] = &es
	}

	for key, raw := range flagsCmd.Val() {
		var v flags.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal story flag %s: %w", key, err)
		}
		ps.Flags.Set(key, v)
	}

	if raw, err := metaCmd.Result(); err == nil {
		var meta playerMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal player meta: %w", err)
		}
		meta.applyTo(ps)
	}

	ps.Normalize()
	return ps, nil
}

// SavePlayerState replaces everything stored for the player in one MULTI/EXEC transaction
func (r *RedisStorage) SavePlayerState(ctx context.Context, ps *state.PlayerState) error {
	if ps == nil || ps.PlayerID == "" {
		return errors.New("player state requires a player id")
	}
	ps.UpdatedAt = time.Now()

	episodes := make(map[string]any, len(ps.Episodes))
	for id, es := range ps.Episodes {
		data, err := json.Marshal(es)
		if err != nil {
			return fmt.Errorf("failed to marshal episode state %s: %w", id, err)
		}
		episodes[id] = string(data)
	}

	storyFlags := make(map[string]any, len(ps.Flags))
	for key, v := range ps.Flags {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal story flag %s: %w", key, err)
		}
		storyFlags[key] = string(data)
	}

	meta, err := json.Marshal(metaOf(ps))
	if err != nil {
		return fmt.Errorf("failed to marshal player meta: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, episodeStatePrefix+ps.PlayerID, storyFlagsPrefix+ps.PlayerID)
		if len(episodes) > 0 {
			pipe.HSet(ctx, episodeStatePrefix+ps.PlayerID, episodes)
		}
		if len(storyFlags) > 0 {
			pipe.HSet(ctx, storyFlagsPrefix+ps.PlayerID, storyFlags)
		}
		pipe.Set(ctx, playerMetaPrefix+ps.PlayerID, string(meta), 0)
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save player state", "player_id", ps.PlayerID, "error", err)
		return fmt.Errorf("failed to save player state: %w", err)
	}
	return nil
}

func (r *RedisStorage) DeletePlayerState(ctx context.Context, playerID string) error {
	cmd := r.client.Del(ctx,
		episodeStatePrefix+playerID,
		storyFlagsPrefix+playerID,
		playerMetaPrefix+playerID)
	if err := cmd.Err(); err != nil {
		r.logger.Error("Failed to delete player state", "player_id", playerID, "error", err)
		return fmt.Errorf("failed to delete player state: %w", err)
	}
	return nil
}

// Profile operations

func (r *RedisStorage) LoadProfile(ctx context.Context, playerID string) (*state.Profile, error) {
	data, err := r.client.Get(ctx, profilePrefix+playerID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Return nil for not found
		}
		r.logger.Error("Failed to load profile", "player_id", playerID, "error", err)
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var profile state.Profile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}

func (r *RedisStorage) SaveProfile(ctx context.Context, profile *state.Profile) error {
	if profile == nil || profile.PlayerID == "" {
		return errors.New("profile requires a player id")
	}
	profile.UpdatedAt = time.Now()

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := r.client.Set(ctx, profilePrefix+profile.PlayerID, string(data), 0).Err(); err != nil {
		r.logger.Error("Failed to save profile", "player_id", profile.PlayerID, "error", err)
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
