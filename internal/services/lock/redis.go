// Package lock holds the per-player lock shared by every process that mutates
// player state.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL   = 30 * time.Second
	DefaultWait  = 10 * time.Second
	retryBackoff = 25 * time.Millisecond
)

// ErrTimeout is returned when another holder keeps the lock past the wait limit.
var ErrTimeout = errors.New("timed out waiting for player lock")

// Only delete if we own the lock
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker hands out player locks as SET NX PX keys. Each acquisition writes its
// own token, and release only deletes the key while it still holds that token.
type RedisLocker struct {
	rdb     *redis.Client
	logger  *slog.Logger
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
}

func NewRedisLocker(rdb *redis.Client, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:     rdb,
		logger:  logger,
		ttl:     DefaultTTL,
		wait:    DefaultWait,
		backoff: retryBackoff,
	}
}

// WithTTL sets how long a lock survives a crashed holder.
// Returns the RedisLocker for method chaining
func (l *RedisLocker) WithTTL(ttl time.Duration) *RedisLocker {
	if ttl > 0 {
		l.ttl = ttl
	}
	return l
}

// WithWait sets how long Lock retries before giving up.
// Returns the RedisLocker for method chaining
func (l *RedisLocker) WithWait(wait time.Duration) *RedisLocker {
	if wait > 0 {
		l.wait = wait
	}
	return l
}

// Lock blocks until playerID's lock is held, ctx ends or the wait limit passes.
// The returned func releases the lock and is safe to call once.
func (l *RedisLocker) Lock(ctx context.Context, playerID string) (func(), error) {
	key := Key(playerID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire player lock: %w", err)
		}
		if ok {
			return func() { l.release(ctx, key, token) }, nil
		}
		if time.Now().After(deadline) {
			l.logger.Warn("Player lock wait exceeded", "player_id", playerID, "wait", l.wait)
			return nil, ErrTimeout
		}

		timer := time.NewTimer(l.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) release(ctx context.Context, key, token string) {
	// Release even when the caller's context is done, so the player is not stuck until the TTL
	if err := releaseScript.Run(context.WithoutCancel(ctx), l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Error("Failed to release player lock", "error", err, "key", key)
	}
}

// Key is the Redis key guarding playerID's state.
func Key(playerID string) string {
	return fmt.Sprintf("player-lock:%s", playerID)
}
