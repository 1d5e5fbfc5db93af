package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwebster45206/episode-engine/pkg/queue"
	"github.com/redis/go-redis/v9"
)

const readyPlayersKey = "ready-players"

// PlayerQueue keeps one FIFO list of requests per player, plus a shared list of
// "ready" tokens naming players with work waiting. Workers block on the tokens and
// drain a player's list under that player's lock, so events for one player are
// applied in order while different players proceed in parallel.
type PlayerQueue struct {
	client *Client
}

func NewPlayerQueue(client *Client) *PlayerQueue {
	return &PlayerQueue{
		client: client,
	}
}

func queueKey(playerID string) string {
	return fmt.Sprintf("player-queue:%s", playerID)
}

// Enqueue appends a request to the player's queue and marks the player ready
func (pq *PlayerQueue) Enqueue(ctx context.Context, req *queue.Request) error {
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}

	_, err = pq.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, queueKey(req.PlayerID), data)
		pipe.RPush(ctx, readyPlayersKey, req.PlayerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	pq.client.logger.Debug("Request enqueued", "player_id", req.PlayerID, "request_id", req.RequestID)
	return nil
}

// NextPlayer blocks until a player is ready or timeout passes.
// Returns "" when the timeout expires with nothing ready.
func (pq *PlayerQueue) NextPlayer(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := pq.client.rdb.BLPop(ctx, timeout, readyPlayersKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to wait for ready player: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return "", fmt.Errorf("unexpected BLPop result: %v", result)
	}
	return result[1], nil
}

// Pop removes and returns the player's oldest request.
// Returns nil if the queue is empty.
func (pq *PlayerQueue) Pop(ctx context.Context, playerID string) (*queue.Request, error) {
	result, err := pq.client.rdb.LPop(ctx, queueKey(playerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Queue is empty
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}

	req, err := queue.FromJSON([]byte(result))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// MarkReady adds a ready token for the player
func (pq *PlayerQueue) MarkReady(ctx context.Context, playerID string) error {
	if err := pq.client.rdb.RPush(ctx, readyPlayersKey, playerID).Err(); err != nil {
		return fmt.Errorf("failed to mark player ready: %w", err)
	}
	return nil
}

// Depth returns the number of requests queued for a player
func (pq *PlayerQueue) Depth(ctx context.Context, playerID string) (int, error) {
	count, err := pq.client.rdb.LLen(ctx, queueKey(playerID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(count), nil
}

// Clear removes all queued requests for a player
func (pq *PlayerQueue) Clear(ctx context.Context, playerID string) error {
	if err := pq.client.rdb.Del(ctx, queueKey(playerID)).Err(); err != nil {
		return fmt.Errorf("failed to clear player queue: %w", err)
	}
	return nil
}
