package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/episode-engine/internal/router"
	"github.com/jwebster45206/episode-engine/internal/services/queue"
	"github.com/jwebster45206/episode-engine/pkg/episode"
	queuePkg "github.com/jwebster45206/episode-engine/pkg/queue"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPollTimeout = 5 * time.Second
	defaultLockTTL     = 30 * time.Second
	defaultBatchSize   = 32
	lockRetryDelay     = 100 * time.Millisecond
)

// Only delete if we own the lock
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// EventSubmitter applies one gameplay event for a player.
type EventSubmitter interface {
	Submit(ctx context.Context, playerID string, ev episode.Event) (*router.Summary, error)
}

// LifecyclePublisher reports request progress to subscribers.
type LifecyclePublisher interface {
	PublishRequestProcessing(ctx context.Context, playerID, requestID, eventKind string) error
	PublishRequestCompleted(ctx context.Context, playerID, requestID string, result any) error
	PublishRequestFailed(ctx context.Context, playerID, requestID, errorMsg string) error
}

// Worker drains player queues. A player's queue is only drained by the worker
// holding that player's drain lock, so one player's events apply in order. State
// mutations are serialized separately by the router's player lock, which the API
// process takes as well.
type Worker struct {
	id          string
	queue       *queue.PlayerQueue
	submitter   EventSubmitter
	publisher   LifecyclePublisher
	redisClient *redis.Client
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc

	pollTimeout time.Duration
	lockTTL     time.Duration
	batchSize   int
	retryDelay  time.Duration
}

// New creates a new worker instance
func New(playerQueue *queue.PlayerQueue, submitter EventSubmitter, publisher LifecyclePublisher, redisClient *redis.Client, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		queue:       playerQueue,
		submitter:   submitter,
		publisher:   publisher,
		redisClient: redisClient,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		pollTimeout: defaultPollTimeout,
		lockTTL:     defaultLockTTL,
		batchSize:   defaultBatchSize,
		retryDelay:  lockRetryDelay,
	}
}

// WithLockTTL sets how long a drain lock survives a crashed worker.
// Returns the Worker for method chaining
func (w *Worker) WithLockTTL(ttl time.Duration) *Worker {
	if ttl > 0 {
		w.lockTTL = ttl
	}
	return w
}

// WithPollTimeout sets how long the worker blocks waiting for a ready player
// before rechecking for shutdown.
// Returns the Worker for method chaining
func (w *Worker) WithPollTimeout(d time.Duration) *Worker {
	if d > 0 {
		w.pollTimeout = d
	}
	return w
}

// WithBatchSize caps the requests drained per lock hold, so a busy player
// cannot starve the others.
// Returns the Worker for method chaining
func (w *Worker) WithBatchSize(n int) *Worker {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

func (w *Worker) ID() string { return w.id }

// Start begins processing requests from the queue
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "worker_id", w.id)

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			return nil
		default:
			if err := w.processNext(); err != nil {
				w.log.Error("Error processing player queue", "error", err, "worker_id", w.id)
				// Continue processing even on error
				w.pause(time.Second)
			}
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

// processNext waits for a ready player and drains a batch of their queue.
func (w *Worker) processNext() error {
	playerID, err := w.queue.NextPlayer(w.ctx, w.pollTimeout)
	if err != nil {
		if w.ctx.Err() != nil {
			return nil
		}
		return err
	}
	if playerID == "" {
		// Timeout with nothing ready, this is normal
		return nil
	}

	locked, err := w.acquirePlayerLock(playerID)
	if err != nil {
		return fmt.Errorf("failed to acquire drain lock: %w", err)
	}
	if !locked {
		// Another worker is draining this player. Put the token back in case it
		// finishes before seeing the newest request.
		w.log.Debug("Player already locked, re-marking ready", "worker_id", w.id, "player_id", playerID)
		w.pause(w.retryDelay)
		return w.remark(playerID)
	}
	defer w.releasePlayerLock(playerID)

	return w.drain(playerID)
}

// drain processes up to batchSize requests for one player, oldest first.
func (w *Worker) drain(playerID string) error {
	for range w.batchSize {
		req, err := w.queue.Pop(w.ctx, playerID)
		if err != nil {
			return fmt.Errorf("failed to pop request: %w", err)
		}
		if req == nil {
			return nil
		}
		w.processRequest(req)
	}
	return w.remark(playerID)
}

// remark puts the player's ready token back when requests remain.
func (w *Worker) remark(playerID string) error {
	depth, err := w.queue.Depth(w.ctx, playerID)
	if err != nil {
		return err
	}
	if depth == 0 {
		return nil
	}
	return w.queue.MarkReady(w.ctx, playerID)
}

// acquirePlayerLock attempts to acquire a lock for a player
// Returns true if lock was acquired, false if already locked
func (w *Worker) acquirePlayerLock(playerID string) (bool, error) {
	return w.redisClient.SetNX(w.ctx, lockKey(playerID), w.id, w.lockTTL).Result()
}

// releasePlayerLock releases the lock for a player
func (w *Worker) releasePlayerLock(playerID string) {
	// Release even while shutting down, so the player is not stuck until the TTL
	if err := releaseScript.Run(context.WithoutCancel(w.ctx), w.redisClient, []string{lockKey(playerID)}, w.id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		w.log.Error("Failed to release drain lock", "error", err, "player_id", playerID)
	}
}

func lockKey(playerID string) string {
	return fmt.Sprintf("player-drain:%s", playerID)
}

// processRequest applies one queued event and publishes its outcome. Failures are
// reported to subscribers and do not stop the drain.
func (w *Worker) processRequest(req *queuePkg.Request) {
	w.log.Info("Processing request",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"player_id", req.PlayerID,
		"event_kind", req.Event.Kind,
	)

	start := time.Now()

	if err := w.publisher.PublishRequestProcessing(w.ctx, req.PlayerID, req.RequestID, string(req.Event.Kind)); err != nil {
		w.log.Error("Failed to publish processing event", "error", err)
		// Don't fail the request just because event publishing failed
	}

	summary, err := w.submitter.Submit(w.ctx, req.PlayerID, req.Event)
	if err != nil {
		w.log.Error("Failed to apply event",
			"error", err,
			"request_id", req.RequestID,
			"player_id", req.PlayerID,
		)
		if pubErr := w.publisher.PublishRequestFailed(w.ctx, req.PlayerID, req.RequestID, err.Error()); pubErr != nil {
			w.log.Error("Failed to publish failure event", "error", pubErr)
		}
		return
	}

	w.log.Info("Request processed successfully",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"advanced", len(summary.Advanced),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if err := w.publisher.PublishRequestCompleted(w.ctx, req.PlayerID, req.RequestID, summary); err != nil {
		w.log.Error("Failed to publish completion event", "error", err)
	}
}

func (w *Worker) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-w.ctx.Done():
	case <-time.After(d):
	}
}
