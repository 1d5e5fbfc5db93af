// Package app wires the runtime shared by the API server and the worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/episode-engine/internal/config"
	"github.com/jwebster45206/episode-engine/internal/dispatch"
	"github.com/jwebster45206/episode-engine/internal/handlers"
	"github.com/jwebster45206/episode-engine/internal/middleware"
	"github.com/jwebster45206/episode-engine/internal/router"
	"github.com/jwebster45206/episode-engine/internal/services"
	"github.com/jwebster45206/episode-engine/internal/services/events"
	"github.com/jwebster45206/episode-engine/internal/services/lock"
	"github.com/jwebster45206/episode-engine/internal/services/queue"
	"github.com/jwebster45206/episode-engine/internal/storage"
	"github.com/jwebster45206/episode-engine/pkg/episode"
	"github.com/jwebster45206/episode-engine/pkg/priority"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Logger      *slog.Logger
	Redis       *redis.Client
	Storage     storage.Storage
	Catalog     *episode.Catalog
	Broadcaster *events.Broadcaster
	Ledger      *services.Ledger
	Router      *router.Router
	Queue       *queue.PlayerQueue

	queueClient *queue.Client
}

// Build connects to Redis and the configured storage backend, loads the catalog and
// assembles the router. Redis is always required: it holds the player queues and the
// player locks both binaries share, and carries the event channels the default
// collaborators publish to.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	queueClient, err := queue.NewClient(ctx, cfg.RedisURL, log)
	if err != nil {
		return nil, err
	}
	rdb := queueClient.GetRedisClient()

	store, err := openStorage(ctx, cfg, rdb, log)
	if err != nil {
		queueClient.Close()
		return nil, err
	}

	// Rejected episodes are logged by the loader and left out of the catalog
	catalog, _, err := storage.LoadCatalog(cfg.CatalogDir, log)
	if err != nil {
		store.Close()
		queueClient.Close()
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	broadcaster := events.NewBroadcaster(rdb, log)
	ledger := services.NewLedger(store, log)
	dispatcher := dispatch.New(dispatch.Collaborators{
		Profiles:  ledger,
		Quests:    broadcaster,
		Character: broadcaster,
		Scenes:    broadcaster,
		Messages:  broadcaster,
		World:     broadcaster,
		Rewards:   ledger,
		Memory:    broadcaster,
		Notifier:  broadcaster,
	}, log)
	if err := dispatcher.Check(); err != nil {
		store.Close()
		queueClient.Close()
		return nil, fmt.Errorf("incomplete action routing: %w", err)
	}

	weights := priority.TierWeights{
		Primary:    cfg.PrimaryWeight,
		Secondary:  cfg.SecondaryWeight,
		Background: cfg.BackgroundWeight,
	}
	rt := router.New(catalog, store, dispatcher, ledger, priority.NewManager(catalog, weights), log).
		WithMaxCascade(cfg.MaxCascadeDepth).
		WithSeenEventLimit(cfg.SeenEventLimit).
		WithMemoryLimit(cfg.MemoryLimit).
		WithProgressPublisher(broadcaster).
		WithLocker(lock.NewRedisLocker(rdb, log).WithTTL(cfg.PlayerLockTTL).WithWait(cfg.PlayerLockWait))

	return &App{
		Logger:      log,
		Redis:       rdb,
		Storage:     store,
		Catalog:     catalog,
		Broadcaster: broadcaster,
		Ledger:      ledger,
		Router:      rt,
		Queue:       queue.NewPlayerQueue(queueClient),
		queueClient: queueClient,
	}, nil
}

func openStorage(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		s := storage.NewRedisStorageWithClient(rdb, log)
		if err := s.WaitForConnection(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to storage: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		return storage.OpenSQLiteStorage(cfg.SQLitePath, log)
	case config.BackendMemory:
		log.Warn("Using in-memory storage, player state is lost on restart")
		return storage.NewMockStorage(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// Handler builds the HTTP API over the runtime, wrapped in request logging.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", handlers.NewHealthHandler(map[string]handlers.Pinger{
		"storage": a.Storage,
		"redis":   redisPinger{a.Redis},
	}, a.Catalog.Len(), a.Logger))

	episodeHandler := handlers.NewEpisodeHandler(a.Catalog, a.Logger)
	mux.Handle("/v1/episodes", episodeHandler)
	mux.Handle("/v1/episodes/", episodeHandler)

	playerHandler := handlers.NewPlayerHandler(a.Router, a.Storage, a.Logger).
		WithQueue(a.Queue, a.Broadcaster)
	mux.Handle("/v1/players/", playerHandler)

	mux.Handle("/v1/events/players/", handlers.NewEventsHandler(a.Redis, a.Logger))

	return middleware.Logger(a.Logger, mux)
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close releases the storage backend and the Redis connection.
func (a *App) Close() {
	// Redis storage shares the queue client's connection, which is closed below
	if _, shared := a.Storage.(*storage.RedisStorage); !shared {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Error("Error closing storage", "error", err)
		}
	}
	if err := a.queueClient.Close(); err != nil {
		a.Logger.Error("Error closing Redis client", "error", err)
	}
}
