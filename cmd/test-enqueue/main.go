package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jwebster45206/episode-engine/internal/config"
	"github.com/jwebster45206/episode-engine/internal/services/queue"
	"github.com/jwebster45206/episode-engine/pkg/episode"
	queuePkg "github.com/jwebster45206/episode-engine/pkg/queue"
)

// Enqueues a short run of gameplay events for one player, for watching the worker.
// Usage: test-enqueue [player_id]
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	playerID := "test-player"
	if len(os.Args) > 1 {
		playerID = os.Args[1]
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := queue.NewClient(ctx, cfg.RedisURL, logger)
	if err != nil {
		log.Fatal("Failed to connect to Redis: ", err)
	}
	defer client.Close()

	fmt.Println("Connected to Redis successfully!")

	pq := queue.NewPlayerQueue(client)

	sample := []episode.Event{
		{Kind: episode.EventLocationChange, Location: "harbor"},
		{Kind: episode.EventDialogueComplete, Target: "keeper_intro"},
		{Kind: episode.EventItemObtained, Target: "lamp_oil"},
		{Kind: episode.EventTick, TimeOfDay: "night"},
	}
	for _, ev := range sample {
		req := queuePkg.NewRequest(playerID, ev)
		if err := pq.Enqueue(ctx, req); err != nil {
			log.Fatal("Failed to enqueue request: ", err)
		}
		fmt.Printf("✅ Enqueued %s event: %s\n", ev.Kind, req.RequestID)
	}

	depth, err := pq.Depth(ctx, playerID)
	if err != nil {
		log.Fatal("Failed to get queue depth: ", err)
	}

	fmt.Printf("\n📊 Queue depth for %s: %d requests\n", playerID, depth)
	fmt.Println("\n💡 Now start the worker to see it process these requests!")
	fmt.Println("   Run: go run ./cmd/worker")
}
