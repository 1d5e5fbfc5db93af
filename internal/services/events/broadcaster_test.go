package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_PublishesToPlayerChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, Channel("p1"))
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	b := NewBroadcaster(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, b.SetMood(ctx, "p1", "wistful"))
	require.NoError(t, b.PublishEpisodeCompleted(ctx, "p1", "harbor"))

	var got []Event
	for range 2 {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		assert.Equal(t, "player-events:p1", msg.Channel)

		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		got = append(got, ev)
	}

	assert.Equal(t, EventTypeCharacterMood, got[0].Type)
	assert.Equal(t, "p1", got[0].PlayerID)
	assert.Equal(t, "wistful", got[0].Data["mood"])
	assert.Equal(t, EventTypeEpisodeCompleted, got[1].Type)
	assert.Equal(t, "harbor", got[1].Data["episode_id"])
}

func TestBroadcaster_PublishFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	b := NewBroadcaster(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := b.ShowNotification(context.Background(), "p1", "Hi", "", "info")
	assert.Error(t, err)
}
