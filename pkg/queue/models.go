package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/episode-engine/pkg/episode"
)

// Request is one gameplay event waiting in a player's queue
type Request struct {
	RequestID  string        `json:"request_id"`
	PlayerID   string        `json:"player_id"`
	Event      episode.Event `json:"event"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// NewRequest wraps an event for queueing. An event without an ID gets the request ID,
// so a redelivered request is recognized as a duplicate.
func NewRequest(playerID string, ev episode.Event) *Request {
	id := uuid.New().String()
	if ev.ID == "" {
		ev.ID = id
	}
	return &Request{
		RequestID:  id,
		PlayerID:   playerID,
		Event:      ev,
		EnqueuedAt: time.Now(),
	}
}

// ToJSON converts the request to JSON bytes for Redis
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes
func FromJSON(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
