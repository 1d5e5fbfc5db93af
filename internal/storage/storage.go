package storage

import (
	"context"
	"time"

	"github.com/jwebster45206/episode-engine/pkg/state"
)

// Storage persists per-player runtime state and profiles.
//
// Logical layout: one episode state row per (player, episode), one story flag row per
// (player, flag), one meta record per player (active set, narrator memory, seen events),
// and one profile per player.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// LoadPlayerState returns the player's state, or a fresh state if none is stored
	LoadPlayerState(ctx context.Context, playerID string) (*state.PlayerState, error)
	SavePlayerState(ctx context.Context, ps *state.PlayerState) error
	DeletePlayerState(ctx context.Context, playerID string) error

	// LoadProfile returns nil if the player has no profile
	LoadProfile(ctx context.Context, playerID string) (*state.Profile, error)
	SaveProfile(ctx context.Context, profile *state.Profile) error
}

// playerMeta is the part of PlayerState that is not keyed by episode or flag.
type playerMeta struct {
	Active     []state.ActiveEntry `json:"active,omitempty"`
	Memory     state.MemoryLog     `json:"memory"`
	SeenEvents []string            `json:"seen_events,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at,omitzero"`
}

func metaOf(ps *state.PlayerState) playerMeta {
	return playerMeta{
		Active:     ps.Active,
		Memory:     ps.Memory,
		SeenEvents: ps.SeenEvents,
		UpdatedAt:  ps.UpdatedAt,
	}
}

func (m playerMeta) applyTo(ps *state.PlayerState) {
	ps.Active = m.Active
	ps.Memory = m.Memory
	ps.SeenEvents = m.SeenEvents
	ps.UpdatedAt = m.UpdatedAt
}
