package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/episode-engine/internal/dispatch"
	"github.com/jwebster45206/episode-engine/internal/storage"
	"github.com/jwebster45206/episode-engine/pkg/state"
)

// Ledger is the default reward ledger and profile store. It applies grants to the
// stored profile and remembers their idempotency keys, so a retried grant is a no-op.
type Ledger struct {
	store  storage.Storage
	logger *slog.Logger
}

var (
	_ dispatch.RewardLedger = (*Ledger)(nil)
	_ dispatch.ProfileStore = (*Ledger)(nil)
)

func NewLedger(store storage.Storage, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
	}
}

func (l *Ledger) LoadProfile(ctx context.Context, playerID string) (*state.Profile, error) {
	return l.store.LoadProfile(ctx, playerID)
}

func (l *Ledger) SaveProfile(ctx context.Context, profile *state.Profile) error {
	return l.store.SaveProfile(ctx, profile)
}

// Grant applies every component of g in a single profile save.
func (l *Ledger) Grant(ctx context.Context, playerID string, g dispatch.Grant) error {
	profile, err := l.store.LoadProfile(ctx, playerID)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return dispatch.ErrProfileNotFound
	}

	if profile.HasGrant(g.IdempotencyKey) {
		l.logger.Debug("Grant already applied", "player_id", playerID, "idempotency_key", g.IdempotencyKey)
		return nil
	}

	profile.Gold += g.Gold
	profile.Experience += g.Experience
	profile.Affection += g.AffectionDelta
	for _, item := range g.Items {
		profile.AddItem(item)
	}
	profile.RecordGrant(g.IdempotencyKey)

	if err := l.store.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	l.logger.Info("Reward granted",
		"player_id", playerID,
		"gold", g.Gold,
		"experience", g.Experience,
		"items", len(g.Items),
		"affection_delta", g.AffectionDelta)
	return nil
}
