package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/episode-engine/pkg/episode"
	"github.com/jwebster45206/episode-engine/pkg/state"
)

var (
	ErrUnknownAction    = errors.New("unknown action kind")
	ErrInvalidParams    = errors.New("action parameters do not match kind")
	ErrNoCollaborator   = errors.New("no collaborator configured")
	ErrProfileNotFound  = errors.New("player profile not found")
	ErrFlagNotIncrement = errors.New("flag cannot be incremented")
)

type call func(ctx context.Context, player *state.PlayerState, pending state.PendingAction) error

// route binds one action kind to exactly one collaborator call.
type route struct {
	collaborator string
	ready        func() bool
	call         call
}

// Dispatcher translates actions into collaborator calls. It holds nothing beyond its routing table.
type Dispatcher struct {
	c      Collaborators
	routes map[episode.ActionKind]route
	logger *slog.Logger
	now    func() time.Time
}

// New builds the routing table over the given collaborators.
func New(c Collaborators, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{c: c, logger: logger, now: time.Now}
	d.routes = d.buildRoutes()
	return d
}

// Check verifies that every known action kind has a route to a configured collaborator.
func (d *Dispatcher) Check() error {
	var errs []error
	for _, kind := range episode.ActionKinds() {
		r, ok := d.routes[kind]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%w: %s has no route", ErrUnknownAction, kind))
		case !r.ready():
			errs = append(errs, fmt.Errorf("%w: %s needs %s", ErrNoCollaborator, kind, r.collaborator))
		}
	}
	return errors.Join(errs...)
}

// Supports reports whether kind has a route.
func (d *Dispatcher) Supports(kind episode.ActionKind) bool {
	_, ok := d.routes[kind]
	return ok
}

// Dispatch executes one action for a player. Failures are logged and reported, never raised.
func (d *Dispatcher) Dispatch(ctx context.Context, player *state.PlayerState, pending state.PendingAction) state.ActionResult {
	kind := pending.Action.Kind
	result := state.ActionResult{Kind: kind}

	r, ok := d.routes[kind]
	switch {
	case !ok:
		result.Err = fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	case !r.ready():
		result.Err = fmt.Errorf("%w: %s", ErrNoCollaborator, r.collaborator)
	default:
		result.Err = r.call(ctx, player, pending)
	}

	if result.Err != nil {
		d.logger.Warn("Action dispatch failed",
			"player_id", player.PlayerID,
			"episode_id", pending.EpisodeID,
			"beat_id", pending.BeatID,
			"action_index", pending.Index,
			"action_kind", kind,
			"error", result.Err)
		return result
	}

	result.OK = true
	d.logger.Debug("Action dispatched",
		"player_id", player.PlayerID,
		"episode_id", pending.EpisodeID,
		"beat_id", pending.BeatID,
		"action_kind", kind)
	return result
}

// Runner binds the dispatcher to one player's state for the state machine.
func (d *Dispatcher) Runner(player *state.PlayerState) state.ActionRunner {
	return state.ActionRunnerFunc(func(ctx context.Context, pending state.PendingAction) state.ActionResult {
		return d.Dispatch(ctx, player, pending)
	})
}

// IdempotencyKey identifies one authored action instance for one player.
func IdempotencyKey(playerID string, pending state.PendingAction) string {
	return fmt.Sprintf("%s:%s:%d:%d", playerID, pending.EpisodeID, pending.BeatID, pending.Index)
}

func paramsOf[T episode.Params](pending state.PendingAction) (T, error) {
	p, ok := pending.Action.Params.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s has %T", ErrInvalidParams, pending.Action.Kind, pending.Action.Params)
	}
	return p, nil
}

// typed adapts a call taking concrete params into a route call.
func typed[T episode.Params](fn func(ctx context.Context, player *state.PlayerState, pending state.PendingAction, p T) error) call {
	return func(ctx context.Context, player *state.PlayerState, pending state.PendingAction) error {
		p, err := paramsOf[T](pending)
		if err != nil {
			return err
		}
		return fn(ctx, player, pending, p)
	}
}
