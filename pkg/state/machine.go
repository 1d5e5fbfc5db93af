package state

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jwebster45206/episode-engine/pkg/conditionals"
	"github.com/jwebster45206/episode-engine/pkg/episode"
)

// DefaultMaxCascade bounds how many beats a single call may advance or skip.
const DefaultMaxCascade = 16

var (
	ErrNotAvailable = errors.New("episode is not available")
	ErrCompleted    = errors.New("episode is already completed")

	errNoRunner = errors.New("no action runner configured")
)

// Machine drives one episode instance through its beats for one player.
// It mutates the EpisodeState it was built with; callers own persistence and serialization.
type Machine struct {
	def        *episode.Definition
	st         *EpisodeState
	logger     *slog.Logger
	now        func() time.Time
	maxCascade int
}

// NewMachine binds a definition to its runtime state.
func NewMachine(def *episode.Definition, st *EpisodeState, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		def:        def,
		st:         st,
		logger:     logger,
		now:        time.Now,
		maxCascade: DefaultMaxCascade,
	}
}

// WithClock sets the clock used when an event carries no timestamp.
// Returns the Machine for method chaining
func (m *Machine) WithClock(now func() time.Time) *Machine {
	if now != nil {
		m.now = now
	}
	return m
}

// WithMaxCascade sets the cascade depth limit. Values below 1 keep the default.
// Returns the Machine for method chaining
func (m *Machine) WithMaxCascade(n int) *Machine {
	if n > 0 {
		m.maxCascade = n
	}
	return m
}

func (m *Machine) State() *EpisodeState            { return m.st }
func (m *Machine) Definition() *episode.Definition { return m.def }

// EvaluatePrerequisite reports whether the player currently meets the episode's prerequisite.
func (m *Machine) EvaluatePrerequisite(view conditionals.PlayerView) bool {
	return conditionals.EvaluatePrerequisite(m.def.Prerequisite, view)
}

// MakeAvailable moves an inactive episode to available. It reports whether a transition happened.
func (m *Machine) MakeAvailable() bool {
	if m.st.Lifecycle != LifecycleInactive {
		return false
	}
	m.st.Lifecycle = LifecycleAvailable
	return true
}

// Activate moves an available episode to active and processes its first beat as if the
// previous beat had just completed. Activating an active episode is a no-op.
func (m *Machine) Activate(ctx context.Context, runner ActionRunner) (EffectBatch, error) {
	batch := m.newBatch()
	switch m.st.Lifecycle {
	case LifecycleActive:
		return batch, nil
	case LifecycleCompleted:
		return batch, ErrCompleted
	case LifecycleAvailable:
	default:
		return batch, ErrNotAvailable
	}

	now := m.now()
	m.st.Lifecycle = LifecycleActive
	m.st.ActivatedAt = now
	m.enterBeat(0, now)
	m.logger.Info("Episode activated", "episode_id", m.def.ID)

	m.run(ctx, nil, now, runner, &batch)
	batch.ToBeat = m.st.CurrentBeat
	return batch, nil
}

// OnEvent evaluates the current beat against a gameplay event. Returns an empty batch
// unless the episode is active.
func (m *Machine) OnEvent(ctx context.Context, ev episode.Event, runner ActionRunner) EffectBatch {
	batch := m.newBatch()
	if m.st.Lifecycle != LifecycleActive || !ev.Kind.IsKnown() {
		return batch
	}
	at := ev.At
	if at.IsZero() {
		at = m.now()
	}
	if m.matchesPassedBeat(ev, at) {
		batch.Ignored = true
		return batch
	}

	m.run(ctx, &ev, at, runner, &batch)
	batch.ToBeat = m.st.CurrentBeat
	return batch
}

func (m *Machine) newBatch() EffectBatch {
	return EffectBatch{
		EpisodeID: m.def.ID,
		FromBeat:  m.st.CurrentBeat,
		ToBeat:    m.st.CurrentBeat,
	}
}

// run is the beat loop. ev is nil when there is no event or once a completion has consumed it.
func (m *Machine) run(ctx context.Context, ev *episode.Event, at time.Time, runner ActionRunner, batch *EffectBatch) {
	steps := 0
	for {
		beat := m.def.Beat(m.st.CurrentBeat)
		if beat == nil {
			m.complete(at, batch)
			return
		}

		if ev != nil && beat.Optional && len(m.st.PendingActions) == 0 && !m.currentWants(beat, ev, at) && m.nextWants(ev, at) {
			if steps >= m.maxCascade {
				m.capped(batch)
				return
			}
			m.st.SkippedBeats = append(m.st.SkippedBeats, beat.ID)
			batch.Skipped = append(batch.Skipped, beat.ID)
			m.logger.Debug("Optional beat skipped", "episode_id", m.def.ID, "beat_id", beat.ID)
			m.enterBeat(m.st.CurrentBeat+1, at)
			steps++
			continue
		}

		switch {
		case !m.st.ActionsFired:
			if !m.triggerMatches(beat.Trigger, ev, at) {
				return
			}
			m.st.ActionsFired = true
			m.st.FiredBeats = append(m.st.FiredBeats, beat.ID)
			m.fire(ctx, beat, allIndices(len(beat.Actions)), runner, batch)
		case len(m.st.PendingActions) > 0:
			m.fire(ctx, beat, m.st.PendingActions, runner, batch)
		}

		if len(m.st.PendingActions) > 0 {
			// Held: required actions must succeed first. A matching completion event is remembered.
			if ev != nil && beat.Completion.Kind.IsEventDriven() && m.completionMatches(beat.Completion, *ev) {
				m.st.CompletionSeen = true
			}
			m.logger.Info("Beat held for required actions",
				"episode_id", m.def.ID,
				"beat_id", beat.ID,
				"pending", len(m.st.PendingActions))
			return
		}

		consumed := false
		switch {
		case !beat.Completion.Kind.IsEventDriven(), m.st.CompletionSeen:
		case ev != nil && m.completionMatches(beat.Completion, *ev):
			ev = nil
			consumed = true
		default:
			return
		}

		if steps >= m.maxCascade {
			// The event is spent; the deferred completion must survive to the next call
			if consumed {
				m.st.CompletionSeen = true
			}
			m.capped(batch)
			return
		}
		m.st.CompletedBeats = append(m.st.CompletedBeats, beat.ID)
		batch.Advanced = append(batch.Advanced, beat.ID)
		steps++

		if beat.Completion.Kind == episode.CompletionEndEpisode || m.st.CurrentBeat >= m.def.LastBeatIndex() {
			m.st.CurrentBeat = len(m.def.Beats)
			m.complete(at, batch)
			return
		}
		m.enterBeat(m.st.CurrentBeat+1, at)
	}
}

func (m *Machine) capped(batch *EffectBatch) {
	batch.Capped = true
	m.logger.Warn("Cascade depth reached, deferring remaining beats",
		"episode_id", m.def.ID,
		"beat_index", m.st.CurrentBeat,
		"max_cascade", m.maxCascade)
}

func (m *Machine) enterBeat(index int, at time.Time) {
	m.st.CurrentBeat = index
	m.st.ActionsFired = false
	m.st.PendingActions = nil
	m.st.CompletionSeen = false
	m.st.BeatStartedAt = at
}

func (m *Machine) complete(at time.Time, batch *EffectBatch) {
	m.st.Lifecycle = LifecycleCompleted
	m.st.CompletedAt = at
	m.st.ActionsFired = false
	m.st.PendingActions = nil
	m.st.CompletionSeen = false
	m.st.Tier = TierNone
	m.st.Weight = 0
	batch.Completed = true
	m.logger.Info("Episode completed", "episode_id", m.def.ID)
}

// fire runs the given actions of beat in order. Failed actions named in the beat's
// completion requirements stay pending; other failures are only reported.
func (m *Machine) fire(ctx context.Context, beat *episode.Beat, indices []int, runner ActionRunner, batch *EffectBatch) {
	var pending []int
	for _, i := range indices {
		if i < 0 || i >= len(beat.Actions) {
			continue
		}
		action := beat.Actions[i]
		var res ActionResult
		if runner == nil {
			res = ActionResult{Kind: action.Kind, Err: errNoRunner}
		} else {
			res = runner.Run(ctx, PendingAction{
				EpisodeID: m.def.ID,
				BeatID:    beat.ID,
				Index:     i,
				Action:    action,
			})
		}

		fired := FiredAction{BeatID: beat.ID, Index: i, Kind: action.Kind, OK: res.OK}
		if res.Err != nil {
			fired.Error = res.Err.Error()
		}
		batch.Fired = append(batch.Fired, fired)

		if !res.OK && beat.Completion.RequiresAction(action.Kind) {
			pending = append(pending, i)
		}
	}
	m.st.PendingActions = pending
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// triggerMatches tests a trigger. Event-driven triggers need a live event.
func (m *Machine) triggerMatches(t episode.Trigger, ev *episode.Event, at time.Time) bool {
	switch t.Kind {
	case episode.TriggerImmediate, episode.TriggerPreviousBeatComplete:
		return true
	}
	if ev == nil {
		return false
	}
	switch t.Kind {
	case episode.TriggerPlayerAction:
		return ev.Kind == episode.EventPlayerAction && (t.Action == "" || conditionals.MatchID(ev.Target, t.Action))
	case episode.TriggerLocationEnter:
		return ev.Kind == episode.EventLocationChange && conditionals.MatchID(eventLocation(*ev), t.Location)
	case episode.TriggerTimeCondition:
		if t.AfterSeconds > 0 && at.Before(m.st.BeatStartedAt.Add(time.Duration(t.AfterSeconds)*time.Second)) {
			return false
		}
		return t.TimeOfDay == "" || conditionals.MatchID(ev.TimeOfDay, t.TimeOfDay)
	}
	return false
}

func (m *Machine) completionMatches(c episode.Completion, ev episode.Event) bool {
	switch c.Kind {
	case episode.CompletionPlayerAccepts:
		return ev.Kind == episode.EventPlayerResponse && ev.Accepted && targetMatches(ev.Target, c.Target)
	case episode.CompletionDialogueComplete:
		return ev.Kind == episode.EventDialogueComplete && targetMatches(ev.Target, c.Target)
	case episode.CompletionBossDefeated:
		return ev.Kind == episode.EventCombatOutcome && ev.Victory && targetMatches(ev.Target, c.Target)
	case episode.CompletionLocationVisited:
		return ev.Kind == episode.EventLocationChange && conditionals.MatchID(eventLocation(ev), c.Target)
	case episode.CompletionItemObtained:
		return ev.Kind == episode.EventItemObtained && targetMatches(ev.Target, c.Target)
	case episode.CompletionActivityCompleted:
		return ev.Kind == episode.EventActivityComplete && targetMatches(ev.Target, c.Target)
	}
	return false
}

// currentWants reports whether the event could move the current beat itself, through its
// completion or an unfired event-driven trigger.
func (m *Machine) currentWants(beat *episode.Beat, ev *episode.Event, at time.Time) bool {
	if beat.Completion.Kind.IsEventDriven() && m.completionMatches(beat.Completion, *ev) {
		return true
	}
	if m.st.ActionsFired {
		return false
	}
	switch beat.Trigger.Kind {
	case episode.TriggerPlayerAction, episode.TriggerLocationEnter, episode.TriggerTimeCondition:
		return m.triggerMatches(beat.Trigger, ev, at)
	}
	return false
}

// nextWants reports whether the event would satisfy the following beat's event-driven
// trigger or completion.
func (m *Machine) nextWants(ev *episode.Event, at time.Time) bool {
	next := m.def.Beat(m.st.CurrentBeat + 1)
	if next == nil {
		return false
	}
	if next.Trigger.Kind.IsEventDriven() && next.Trigger.Kind != episode.TriggerTimeCondition && m.triggerMatches(next.Trigger, ev, at) {
		return true
	}
	return next.Completion.Kind.IsEventDriven() && m.completionMatches(next.Completion, *ev)
}

// matchesPassedBeat reports whether the event replays the completion of a beat already
// behind the current one, and is not wanted by the current beat or by the beat an
// optional current beat would be skipped to.
func (m *Machine) matchesPassedBeat(ev episode.Event, at time.Time) bool {
	if current := m.def.Beat(m.st.CurrentBeat); current != nil {
		if m.currentWants(current, &ev, at) {
			return false
		}
		if current.Optional && len(m.st.PendingActions) == 0 && m.nextWants(&ev, at) {
			return false
		}
	}
	for i := 0; i < m.st.CurrentBeat && i < len(m.def.Beats); i++ {
		c := m.def.Beats[i].Completion
		if c.Kind.IsEventDriven() && m.completionMatches(c, ev) {
			return true
		}
	}
	return false
}

func targetMatches(have, want string) bool {
	return want == "" || conditionals.MatchID(have, want)
}

func eventLocation(ev episode.Event) string {
	if ev.Location != "" {
		return ev.Location
	}
	return ev.Target
}
