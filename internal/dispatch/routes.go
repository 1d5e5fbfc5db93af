package dispatch

import (
	"context"
	"fmt"

	"github.com/jwebster45206/episode-engine/pkg/episode"
	"github.com/jwebster45206/episode-engine/pkg/state"
)

// buildRoutes is the routing table. Adding an action kind means adding its entry here.
func (d *Dispatcher) buildRoutes() map[episode.ActionKind]route {
	always := func() bool { return true }
	quests := func() bool { return d.c.Quests != nil }
	character := func() bool { return d.c.Character != nil }
	world := func() bool { return d.c.World != nil }

	return map[episode.ActionKind]route{
		episode.ActionDeliverMessage: {"messenger", func() bool { return d.c.Messages != nil },
			typed(func(ctx context.Context, ps *state.PlayerState, pa state.PendingAction, p *episode.DeliverMessage) error {
				if err := d.c.Messages.DeliverMessage(ctx, ps.PlayerID, p.Speaker, p.Text); err != nil {
					return err
				}
				ps.Memory.Append(state.MemoryEntry{
					Kind:      state.MemoryMessage,
					EpisodeID: pa.EpisodeID,
					BeatID:    pa.BeatID,
					Speaker:   p.Speaker,
					Text:      p.Text,
					At:        d.now(),
				})
				return nil
			})},

		episode.ActionActivateQuest: {"quest system", quests,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.ActivateQuest) error {
				return d.c.Quests.ActivateQuest(ctx, ps.PlayerID, p.QuestID, p.Title, p.Description)
			})},

		episode.ActionSetQuestObjective: {"quest system", quests,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.SetQuestObjective) error {
				return d.c.Quests.SetObjective(ctx, ps.PlayerID, p.QuestID, p.Objective)
			})},

		episode.ActionCompleteQuest: {"quest system", quests,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.CompleteQuest) error {
				return d.c.Quests.CompleteQuest(ctx, ps.PlayerID, p.QuestID)
			})},

		episode.ActionSetMood: {"character control", character,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.SetMood) error {
				return d.c.Character.SetMood(ctx, ps.PlayerID, p.Mood)
			})},

		episode.ActionForceLocation: {"character control", character,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.ForceLocation) error {
				return d.c.Character.ForceLocation(ctx, ps.PlayerID, p.LocationID, p.Reason)
			})},

		episode.ActionClearLocationOverride: {"character control", character,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, _ *episode.ClearLocationOverride) error {
				return d.c.Character.ClearLocationOverride(ctx, ps.PlayerID)
			})},

		episode.ActionSetLocation: {"world", world,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.SetLocation) error {
				return d.c.World.SetLocation(ctx, ps.PlayerID, p.LocationID)
			})},

		episode.ActionStartDialogue: {"scene player", func() bool { return d.c.Scenes != nil },
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.StartDialogue) error {
				return d.c.Scenes.StartScene(ctx, ps.PlayerID, p.DialogueID, p.Context)
			})},

		episode.ActionLoadDungeonEnvironment: {"world", world,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.LoadDungeonEnvironment) error {
				return d.c.World.LoadDungeon(ctx, ps.PlayerID, p.DungeonID, p.Environment)
			})},

		episode.ActionStartBossBattle: {"world", world,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.StartBossBattle) error {
				return d.c.World.StartBossBattle(ctx, ps.PlayerID, p.BossID, p.Arena)
			})},

		episode.ActionRewardPlayer: {"reward ledger", func() bool { return d.c.Rewards != nil && d.c.Profiles != nil },
			typed(d.reward)},

		episode.ActionCreateMemoryMarker: {"memory sink", func() bool { return d.c.Memory != nil },
			typed(func(ctx context.Context, ps *state.PlayerState, pa state.PendingAction, p *episode.CreateMemoryMarker) error {
				if err := d.c.Memory.CreateMemoryMarker(ctx, ps.PlayerID, p.MarkerID, p.Description, p.Rank); err != nil {
					return err
				}
				ps.Memory.Append(state.MemoryEntry{
					Kind:      state.MemoryMarker,
					EpisodeID: pa.EpisodeID,
					BeatID:    pa.BeatID,
					Text:      p.Description,
					MarkerID:  p.MarkerID,
					Rank:      p.Rank,
					At:        d.now(),
				})
				return nil
			})},

		episode.ActionUnlockActivity: {"world", world,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.UnlockActivity) error {
				return d.c.World.UnlockActivity(ctx, ps.PlayerID, p.ActivityID)
			})},

		episode.ActionPlayAudioCue: {"world", world,
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.PlayAudioCue) error {
				return d.c.World.PlayAudioCue(ctx, ps.PlayerID, p.CueID, p.Loop)
			})},

		episode.ActionShowNotification: {"notifier", func() bool { return d.c.Notifier != nil },
			typed(func(ctx context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.ShowNotification) error {
				severity := p.Severity
				if severity == "" {
					severity = episode.SeverityInfo
				}
				return d.c.Notifier.ShowNotification(ctx, ps.PlayerID, p.Title, p.Message, severity)
			})},

		// Story flags are owned by the runtime, so these write player state directly
		episode.ActionSetFlag: {"story flag store", always,
			typed(func(_ context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.SetFlag) error {
				if p.Increment != 0 {
					if _, err := ps.Flags.Increment(p.Flag, p.Increment); err != nil {
						return fmt.Errorf("%w: %w", ErrFlagNotIncrement, err)
					}
					return nil
				}
				ps.Flags.Set(p.Flag, p.Value)
				return nil
			})},

		episode.ActionClearFlag: {"story flag store", always,
			typed(func(_ context.Context, ps *state.PlayerState, _ state.PendingAction, p *episode.ClearFlag) error {
				ps.Flags.Clear(p.Flag)
				return nil
			})},
	}
}

// reward loads the profile first so nothing is granted for a player that cannot be read.
// All components go to the ledger in one grant keyed for idempotent retries.
func (d *Dispatcher) reward(ctx context.Context, ps *state.PlayerState, pa state.PendingAction, p *episode.RewardPlayer) error {
	profile, err := d.c.Profiles.LoadProfile(ctx, ps.PlayerID)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return ErrProfileNotFound
	}

	return d.c.Rewards.Grant(ctx, ps.PlayerID, Grant{
		IdempotencyKey: IdempotencyKey(ps.PlayerID, pa),
		Gold:           p.Gold,
		Experience:     p.Experience,
		Items:          p.Items,
		AffectionDelta: p.AffectionDelta,
	})
}
