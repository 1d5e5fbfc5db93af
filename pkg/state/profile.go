package state

import (
	"slices"
	"time"

	"github.com/jwebster45206/episode-engine/pkg/conditionals"
	"github.com/jwebster45206/episode-engine/pkg/flags"
)

// GrantHistoryLimit bounds the idempotency keys kept on a profile.
const GrantHistoryLimit = 256

// Profile is the player record owned by the profile store. The runtime reads it for
// prerequisites and the reward ledger writes to it.
type Profile struct {
	PlayerID           string    `json:"player_id"`
	Level              int       `json:"level"`
	Affection          int       `json:"affection"`
	RelationshipStatus string    `json:"relationship_status,omitempty"`
	Inventory          []string  `json:"inventory,omitempty"`
	Location           string    `json:"location,omitempty"`
	TimeOfDay          string    `json:"time_of_day,omitempty"`
	Gold               int       `json:"gold"`
	Experience         int       `json:"experience"`
	GrantedRewards     []string  `json:"granted_rewards,omitempty"` // Idempotency keys of applied grants
	UpdatedAt          time.Time `json:"updated_at,omitzero"`
}

func NewProfile(playerID string) *Profile {
	return &Profile{PlayerID: playerID, Level: 1}
}

// HasGrant reports whether a grant with this key was already applied.
func (p *Profile) HasGrant(key string) bool {
	return key != "" && slices.Contains(p.GrantedRewards, key)
}

// RecordGrant remembers an applied grant key, forgetting the oldest beyond GrantHistoryLimit.
func (p *Profile) RecordGrant(key string) {
	if key == "" {
		return
	}
	p.GrantedRewards = append(p.GrantedRewards, key)
	if over := len(p.GrantedRewards) - GrantHistoryLimit; over > 0 {
		p.GrantedRewards = slices.Delete(p.GrantedRewards, 0, over)
	}
}

// AddItem adds an item to the inventory if not already held.
func (p *Profile) AddItem(item string) {
	if !slices.Contains(p.Inventory, item) {
		p.Inventory = append(p.Inventory, item)
	}
}

func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Inventory = slices.Clone(p.Inventory)
	out.GrantedRewards = slices.Clone(p.GrantedRewards)
	return &out
}

// View combines a profile snapshot and the runtime state into a conditionals.PlayerView.
// A nil profile reads as a level-0 player with nothing.
type View struct {
	Profile *Profile
	Player  *PlayerState
}

var _ conditionals.PlayerView = View{}

func NewView(profile *Profile, player *PlayerState) View {
	return View{Profile: profile, Player: player}
}

func (v View) GetLevel() int {
	if v.Profile == nil {
		return 0
	}
	return v.Profile.Level
}

func (v View) GetAffection() int {
	if v.Profile == nil {
		return 0
	}
	return v.Profile.Affection
}

func (v View) GetRelationshipStatus() string {
	if v.Profile == nil {
		return ""
	}
	return v.Profile.RelationshipStatus
}

func (v View) GetLocation() string {
	if v.Profile == nil {
		return ""
	}
	return v.Profile.Location
}

func (v View) GetTimeOfDay() string {
	if v.Profile == nil {
		return ""
	}
	return v.Profile.TimeOfDay
}

func (v View) GetInventory() []string {
	if v.Profile == nil {
		return nil
	}
	return v.Profile.Inventory
}

func (v View) HasCompletedEpisode(episodeID string) bool {
	return v.Player != nil && v.Player.HasCompleted(episodeID)
}

func (v View) GetFlags() flags.Flags {
	if v.Player == nil {
		return nil
	}
	return v.Player.Flags
}
