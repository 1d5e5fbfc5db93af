package priority

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jwebster45206/episode-engine/pkg/state"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Situation is the player's present circumstances used for relevance adjustment.
type Situation struct {
	Location  string `json:"location,omitempty"`
	TimeOfDay string `json:"time_of_day,omitempty"`
}

// RankedEpisode is one episode's share of the narrative blend.
type RankedEpisode struct {
	EpisodeID       string     `json:"episode_id"`
	Title           string     `json:"title"`
	Tier            state.Tier `json:"tier"`
	BaseWeight      float64    `json:"base_weight"`
	Multiplier      float64    `json:"multiplier"`
	Weight          float64    `json:"weight"` // Normalized; all weights in a context sum to 1
	BeatID          int        `json:"beat_id,omitempty"`
	BeatTitle       string     `json:"beat_title,omitempty"`
	BeatDescription string     `json:"beat_description,omitempty"`
	Guidance        string     `json:"guidance"`
}

// RankedContext is the bundle handed to the narrative-generation collaborator.
type RankedContext struct {
	PlayerID  string              `json:"player_id"`
	Situation Situation           `json:"situation"`
	Episodes  []RankedEpisode     `json:"episodes"`
	Memory    []state.MemoryEntry `json:"memory,omitempty"`
}

// IsNeutral reports whether the context carries no episode bias.
func (rc *RankedContext) IsNeutral() bool {
	return rc == nil || len(rc.Episodes) == 0
}

// ComputeContext blends the active set into a ranked context. It only reads ps.
func (m *Manager) ComputeContext(ps *state.PlayerState, situation Situation) *RankedContext {
	rc := &RankedContext{
		PlayerID:  ps.PlayerID,
		Situation: situation,
		Episodes:  []RankedEpisode{},
		Memory:    ps.Memory.Clone().Entries,
	}

	for _, entry := range ps.Active {
		def, ok := m.catalog.Get(entry.EpisodeID)
		if !ok {
			continue
		}
		es := ps.Episode(entry.EpisodeID)
		if es != nil && es.Lifecycle == state.LifecycleCompleted {
			continue
		}

		ranked := RankedEpisode{
			EpisodeID:  def.ID,
			Title:      def.Title,
			Tier:       entry.Tier,
			BaseWeight: m.baseWeight(entry),
			Multiplier: def.Affinity.Multiplier(situation.Location, situation.TimeOfDay),
		}
		beatIndex := 0
		if es != nil {
			beatIndex = es.CurrentBeat
		}
		if beat := def.Beat(beatIndex); beat != nil {
			ranked.BeatID = beat.ID
			ranked.BeatTitle = beat.Title
			ranked.BeatDescription = beat.Description
		}
		rc.Episodes = append(rc.Episodes, ranked)
	}
	if len(rc.Episodes) == 0 {
		return rc
	}

	normalize(rc.Episodes)

	sort.SliceStable(rc.Episodes, func(i, j int) bool {
		a, b := rc.Episodes[i], rc.Episodes[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() < b.Tier.Rank()
		}
		return a.EpisodeID < b.EpisodeID
	})

	for i := range rc.Episodes {
		rc.Episodes[i].Guidance = guidance(rc.Episodes[i])
	}
	return rc
}

// normalize sets Weight so the set sums to 1. If every adjusted weight is zero it falls
// back to base weights, then to equal shares.
func normalize(eps []RankedEpisode) {
	var adjusted, base float64
	for _, e := range eps {
		adjusted += e.BaseWeight * e.Multiplier
		base += e.BaseWeight
	}
	for i := range eps {
		switch {
		case adjusted > 0:
			eps[i].Weight = eps[i].BaseWeight * eps[i].Multiplier / adjusted
		case base > 0:
			eps[i].Weight = eps[i].BaseWeight / base
		default:
			eps[i].Weight = 1 / float64(len(eps))
		}
	}
}

func guidance(e RankedEpisode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s %.0f%%] %s", cases.Title(language.English).String(string(e.Tier)), e.Weight*100, e.Title)
	if e.BeatTitle != "" {
		fmt.Fprintf(&b, ": %s", e.BeatTitle)
	}
	if e.BeatDescription != "" {
		fmt.Fprintf(&b, ". %s", e.BeatDescription)
	}
	return b.String()
}
