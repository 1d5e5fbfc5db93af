package state

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jwebster45206/episode-engine/pkg/flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerState_MarkSeenIsBounded(t *testing.T) {
	ps := NewPlayerState("p1")
	assert.True(t, ps.MarkSeen("ev-1", 3))
	assert.False(t, ps.MarkSeen("ev-1", 3))
	assert.True(t, ps.MarkSeen("", 3), "events without an id are never deduplicated")

	for i := 2; i <= 4; i++ {
		assert.True(t, ps.MarkSeen(fmt.Sprintf("ev-%d", i), 3))
	}
	assert.Equal(t, []string{"ev-2", "ev-3", "ev-4"}, ps.SeenEvents)
	assert.True(t, ps.MarkSeen("ev-1", 3), "forgotten ids are accepted again")
}

func TestMemoryLog_DropsOldest(t *testing.T) {
	log := MemoryLog{Limit: 2}
	log.Append(MemoryEntry{Kind: MemoryMessage, Text: "one"})
	log.Append(MemoryEntry{Kind: MemoryMessage, Text: "two"})
	log.Append(MemoryEntry{Kind: MemoryMarker, Text: "three"})

	require.Equal(t, 2, log.Len())
	assert.Equal(t, "two", log.Entries[0].Text)
	assert.Equal(t, "three", log.Entries[1].Text)
}

func TestPlayerState_CloneIsDeep(t *testing.T) {
	w := 0.5
	ps := NewPlayerState("p1")
	ps.EnsureEpisode("harbor").CompletedBeats = []int{1}
	ps.Flags.Set("met_keeper", flags.Bool(true))
	ps.Active = []ActiveEntry{{EpisodeID: "harbor", Tier: TierPrimary, Weight: &w}}
	ps.Memory.Append(MemoryEntry{Kind: MemoryMessage, Text: "hello"})

	clone := ps.Clone()
	clone.Episodes["harbor"].CompletedBeats[0] = 9
	clone.Flags.Set("met_keeper", flags.Bool(false))
	*clone.Active[0].Weight = 0.1
	clone.Memory.Entries[0].Text = "changed"

	assert.Equal(t, []int{1}, ps.Episodes["harbor"].CompletedBeats)
	v, _ := ps.Flags.Get("met_keeper")
	assert.True(t, v.Equal(flags.Bool(true)))
	assert.Equal(t, 0.5, *ps.Active[0].Weight)
	assert.Equal(t, "hello", ps.Memory.Entries[0].Text)
}

func TestPlayerState_JSONRoundTrip(t *testing.T) {
	ps := NewPlayerState("p1")
	es := ps.EnsureEpisode("harbor")
	es.Lifecycle = LifecycleCompleted
	ps.Flags.Set("visits", flags.Int(3))

	data, err := json.Marshal(ps)
	require.NoError(t, err)

	var decoded PlayerState
	require.NoError(t, json.Unmarshal(data, &decoded))
	decoded.Normalize()
	assert.True(t, decoded.HasCompleted("harbor"))
	v, ok := decoded.Flags.Get("visits")
	require.True(t, ok)
	assert.True(t, v.Equal(flags.Int(3)))
	assert.Equal(t, []string{"harbor"}, decoded.EpisodeIDs(LifecycleCompleted))
}

func TestProfile_Grants(t *testing.T) {
	p := NewProfile("p1")
	assert.False(t, p.HasGrant("k1"))
	p.RecordGrant("k1")
	assert.True(t, p.HasGrant("k1"))
	assert.False(t, p.HasGrant(""))

	p.AddItem("lamp")
	p.AddItem("lamp")
	assert.Equal(t, []string{"lamp"}, p.Inventory)
}

func TestView_NilProfile(t *testing.T) {
	v := NewView(nil, NewPlayerState("p1"))
	assert.Equal(t, 0, v.GetLevel())
	assert.Empty(t, v.GetInventory())
	assert.False(t, v.HasCompletedEpisode("harbor"))
	assert.NotNil(t, v.GetFlags())
}
