package state

import (
	"slices"
	"time"
)

// Memory entry kinds
const (
	MemoryMessage = "message"
	MemoryMarker  = "marker"
)

// MemoryEntry is one line of the narrator's conversation continuity.
type MemoryEntry struct {
	Kind      string    `json:"kind"`
	EpisodeID string    `json:"episode_id,omitempty"`
	BeatID    int       `json:"beat_id,omitempty"`
	Speaker   string    `json:"speaker,omitempty"`
	Text      string    `json:"text"`
	MarkerID  string    `json:"marker_id,omitempty"`
	Rank      int       `json:"rank,omitempty"`
	At        time.Time `json:"at,omitzero"`
}

// MemoryLog is a bounded, append-only per-player log. When full, the oldest entries drop off.
type MemoryLog struct {
	Limit   int           `json:"limit"`
	Entries []MemoryEntry `json:"entries,omitempty"`
}

func (m *MemoryLog) Append(entry MemoryEntry) {
	limit := m.Limit
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	m.Entries = append(m.Entries, entry)
	if over := len(m.Entries) - limit; over > 0 {
		m.Entries = slices.Delete(m.Entries, 0, over)
	}
}

func (m MemoryLog) Len() int { return len(m.Entries) }

func (m MemoryLog) Clone() MemoryLog {
	return MemoryLog{Limit: m.Limit, Entries: slices.Clone(m.Entries)}
}
