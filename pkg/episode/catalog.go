package episode

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrUnknownEpisode is returned when an episode ID is not in the catalog.
var ErrUnknownEpisode = errors.New("unknown episode")

// Catalog is the read-only set of valid episode definitions.
type Catalog struct {
	episodes map[string]*Definition
	ids      []string
}

// NewCatalog validates definitions and keeps the valid ones. Invalid episodes are
// rejected one by one, never the whole catalog; the returned errors describe them.
func NewCatalog(defs []Definition) (*Catalog, []error) {
	var rejected []error
	accepted := make(map[string]*Definition, len(defs))

	for i := range defs {
		def := cloneDefinition(&defs[i])
		if err := Validate(def); err != nil {
			rejected = append(rejected, err)
			continue
		}
		if _, dup := accepted[def.ID]; dup {
			rejected = append(rejected, &AuthoringError{
				EpisodeID: def.ID,
				Problems:  []string{"duplicate episode id"},
			})
			continue
		}
		sort.SliceStable(def.Beats, func(a, b int) bool { return def.Beats[a].ID < def.Beats[b].ID })
		accepted[def.ID] = def
	}

	// Rejecting one episode can leave another with a dangling reference, so repeat until stable
	for changed := true; changed; {
		changed = false
		for _, id := range sortedKeys(accepted) {
			def := accepted[id]
			if def.Prerequisite == nil {
				continue
			}
			var dangling []string
			for _, ref := range def.Prerequisite.CompletedEpisodes {
				if _, ok := accepted[ref]; !ok || ref == id {
					dangling = append(dangling, fmt.Sprintf("prerequisite references unknown episode '%s'", ref))
				}
			}
			if len(dangling) > 0 {
				rejected = append(rejected, &AuthoringError{EpisodeID: id, Problems: dangling})
				delete(accepted, id)
				changed = true
			}
		}
	}

	return &Catalog{episodes: accepted, ids: sortedKeys(accepted)}, rejected
}

// Get returns the definition for id.
func (c *Catalog) Get(id string) (*Definition, bool) {
	if c == nil {
		return nil, false
	}
	def, ok := c.episodes[id]
	return def, ok
}

// IDs returns every episode ID in sorted order.
func (c *Catalog) IDs() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.ids)
}

// All returns every definition in ID order.
func (c *Catalog) All() []*Definition {
	if c == nil {
		return nil
	}
	out := make([]*Definition, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.episodes[id])
	}
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ids)
}

func sortedKeys(m map[string]*Definition) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// cloneDefinition copies the beat slice so sorting never touches caller data.
func cloneDefinition(def *Definition) *Definition {
	out := *def
	out.Beats = slices.Clone(def.Beats)
	return &out
}
