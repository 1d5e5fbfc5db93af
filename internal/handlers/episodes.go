package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/episode-engine/pkg/episode"
)

// EpisodeSummary is the catalog listing entry.
type EpisodeSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Beats       int    `json:"beats"`
	Gated       bool   `json:"gated"` // Has a prerequisite
}

type EpisodeHandler struct {
	catalog *episode.Catalog
	logger  *slog.Logger
}

func NewEpisodeHandler(catalog *episode.Catalog, logger *slog.Logger) *EpisodeHandler {
	return &EpisodeHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// ServeHTTP handles read-only catalog requests
// Routes:
// GET /v1/episodes      - List episodes
// GET /v1/episodes/{id} - Full definition
func (h *EpisodeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.logger.Warn("Method not allowed for episodes endpoint", "method", r.Method)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/episodes"), "/")
	if id == "" {
		h.handleList(w)
		return
	}

	def, ok := h.catalog.Get(id)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "Episode not found: "+id)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, def)
}

func (h *EpisodeHandler) handleList(w http.ResponseWriter) {
	defs := h.catalog.All()
	out := make([]EpisodeSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, EpisodeSummary{
			ID:          def.ID,
			Title:       def.Title,
			Description: def.Description,
			Beats:       len(def.Beats),
			Gated:       def.Prerequisite != nil,
		})
	}
	writeJSON(w, h.logger, http.StatusOK, out)
}
