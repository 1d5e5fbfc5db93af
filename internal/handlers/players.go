package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/episode-engine/internal/logger"
	"github.com/jwebster45206/episode-engine/internal/router"
	"github.com/jwebster45206/episode-engine/pkg/episode"
	"github.com/jwebster45206/episode-engine/pkg/priority"
	"github.com/jwebster45206/episode-engine/pkg/queue"
	"github.com/jwebster45206/episode-engine/pkg/state"
)

// Runtime is the episode runtime as seen by the HTTP surface.
type Runtime interface {
	Submit(ctx context.Context, playerID string, ev episode.Event) (*router.Summary, error)
	SetActiveEpisodes(ctx context.Context, playerID string, entries []state.ActiveEntry) (*router.Summary, error)
	SetFocusedEpisode(ctx context.Context, playerID, episodeID string) (*router.Summary, error)
	ClearFocus(ctx context.Context, playerID string) (*router.Summary, error)
	GetActiveEpisodes(ctx context.Context, playerID string) ([]priority.ActiveEpisode, error)
	GetRankedContext(ctx context.Context, playerID string, situation priority.Situation) (*priority.RankedContext, error)
	GetEpisodeStates(ctx context.Context, playerID string) (map[string]*state.EpisodeState, error)
	GetFlags(ctx context.Context, playerID string) (map[string]any, error)
	ClearFlags(ctx context.Context, playerID string, keys []string) error
	RefreshAvailability(ctx context.Context, playerID string) ([]string, error)
	UpdateProfile(ctx context.Context, profile *state.Profile) ([]string, error)
}

// ProfileStore reads the player record the game owns. Writes go through the Runtime
// so they hold the player lock.
type ProfileStore interface {
	LoadProfile(ctx context.Context, playerID string) (*state.Profile, error)
}

// EventQueue accepts events for asynchronous processing by the worker.
type EventQueue interface {
	Enqueue(ctx context.Context, req *queue.Request) error
}

// QueuePublisher announces accepted asynchronous requests.
type QueuePublisher interface {
	PublishRequestQueued(ctx context.Context, playerID, requestID string) error
}

type ActiveRequest struct {
	Episodes []state.ActiveEntry `json:"episodes"`
}

type FocusRequest struct {
	EpisodeID string `json:"episode_id"`
}

type FlagsClearRequest struct {
	Keys []string `json:"keys,omitempty"`
}

type QueuedResponse struct {
	RequestID string `json:"request_id"`
	EventID   string `json:"event_id"`
	Status    string `json:"status"`
}

type ProfileResponse struct {
	Profile  *state.Profile `json:"profile"`
	Unlocked []string       `json:"unlocked,omitempty"`
}

type PlayerHandler struct {
	runtime   Runtime
	profiles  ProfileStore
	queue     EventQueue
	publisher QueuePublisher
	logger    *slog.Logger
}

func NewPlayerHandler(runtime Runtime, profiles ProfileStore, logger *slog.Logger) *PlayerHandler {
	return &PlayerHandler{
		runtime:  runtime,
		profiles: profiles,
		logger:   logger,
	}
}

// WithQueue enables ?async=true event submission.
// Returns the PlayerHandler for method chaining
func (h *PlayerHandler) WithQueue(q EventQueue, publisher QueuePublisher) *PlayerHandler {
	h.queue = q
	h.publisher = publisher
	return h
}

// ServeHTTP handles per-player runtime requests
// Routes:
// POST   /v1/players/{player}/events   - Submit a gameplay event (?async=true to queue it)
// GET    /v1/players/{player}/episodes - Episode runtime states
// GET    /v1/players/{player}/active   - Active set with base weights
// PUT    /v1/players/{player}/active   - Replace the active set
// POST   /v1/players/{player}/focus    - Make one episode the sole primary
// DELETE /v1/players/{player}/focus    - Clear all focus
// GET    /v1/players/{player}/context  - Ranked narrative context
// GET    /v1/players/{player}/flags    - Story flags
// DELETE /v1/players/{player}/flags    - Clear some or all story flags
// GET    /v1/players/{player}/profile  - Player profile
// PUT    /v1/players/{player}/profile  - Replace the profile and re-check prerequisites
func (h *PlayerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.logger)

	// Expected: /v1/players/{player}/{resource}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/players"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, log, http.StatusNotFound, "Invalid path. Expected /v1/players/{player}/{resource}")
		return
	}
	playerID, resource := parts[0], parts[1]
	log = log.With("player_id", playerID)

	switch resource + " " + r.Method {
	case "events POST":
		h.handleEvent(w, r, log, playerID)
	case "episodes GET":
		h.handleStates(w, r, log, playerID)
	case "active GET":
		h.handleGetActive(w, r, log, playerID)
	case "active PUT":
		h.handlePutActive(w, r, log, playerID)
	case "focus POST":
		h.handleFocus(w, r, log, playerID)
	case "focus DELETE":
		h.respondSummary(w, log)(h.runtime.ClearFocus(r.Context(), playerID))
	case "context GET":
		h.handleContext(w, r, log, playerID)
	case "flags GET":
		h.handleGetFlags(w, r, log, playerID)
	case "flags DELETE":
		h.handleClearFlags(w, r, log, playerID)
	case "profile GET":
		h.handleGetProfile(w, r, log, playerID)
	case "profile PUT":
		h.handlePutProfile(w, r, log, playerID)
	default:
		switch resource {
		case "events", "episodes", "active", "focus", "context", "flags", "profile":
			log.Warn("Method not allowed for player endpoint", "method", r.Method, "resource", resource)
			writeError(w, log, http.StatusMethodNotAllowed, "Method not allowed")
		default:
			writeError(w, log, http.StatusNotFound, "Unknown resource: "+resource)
		}
	}
}

func (h *PlayerHandler) handleEvent(w http.ResponseWriter, r *http.Request, log *slog.Logger, playerID string) {
	var ev episode.Event
	if err := decodeBody(w, r, &ev); err != nil {
		log.Warn("Invalid event body", "error", err)
		writeError(w, log, http.StatusBadRequest, "Invalid request body")
		return
	}
	if ev.Kind == "" {
		writeError(w, log, http.StatusBadRequest, "Event kind is required")
		return
	}

	if r.URL.Query().Get("async") != "true" {
		h.respondSummary(w, log)(h.runtime.Submit(r.Context(), playerID, ev))
		return
	}

	if h.queue == nil {
		writeError(w, log, http.StatusServiceUnavailable, "Asynchronous processing is not configured")
		return
	}
	req := queue.NewRequest(playerID, ev)
	if err := h.queue.Enqueue(r.Context(), req); err != nil {
		log.Error("Failed to enqueue event", "error", err)
		writeError(w, log, http.StatusInternalServerError, "Failed to queue event")
		return
	}
	if h.publisher != nil {
		if err := h.publisher.PublishRequestQueued(r.Context(), playerID, req.RequestID); err != nil {
			log.Warn("Failed to publish queued event", "error", err)
		}
	}
	log.Info("Event queued", "request_id", req.RequestID, "event_kind", ev.Kind)
	writeJSON(w, log, http.StatusAccepted, QueuedResponse{RequestID: req.RequestID, EventID: req.Event.ID, Status: "queued"})
}

func (h *PlayerHandler) handleStates(w http.ResponseWriter, r *http.Request, log *slog.Logger, playerID string) {
	states, err := h.runtime.GetEpisodeStates(r.Context(), playerID)
	if err != nil {
		writeRuntimeError(w, log, err)
		return
	}
	writeJSON(w, log, http.StatusOK, states)
}

func (h *PlayerHandler) handleGetActive(w http.ResponseWriter, r *http.Request, log *slog.Logger, playerID string) {
	active, err := h.runtime.GetActiveEpisodes(r.Context(), playerID)
	if err != nil {
		writeRuntimeError(w, log, err)
		return
	}
	writeJSON(w, log, http.StatusOK, active)
}

func (h *PlayerHandler) handlePutActive(w http.ResponseWriter, r *http.Request, log *slog.Logger, playerID string) {
	var body ActiveRequest
	if err := decodeBody(w, r, &body); err != nil {
		log.Warn("Invalid active set body", "error", err)
		writeError(w, log, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respondSummary(w, log)(h.runtime.SetActiveEpisodes(r.Context(), playerID, body.Episodes))
}

func (h *PlayerHandler) handleFocus(w http.ResponseWriter, r *http.Request, log *slog.Logger, playerID string) {
	var body FocusRequest
	if err := decodeBody(w, r, &body); err != nil || body.EpisodeID == "" {
		writeError(w, log, http.StatusBadRequest, "episode_id is required")
		return
	}
	h.respondSummary(w, log)(h.runtime.SetFocusedEpisode(r.Context(), playerID, body.EpisodeID))
}

func (h *PlayerHandler) handleContext(w http.ResponseWriter, r *http.Request, log *slog.Logger, playerID string) {
	q := r.URL.Query()
	situation := priority.Situation{
		Location:  q.Get("location"),
		TimeOfDay: q.Get("time_of_day"),
	}
	rc, err := h.runtime.GetRankedContext(r.Context(), playerID, situation)
	if err != nil {
		writeRuntimeError(w, log, err)
		return
	}
	writeJSON(w, log, http.StatusOK, rc)
}

func (h *PlayerHandler) handleGetFlags(w http.ResponseWriter, r *http.Request, log *slog.Logger, playerID string) {
	f, err := h.runtime.GetFlags(r.Context(), playerID)
	if err != nil {
		writeRuntimeError(w, log, err)
		return
	}
	writeJSON(w, log, http.StatusOK, f)
}

func (h *PlayerHandler) handleClearFlags(w http.ResponseWriter, r *http.Request, log *slog.Logger, playerID string) {
	var body FlagsClearRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, log, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if err := h.runtime.ClearFlags(r.Context(), playerID, body.Keys); err != nil {
		writeRuntimeError(w, log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PlayerHandler) handleGetProfile(w http.ResponseWriter, r *http.Request, log *slog.Logger, playerID string) {
	profile, err := h.profiles.LoadProfile(r.Context(), playerID)
	if err != nil {
		writeRuntimeError(w, log, err)
		return
	}
	if profile == nil {
		writeError(w, log, http.StatusNotFound, "Profile not found")
		return
	}
	writeJSON(w, log, http.StatusOK, profile)
}

// handlePutProfile stores the game's view of the player and reports episodes the new
// profile unlocks.
func (h *PlayerHandler) handlePutProfile(w http.ResponseWriter, r *http.Request, log *slog.Logger, playerID string) {
	var profile state.Profile
	if err := decodeBody(w, r, &profile); err != nil {
		log.Warn("Invalid profile body", "error", err)
		writeError(w, log, http.StatusBadRequest, "Invalid request body")
		return
	}
	profile.PlayerID = playerID

	unlocked, err := h.runtime.UpdateProfile(r.Context(), &profile)
	if err != nil {
		writeRuntimeError(w, log, err)
		return
	}
	writeJSON(w, log, http.StatusOK, ProfileResponse{Profile: &profile, Unlocked: unlocked})
}

// respondSummary writes a runtime call's result.
func (h *PlayerHandler) respondSummary(w http.ResponseWriter, log *slog.Logger) func(*router.Summary, error) {
	return func(summary *router.Summary, err error) {
		if err != nil {
			writeRuntimeError(w, log, err)
			return
		}
		writeJSON(w, log, http.StatusOK, summary)
	}
}
