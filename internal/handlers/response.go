package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/episode-engine/internal/dispatch"
	"github.com/jwebster45206/episode-engine/internal/services/lock"
	"github.com/jwebster45206/episode-engine/pkg/priority"
	"github.com/jwebster45206/episode-engine/pkg/state"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

// statusFor maps runtime errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, priority.ErrUnknownEpisode):
		return http.StatusNotFound
	case errors.Is(err, priority.ErrMultiplePrimary),
		errors.Is(err, priority.ErrDuplicateEpisode),
		errors.Is(err, priority.ErrInvalidTier),
		errors.Is(err, priority.ErrInvalidWeight):
		return http.StatusBadRequest
	case errors.Is(err, priority.ErrPrerequisiteUnmet),
		errors.Is(err, priority.ErrEpisodeCompleted),
		errors.Is(err, state.ErrNotAvailable),
		errors.Is(err, state.ErrCompleted):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeRuntimeError reports err with the status it maps to. Server errors are logged
// and their detail withheld.
func writeRuntimeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
		writeError(w, logger, status, "Internal server error")
		return
	}
	writeError(w, logger, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
