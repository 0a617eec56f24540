package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ccbc-core/internal/brewery"
	"github.com/nerrad567/ccbc-core/internal/history"
)

// handleActuatorHistory lists transitions and edits for one heater or
// pump, newest first. Query: kind=transition|edit, since=RFC3339, limit=N.
func (s *Server) handleActuatorHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history database is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	if !s.isActuator(id) {
		writeNotFound(w, "actuator not found: "+id)
		return
	}

	filter := history.Filter{ActuatorID: id}
	q := r.URL.Query()
	switch kind := q.Get("kind"); kind {
	case "", history.KindTransition, history.KindEdit:
		filter.Kind = kind
	default:
		writeBadRequest(w, "kind must be transition or edit")
		return
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	events, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing actuator history failed", "actuator", id, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actuator_id": id,
		"events":      events,
		"count":       len(events),
	})
}

func (s *Server) isActuator(id string) bool {
	for _, cat := range []brewery.Category{brewery.CategoryHeaters, brewery.CategoryPumps} {
		if _, err := s.store.Actuator(cat, id); err == nil {
			return true
		}
	}
	return false
}
