package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ccbc-core/internal/brewery"
	"github.com/nerrad567/ccbc-core/internal/history"
)

// patchResponse is returned by PATCH /{category}/{id}.
type patchResponse struct {
	Category    brewery.Category             `json:"category"`
	ID          string                       `json:"id"`
	Fields      map[string]any               `json:"fields"`
	Corrections []brewery.InvariantViolation `json:"corrections"`
}

// handleGetState returns every category plus elapsed time and staleness.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.State(s.staleAfter))
}

// handleListCategory returns id -> fields for one category.
func (s *Server) handleListCategory(w http.ResponseWriter, r *http.Request) {
	cat, err := brewery.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	entities, err := s.store.Snapshot(cat)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": cat,
		"entities": entities,
		"writable": brewery.WritableFields(cat),
	})
}

// handleGetEntity returns one entity, or one field of it with ?field=.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	cat, err := brewery.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	id := chi.URLParam(r, "id")

	if field := r.URL.Query().Get("field"); field != "" {
		value, err := s.store.Get(cat, id, field)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "field": field, "value": value})
		return
	}

	fields, err := s.entity(cat, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

// handlePatchEntity writes a group of fields. Corrections applied to keep
// the limits ordered are returned with the updated entity.
func (s *Server) handlePatchEntity(w http.ResponseWriter, r *http.Request) {
	cat, err := brewery.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	id := chi.URLParam(r, "id")

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(fields) == 0 {
		writeBadRequest(w, "no fields to update")
		return
	}

	corrections, err := s.editor.ApplyEdit(r.Context(), cat, id, fields, history.SourceAPI)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if subject := subjectFrom(r.Context()); subject != "" {
		s.logger.Info("operator edit", "subject", subject, "category", cat, "id", id)
	}

	updated, err := s.entity(cat, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if corrections == nil {
		corrections = []brewery.InvariantViolation{}
	}
	writeJSON(w, http.StatusOK, patchResponse{
		Category:    cat,
		ID:          id,
		Fields:      updated,
		Corrections: corrections,
	})
}

func (s *Server) entity(cat brewery.Category, id string) (map[string]any, error) {
	entities, err := s.store.Snapshot(cat)
	if err != nil {
		return nil, err
	}
	fields, ok := entities[id]
	if !ok {
		return nil, brewery.ErrNotFound
	}
	return fields, nil
}
