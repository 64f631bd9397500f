package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/turtton/kmnlib-sub000/internal/event"
	"github.com/turtton/kmnlib-sub000/pkg/eventlog"
)

type createUserRequest struct {
	Name      string `json:"name"`
	RentLimit int32  `json:"rent_limit"`
}

type patchUserRequest struct {
	Name            *string           `json:"name,omitempty"`
	RentLimit       *int32            `json:"rent_limit,omitempty"`
	ExpectedVersion *eventlog.Version `json:"expected_version,omitempty"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.RentLimit < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	id, err := s.users.Create(r.Context(), req.Name, req.RentLimit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	found, err := s.users.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, found)
}

func (s *Server) patchUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var req patchUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	e := event.UserEvent{Type: event.TypeUpdated, Name: req.Name, RentLimit: req.RentLimit}
	if err := e.Validate(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.enqueueOperation(w, r, event.UserOperation(id, e, req.ExpectedVersion))
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.enqueueOperation(w, r, event.UserOperation(id, event.UserEvent{Type: event.TypeDeleted}, nil))
}
