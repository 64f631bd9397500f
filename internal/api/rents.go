package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/turtton/kmnlib-sub000/pkg/eventlog"
)

type rentRequest struct {
	BookID uuid.UUID `json:"book_id"`
	UserID uuid.UUID `json:"user_id"`
	// ExpectedVersion pins the tail of the global rent stream.
	ExpectedVersion *eventlog.Version `json:"expected_version,omitempty"`
}

func (s *Server) listRents(w http.ResponseWriter, r *http.Request) {
	rents, err := s.rents.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rents)
}

func (s *Server) createRent(w http.ResponseWriter, r *http.Request) {
	var req rentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.BookID == uuid.Nil || req.UserID == uuid.Nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := s.rents.Rent(r.Context(), req.BookID, req.UserID, req.ExpectedVersion); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, nil)
}

func (s *Server) deleteRent(w http.ResponseWriter, r *http.Request) {
	var req rentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.BookID == uuid.Nil || req.UserID == uuid.Nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := s.rents.Return(r.Context(), req.BookID, req.UserID, req.ExpectedVersion); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
