package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/turtton/kmnlib-sub000/internal/event"
	"github.com/turtton/kmnlib-sub000/pkg/eventlog"
	"github.com/turtton/kmnlib-sub000/pkg/queue"
)

type createBookRequest struct {
	Title  string `json:"title"`
	Amount int32  `json:"amount"`
}

type patchBookRequest struct {
	Title           *string           `json:"title,omitempty"`
	Amount          *int32            `json:"amount,omitempty"`
	ExpectedVersion *eventlog.Version `json:"expected_version,omitempty"`
}

type idResponse struct {
	ID uuid.UUID `json:"id"`
}

type enqueuedResponse struct {
	QueueID uuid.UUID `json:"queue_id"`
}

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.books.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, books)
}

func (s *Server) createBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.Amount < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	id, err := s.books.Create(r.Context(), req.Title, req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	found, err := s.books.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, found)
}

// patchBook enqueues an asynchronous Updated operation; the command worker
// applies it with the caller's expected version.
func (s *Server) patchBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var req patchBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	e := event.BookEvent{Type: event.TypeUpdated, Title: req.Title, Amount: req.Amount}
	if err := e.Validate(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.enqueueOperation(w, r, event.BookOperation(id, e, req.ExpectedVersion))
}

// deleteBook enqueues an asynchronous Deleted operation.
func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.enqueueOperation(w, r, event.BookOperation(id, event.BookEvent{Type: event.TypeDeleted}, nil))
}

func (s *Server) bookRents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rents, err := s.rents.ListByBook(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rents)
}

func (s *Server) enqueueOperation(w http.ResponseWriter, r *http.Request, op event.CommandOperation) {
	info := queue.NewInfo(op)
	if err := s.commands.Enqueue(r.Context(), info); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, enqueuedResponse{QueueID: info.ID})
}
