package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/turtton/kmnlib-sub000/internal/book"
	"github.com/turtton/kmnlib-sub000/internal/command"
	"github.com/turtton/kmnlib-sub000/internal/database"
	"github.com/turtton/kmnlib-sub000/internal/event"
	"github.com/turtton/kmnlib-sub000/internal/rent"
	"github.com/turtton/kmnlib-sub000/internal/user"
	"github.com/turtton/kmnlib-sub000/pkg/apperror"
	"github.com/turtton/kmnlib-sub000/pkg/logger"
	"github.com/turtton/kmnlib-sub000/pkg/queue"
)

// Server is the HTTP facade. Reads are served synchronously through the
// rehydrating services; PATCH and DELETE enqueue a CommandOperation for the
// command worker instead of executing inline.
type Server struct {
	books    *book.Service
	users    *user.Service
	rents    *rent.Service
	commands *queue.Queue[command.Module, event.CommandOperation]
}

// NewServer creates the HTTP facade over the application services.
func NewServer(
	books *book.Service,
	users *user.Service,
	rents *rent.Service,
	commands *queue.Queue[command.Module, event.CommandOperation],
) *Server {
	return &Server{
		books:    books,
		users:    users,
		rents:    rents,
		commands: commands,
	}
}

// Router builds the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Route("/books", func(r chi.Router) {
		r.Get("/", s.listBooks)
		r.Post("/", s.createBook)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getBook)
			r.Patch("/", s.patchBook)
			r.Delete("/", s.deleteBook)
			r.Get("/rents", s.bookRents)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.listUsers)
		r.Post("/", s.createUser)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getUser)
			r.Patch("/", s.patchUser)
			r.Delete("/", s.deleteUser)
		})
	})

	r.Route("/rents", func(r chi.Router) {
		r.Get("/", s.listRents)
		r.Post("/", s.createRent)
		r.Delete("/", s.deleteRent)
	})

	r.Route("/queue", func(r chi.Router) {
		r.Get("/infos", s.queueInfos)
		r.Get("/infos/len", s.queueLens)
		r.Get("/infos/{id}", s.queueInfo)
	})

	return r
}

// respondJSON writes a JSON body with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// respondError maps the error taxonomy onto status codes with empty bodies:
// Concurrency 409, Timeout 408, missing entities 404, everything else 500.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case apperror.IsConcurrency(err):
		w.WriteHeader(http.StatusConflict)
	case apperror.IsTimeout(err):
		w.WriteHeader(http.StatusRequestTimeout)
	case errors.Is(err, database.ErrBookNotFound), errors.Is(err, database.ErrUserNotFound):
		w.WriteHeader(http.StatusNotFound)
	default:
		logger.Error("Request failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
	}
}
