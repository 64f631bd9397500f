package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/turtton/kmnlib-sub000/internal/event"
	"github.com/turtton/kmnlib-sub000/pkg/queue"
)

const defaultPageSize = 20

type queueLensResponse struct {
	Queued  int64 `json:"queued"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

type queueInfosResponse struct {
	Delayed []queue.ErroredInfo[event.CommandOperation] `json:"delayed"`
	Failed  []queue.ErroredInfo[event.CommandOperation] `json:"failed"`
}

type queueInfoResponse struct {
	State string                                    `json:"state"`
	Info  queue.ErroredInfo[event.CommandOperation] `json:"info"`
}

// queueInfos pages through the command queue's retry and dead-letter
// diagnostics. size and offset come from the query string.
func (s *Server) queueInfos(w http.ResponseWriter, r *http.Request) {
	size := queryInt64(r, "size", defaultPageSize)
	offset := queryInt64(r, "offset", 0)

	delayed, err := s.commands.DelayedInfos(r.Context(), size, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	failed, err := s.commands.FailedInfos(r.Context(), size, offset)
	if err != nil {
		respondError(w, err)
		return
	}

	if delayed == nil {
		delayed = []queue.ErroredInfo[event.CommandOperation]{}
	}
	if failed == nil {
		failed = []queue.ErroredInfo[event.CommandOperation]{}
	}
	respondJSON(w, http.StatusOK, queueInfosResponse{Delayed: delayed, Failed: failed})
}

func (s *Server) queueLens(w http.ResponseWriter, r *http.Request) {
	queued, err := s.commands.QueuedLen(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	delayed, err := s.commands.DelayedLen(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	failed, err := s.commands.FailedLen(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, queueLensResponse{Queued: queued, Delayed: delayed, Failed: failed})
}

// queueInfo looks one message id up in the delayed hash first, then the
// failed hash.
func (s *Server) queueInfo(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	delayed, err := s.commands.DelayedInfo(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if delayed != nil {
		respondJSON(w, http.StatusOK, queueInfoResponse{State: "delayed", Info: *delayed})
		return
	}

	failed, err := s.commands.FailedInfo(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if failed != nil {
		respondJSON(w, http.StatusOK, queueInfoResponse{State: "failed", Info: *failed})
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}
