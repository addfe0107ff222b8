package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultErrorLimit = 100
	maxErrorLimit     = 1000
)

// handleSyncClients handles POST /clients/sync.
func (s *Server) handleSyncClients(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, s.deps.SyncClients)
}

// handleProcessAll handles POST /clients/process.
func (s *Server) handleProcessAll(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, s.deps.ProcessAll)
}

// handleCreateIndex handles POST /admin/index.
func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, s.deps.CreateIndex)
}

// handleProcessClient handles POST /clients/{clientID}/process.
func (s *Server) handleProcessClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	s.trigger(w, r, func(ctx context.Context) (string, error) {
		return s.deps.ProcessClient(ctx, clientID)
	})
}

// trigger answers 202 with the job id. A trigger for work already in flight
// answers with the existing job's id.
func (s *Server) trigger(w http.ResponseWriter, r *http.Request, fn func(context.Context) (string, error)) {
	id, err := fn(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+id)
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: id})
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJob(job))
}

// handleJobErrors handles GET /jobs/{jobID}/errors?limit=N.
func (s *Server) handleJobErrors(w http.ResponseWriter, r *http.Request) {
	limit := defaultErrorLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		limit = min(n, maxErrorLimit)
	}
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.deps.GetJob(r.Context(), jobID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	errs, err := s.deps.ListJobErrors(r.Context(), jobID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]jobErrorResponse, 0, len(errs))
	for _, e := range errs {
		out = append(out, jobErrorResponse{
			EventID:   e.EventID,
			Domain:    e.Domain,
			Stage:     e.Stage,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
