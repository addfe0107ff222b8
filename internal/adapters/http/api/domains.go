package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/attribution/internal/app"
	"github.com/okian/attribution/internal/domain/model"
)

// handleGetDomain handles GET /clients/{clientID}/domains/{domain}.
func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Domain(r.Context(), chi.URLParam(r, "clientID"), chi.URLParam(r, "domain"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDomain(d))
}

// handleTimeline handles GET /clients/{clientID}/domains/{domain}/events.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.DomainTimeline(r.Context(), chi.URLParam(r, "clientID"), chi.URLParam(r, "domain"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]timelineEntry, 0, len(events))
	for _, ev := range events {
		out = append(out, timelineEntry{
			ID:        ev.ID,
			Source:    ev.Source,
			EventTime: ev.EventTime,
			Email:     ev.Email,
			Metadata:  ev.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleManualEvent handles POST /clients/{clientID}/manual-events.
func (s *Server) handleManualEvent(w http.ResponseWriter, r *http.Request) {
	var req manualEventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	d, err := s.deps.AddManualEvent(r.Context(), service.ManualEvent{
		ClientID:  chi.URLParam(r, "clientID"),
		Domain:    req.Domain,
		Email:     req.Email,
		Type:      model.EventType(req.EventType),
		EventTime: req.EventTime,
		Actor:     req.Actor,
		Reason:    req.Reason,
		Promote:   req.Promote,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDomain(d))
}

// handleSendForReview handles POST /clients/{clientID}/domains/{domain}/review.
func (s *Server) handleSendForReview(w http.ResponseWriter, r *http.Request) {
	a, ok := reviewAction(w, r)
	if !ok {
		return
	}
	s.writeDomain(w, r)(s.deps.SendForReview(r.Context(), a))
}

// handleDispute handles POST /clients/{clientID}/domains/{domain}/dispute.
func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	a, ok := reviewAction(w, r)
	if !ok {
		return
	}
	s.writeDomain(w, r)(s.deps.Dispute(r.Context(), a))
}

// handleRespondReview handles POST /clients/{clientID}/domains/{domain}/review/response.
func (s *Server) handleRespondReview(w http.ResponseWriter, r *http.Request) {
	var req reviewResponseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	a := service.ReviewAction{
		ClientID: chi.URLParam(r, "clientID"),
		Domain:   chi.URLParam(r, "domain"),
		Actor:    req.Actor,
		Reason:   req.Reason,
	}
	s.writeDomain(w, r)(s.deps.RespondReview(r.Context(), a, req.Confirm))
}

func reviewAction(w http.ResponseWriter, r *http.Request) (service.ReviewAction, bool) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return service.ReviewAction{}, false
	}
	return service.ReviewAction{
		ClientID: chi.URLParam(r, "clientID"),
		Domain:   chi.URLParam(r, "domain"),
		Actor:    req.Actor,
		Reason:   req.Reason,
	}, true
}

func (s *Server) writeDomain(w http.ResponseWriter, r *http.Request) func(*model.AttributedDomain, error) {
	return func(d *model.AttributedDomain, err error) {
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toDomain(d))
	}
}
