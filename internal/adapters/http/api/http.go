// Package api exposes the engine's job controls, read models and manual
// writes over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/attribution/internal/adapters/http/swagger"
	"github.com/okian/attribution/internal/adapters/repository"
	service "github.com/okian/attribution/internal/app"
	"github.com/okian/attribution/internal/domain/billing"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/internal/domain/sendindex"
	"github.com/okian/attribution/internal/domain/status"
	"github.com/okian/attribution/pkg/logger"
	"github.com/okian/attribution/pkg/metrics"
)

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	Health(ctx context.Context) (service.Health, error)

	SyncClients(ctx context.Context) (string, error)
	ProcessClient(ctx context.Context, clientID string) (string, error)
	ProcessAll(ctx context.Context) (string, error)
	CreateIndex(ctx context.Context) (string, error)
	GetJob(ctx context.Context, jobID string) (model.ProcessingJob, error)
	ListJobErrors(ctx context.Context, jobID string, limit int) ([]model.ProcessingError, error)

	ClientConfig(ctx context.Context, clientID string) (model.ClientConfig, error)
	PutClientConfig(ctx context.Context, cfg model.ClientConfig) (model.ClientConfig, error)
	Counters(ctx context.Context, clientID string) ([]model.Counters, error)
	ListDomains(ctx context.Context, clientID string, filter repository.DomainFilter) ([]*model.AttributedDomain, error)
	Domain(ctx context.Context, clientID, raw string) (*model.AttributedDomain, error)
	DomainTimeline(ctx context.Context, clientID, raw string) ([]model.DomainEvent, error)
	Periods(ctx context.Context, clientID string) ([]billing.Period, error)
	BillingSummary(ctx context.Context, clientID string) (billing.Summary, error)

	AddManualEvent(ctx context.Context, in service.ManualEvent) (*model.AttributedDomain, error)
	SendForReview(ctx context.Context, a service.ReviewAction) (*model.AttributedDomain, error)
	Dispute(ctx context.Context, a service.ReviewAction) (*model.AttributedDomain, error)
	RespondReview(ctx context.Context, a service.ReviewAction, confirm bool) (*model.AttributedDomain, error)
}

// Server wires HTTP routes for the engine API.
type Server struct {
	deps           Dependencies
	requestTimeout time.Duration
	logger         logger.Logger
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:           deps,
		requestTimeout: 30 * time.Second,
		logger:         logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	swagger.Register(r)

	r.Route("/jobs/{jobID}", func(r chi.Router) {
		r.Get("/", s.handleGetJob)
		r.Get("/errors", s.handleJobErrors)
	})
	r.Post("/admin/index", s.handleCreateIndex)

	r.Route("/clients", func(r chi.Router) {
		r.Post("/sync", s.handleSyncClients)
		r.Post("/process", s.handleProcessAll)

		r.Route("/{clientID}", func(r chi.Router) {
			r.Post("/process", s.handleProcessClient)
			r.Get("/config", s.handleGetConfig)
			r.Put("/config", s.handlePutConfig)
			r.Get("/counters", s.handleCounters)
			r.Get("/billing-periods", s.handlePeriods)
			r.Get("/billing-summary", s.handleBillingSummary)
			r.Post("/manual-events", s.handleManualEvent)

			r.Get("/domains", s.handleListDomains)
			r.Route("/domains/{domain}", func(r chi.Router) {
				r.Get("/", s.handleGetDomain)
				r.Get("/events", s.handleTimeline)
				r.Post("/review", s.handleSendForReview)
				r.Post("/review/response", s.handleRespondReview)
				r.Post("/dispute", s.handleDispute)
			})
		})
	})
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError translates engine sentinels to status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, status.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err)
	case errors.Is(err, service.ErrJobInFlight):
		writeError(w, http.StatusConflict, "job_in_flight", err)
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, billing.ErrNoContractStart),
		errors.Is(err, billing.ErrNoPeriods),
		errors.Is(err, model.ErrUnknownBillingCycle),
		errors.Is(err, model.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, service.ErrNotStarted),
		errors.Is(err, service.ErrUnhealthy),
		errors.Is(err, sendindex.ErrSourceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		s.logger.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}
