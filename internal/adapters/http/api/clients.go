package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/attribution/internal/adapters/repository"
	"github.com/okian/attribution/internal/domain/model"
)

// handleGetConfig handles GET /clients/{clientID}/config.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.ClientConfig(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigBody(cfg))
}

// handlePutConfig handles PUT /clients/{clientID}/config.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var body configBody
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	cfg := model.ClientConfig{
		ClientID:              chi.URLParam(r, "clientID"),
		Name:                  body.Name,
		AttributionWindowDays: body.AttributionWindowDays,
		BillingCycle:          model.BillingCycle(body.BillingCycle),
		ReviewWindowDays:      body.ReviewWindowDays,
	}
	if body.ContractStartDate != "" {
		start, err := time.Parse(dateLayout, body.ContractStartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: contract_start_date must be YYYY-MM-DD", ErrBadRequest))
			return
		}
		cfg.ContractStartDate = &start
	}
	saved, err := s.deps.PutClientConfig(r.Context(), cfg)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigBody(saved))
}

// handleCounters handles GET /clients/{clientID}/counters.
func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	counters, err := s.deps.Counters(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]countersResponse, 0, len(counters))
	for _, c := range counters {
		out = append(out, countersResponse{
			EventType:     c.EventType,
			Total:         c.Total,
			Hard:          c.Hard,
			Soft:          c.Soft,
			OutsideWindow: c.OutsideWindow,
			NotMatched:    c.NotMatched,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListDomains handles GET /clients/{clientID}/domains?status=A,B&limit=N&offset=M.
func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	filter, err := parseDomainFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	domains, err := s.deps.ListDomains(r.Context(), chi.URLParam(r, "clientID"), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]domainResponse, 0, len(domains))
	for _, d := range domains {
		out = append(out, toDomain(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseDomainFilter(r *http.Request) (repository.DomainFilter, error) {
	var f repository.DomainFilter
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := model.ParseStatus(part)
			if err != nil {
				return f, fmt.Errorf("%w: %w", ErrBadRequest, err)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, key)
		}
		*dst = n
	}
	return f, nil
}

// handlePeriods handles GET /clients/{clientID}/billing-periods.
func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := s.deps.Periods(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, periods)
}

// handleBillingSummary handles GET /clients/{clientID}/billing-summary.
func (s *Server) handleBillingSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.BillingSummary(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
