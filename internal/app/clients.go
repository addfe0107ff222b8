package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/attribution/internal/adapters/repository"
	"github.com/okian/attribution/internal/domain/billing"
	"github.com/okian/attribution/internal/domain/model"
)

func (s *Service) defaultConfig(clientID string) model.ClientConfig {
	return model.ClientConfig{
		ClientID:              clientID,
		AttributionWindowDays: s.defaults.AttributionWindowDays,
		BillingCycle:          s.defaults.BillingCycle,
		ReviewWindowDays:      s.defaults.ReviewWindowDays,
	}
}

// ClientConfig returns the stored configuration of a client, or the
// defaults when the client has none.
func (s *Service) ClientConfig(ctx context.Context, clientID string) (model.ClientConfig, error) {
	cfg, err := s.store.GetClientConfig(ctx, clientID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.defaultConfig(clientID), nil
	}
	if err != nil {
		return model.ClientConfig{}, err
	}
	if cfg.AttributionWindowDays <= 0 {
		cfg.AttributionWindowDays = s.defaults.AttributionWindowDays
	}
	if cfg.ReviewWindowDays <= 0 {
		cfg.ReviewWindowDays = s.defaults.ReviewWindowDays
	}
	if cfg.BillingCycle == "" {
		cfg.BillingCycle = s.defaults.BillingCycle
	}
	return cfg, nil
}

// PutClientConfig stores a client configuration. Zero window days and an
// empty billing cycle take the defaults.
func (s *Service) PutClientConfig(ctx context.Context, cfg model.ClientConfig) (model.ClientConfig, error) {
	if cfg.AttributionWindowDays == 0 {
		cfg.AttributionWindowDays = s.defaults.AttributionWindowDays
	}
	if cfg.ReviewWindowDays == 0 {
		cfg.ReviewWindowDays = s.defaults.ReviewWindowDays
	}
	if cfg.BillingCycle == "" {
		cfg.BillingCycle = s.defaults.BillingCycle
	} else if cycle, err := model.ParseBillingCycle(string(cfg.BillingCycle)); err == nil {
		cfg.BillingCycle = cycle
	}
	if cfg.ContractStartDate != nil {
		start := cfg.ContractStartDate.UTC()
		cfg.ContractStartDate = &start
	}
	if err := s.store.PutClientConfig(ctx, cfg); err != nil {
		return model.ClientConfig{}, err
	}
	return s.ClientConfig(ctx, cfg.ClientID)
}

// Counters returns the running match totals of a client per event type.
func (s *Service) Counters(ctx context.Context, clientID string) ([]model.Counters, error) {
	return s.store.GetCounters(ctx, clientID)
}

// ListDomains returns the attributed domains of a client.
func (s *Service) ListDomains(ctx context.Context, clientID string, filter repository.DomainFilter) ([]*model.AttributedDomain, error) {
	return s.store.ListDomains(ctx, clientID, filter)
}

// Domain returns one attributed domain. raw may be a URL or email.
func (s *Service) Domain(ctx context.Context, clientID, raw string) (*model.AttributedDomain, error) {
	domain, ok := s.norm.Domain(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no usable domain in %q", ErrInvalidInput, raw)
	}
	return s.store.GetDomain(ctx, clientID, domain)
}

// DomainTimeline returns the timeline of one attributed domain.
func (s *Service) DomainTimeline(ctx context.Context, clientID, raw string) ([]model.DomainEvent, error) {
	d, err := s.Domain(ctx, clientID, raw)
	if err != nil {
		return nil, err
	}
	return s.store.ListDomainEvents(ctx, d.ID)
}

// Periods returns the billing periods of a client up to now.
func (s *Service) Periods(ctx context.Context, clientID string) ([]billing.Period, error) {
	cfg, err := s.ClientConfig(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if cfg.ContractStartDate == nil {
		return nil, fmt.Errorf("client %s: %w", clientID, billing.ErrNoContractStart)
	}
	return billing.Periods(*cfg.ContractStartDate, cfg.BillingCycle, cfg.ReviewWindowDays, s.now())
}

// BillingSummary counts the domains of the current period by billing outcome.
func (s *Service) BillingSummary(ctx context.Context, clientID string) (billing.Summary, error) {
	periods, err := s.Periods(ctx, clientID)
	if err != nil {
		return billing.Summary{}, err
	}
	current, ok := billing.Current(periods)
	if !ok {
		return billing.Summary{}, fmt.Errorf("client %s: %w", clientID, billing.ErrNoPeriods)
	}
	domains, err := s.store.ListDomains(ctx, clientID, repository.DomainFilter{})
	if err != nil {
		return billing.Summary{}, err
	}
	return billing.Summarize(current, domains), nil
}
