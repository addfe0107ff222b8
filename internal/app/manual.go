package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/attribution/internal/adapters/repository"
	"github.com/okian/attribution/internal/domain/aggregate"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/internal/domain/status"
	"github.com/okian/attribution/pkg/logger"
)

// ManualEvent is a timeline entry added from the dashboard.
type ManualEvent struct {
	ClientID  string
	Domain    string // raw domain, URL or email; Email is used when empty
	Email     string
	Type      model.EventType
	EventTime time.Time
	Actor     string
	Reason    string
	// Promote escalates the domain to CLIENT_PROMOTED when it is new or
	// not billable.
	Promote bool
}

// AddManualEvent records a manual event for a domain, creating the domain
// when needed, and recomputes its window, match type and status.
func (s *Service) AddManualEvent(ctx context.Context, in ManualEvent) (*model.AttributedDomain, error) {
	domain, email, err := s.manualKeys(in)
	if err != nil {
		return nil, err
	}
	t, err := model.ParseEventType(string(in.Type))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if in.EventTime.IsZero() {
		return nil, fmt.Errorf("%w: event time is required", ErrInvalidInput)
	}
	cfg, err := s.ClientConfig(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}

	at := in.EventTime.UTC()
	entry := model.DomainEvent{
		Source:    model.TimelineSourceFor(t),
		EventTime: at,
		Email:     email,
		Metadata:  map[string]string{model.MetaManual: "true", model.MetaActor: in.Actor},
	}
	if in.Reason != "" {
		entry.Metadata[model.MetaReason] = in.Reason
	}

	var transitions []model.DomainEvent
	d, err := s.store.MutateDomainWithTimeline(ctx, in.ClientID, domain, func(cur *model.AttributedDomain, history []model.DomainEvent) (*model.AttributedDomain, []model.DomainEvent, error) {
		now := s.now()
		d := cur
		if d == nil {
			d = &model.AttributedDomain{ClientID: in.ClientID, Domain: domain, MatchType: model.MatchNone, CreatedAt: now}
		}
		if t == model.EventEmailSent {
			d.FirstEmailSentAt = minTime(d.FirstEmailSentAt, at)
		} else {
			d.FirstEventAt = minTime(d.FirstEventAt, at)
			if d.LastEventAt == nil || at.After(*d.LastEventAt) {
				d.LastEventAt = &at
			}
			d.SetFlag(t)
		}
		aggregate.Recompute(d, append(history, entry), cfg.AttributionWindowDays)
		d.UpdatedAt = now

		c := status.Change{Actor: in.Actor, Reason: in.Reason, At: now}
		events := []model.DomainEvent{entry}
		// A promoted new domain is created directly in CLIENT_PROMOTED.
		steps := []func(*model.AttributedDomain, status.Change) (*model.DomainEvent, error){status.Recompute, status.Promote}
		switch {
		case cur == nil && in.Promote:
			steps = steps[1:]
		case !in.Promote:
			steps = steps[:1]
		}
		for _, step := range steps {
			ev, err := step(d, c)
			if err != nil {
				return nil, nil, err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
		transitions = events[1:]
		return d, events, nil
	})
	if err != nil {
		return nil, err
	}
	for i := range transitions {
		recordTransition(&transitions[i])
	}
	s.logger.Info(ctx, "manual event added",
		logger.String("client_id", in.ClientID),
		logger.String("domain", domain),
		logger.String("type", string(t)),
		logger.String("status", string(d.Status)),
	)
	return d, nil
}

func (s *Service) manualKeys(in ManualEvent) (domain, email string, err error) {
	if in.ClientID == "" {
		return "", "", fmt.Errorf("%w: client id is required", ErrInvalidInput)
	}
	if in.Email != "" {
		email, _ = s.norm.Email(in.Email)
	}
	raw := in.Domain
	if raw == "" {
		raw = in.Email
	}
	domain, ok := s.norm.Domain(raw)
	if !ok {
		return "", "", fmt.Errorf("%w: no usable domain in %q", ErrInvalidInput, raw)
	}
	return domain, email, nil
}

// ReviewAction describes a review, dispute or review response.
type ReviewAction struct {
	ClientID string
	Domain   string
	Actor    string
	Reason   string
}

// SendForReview asks the client to confirm an ATTRIBUTED domain.
func (s *Service) SendForReview(ctx context.Context, a ReviewAction) (*model.AttributedDomain, error) {
	return s.review(ctx, a, func(d *model.AttributedDomain, cfg model.ClientConfig, c status.Change) (*model.DomainEvent, error) {
		return status.SendForReview(d, cfg.ReviewWindowDays, c)
	})
}

// Dispute records a client dispute of an ATTRIBUTED domain.
func (s *Service) Dispute(ctx context.Context, a ReviewAction) (*model.AttributedDomain, error) {
	return s.review(ctx, a, func(d *model.AttributedDomain, cfg model.ClientConfig, c status.Change) (*model.DomainEvent, error) {
		return status.Dispute(d, cfg.ReviewWindowDays, c)
	})
}

// RespondReview resolves a pending review. confirm returns the domain to
// ATTRIBUTED, otherwise it becomes CLIENT_REJECTED.
func (s *Service) RespondReview(ctx context.Context, a ReviewAction, confirm bool) (*model.AttributedDomain, error) {
	return s.review(ctx, a, func(d *model.AttributedDomain, _ model.ClientConfig, c status.Change) (*model.DomainEvent, error) {
		return status.Respond(d, confirm, c)
	})
}

type reviewFunc func(d *model.AttributedDomain, cfg model.ClientConfig, c status.Change) (*model.DomainEvent, error)

func (s *Service) review(ctx context.Context, a ReviewAction, fn reviewFunc) (*model.AttributedDomain, error) {
	if a.ClientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrInvalidInput)
	}
	domain, ok := s.norm.Domain(a.Domain)
	if !ok {
		return nil, fmt.Errorf("%w: no usable domain in %q", ErrInvalidInput, a.Domain)
	}
	cfg, err := s.ClientConfig(ctx, a.ClientID)
	if err != nil {
		return nil, err
	}

	var transition *model.DomainEvent
	d, err := s.store.MutateDomain(ctx, a.ClientID, domain, func(cur *model.AttributedDomain) (*model.AttributedDomain, []model.DomainEvent, error) {
		if cur == nil {
			return nil, nil, fmt.Errorf("domain %s: %w", domain, repository.ErrNotFound)
		}
		ev, err := fn(cur, cfg, status.Change{Actor: a.Actor, Reason: a.Reason, At: s.now()})
		if err != nil || ev == nil {
			return nil, nil, err
		}
		transition = ev
		return cur, []model.DomainEvent{*ev}, nil
	})
	if err != nil {
		return nil, err
	}
	if transition == nil {
		return d, nil
	}
	recordTransition(transition)
	s.logger.Info(ctx, "domain status changed",
		logger.String("client_id", a.ClientID),
		logger.String("domain", domain),
		logger.String("action", transition.Metadata[model.MetaAction]),
		logger.String("status", string(d.Status)),
	)
	return d, nil
}

func minTime(cur *time.Time, t time.Time) *time.Time {
	if cur != nil && !t.Before(*cur) {
		return cur
	}
	return &t
}
