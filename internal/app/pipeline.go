package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/attribution/internal/adapters/repository"
	"github.com/okian/attribution/internal/domain/aggregate"
	"github.com/okian/attribution/internal/domain/matching"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/internal/domain/status"
	"github.com/okian/attribution/pkg/logger"
	"github.com/okian/attribution/pkg/metrics"
)

const sourceRefEmailSent = "email_sent"

// processAll runs every active client in id order, one after the other.
func (s *Service) processAll(ctx context.Context, job *model.ProcessingJob) error {
	clients, err := s.source.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })

	for _, c := range clients {
		if job.Checkpoint.LastCompletedClientID != "" && c.ID <= job.Checkpoint.LastCompletedClientID {
			continue
		}
		if err := s.processClient(ctx, job, c.ID); err != nil {
			return fmt.Errorf("client %s: %w", c.ID, err)
		}
		job.Checkpoint.LastCompletedClientID = c.ID
		job.Checkpoint.ClientsDone++
		if err := s.saveCheckpoint(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// processClient matches every conversion event of one client in batches,
// checkpointing after each batch, then bills expired reviews.
func (s *Service) processClient(ctx context.Context, job *model.ProcessingJob, clientID string) error {
	cfg, err := s.ClientConfig(ctx, clientID)
	if err != nil {
		return err
	}
	cp := &job.Checkpoint

	if cp.CurrentClientID != clientID {
		// First visit of this client in this job: counters are rebuilt from scratch.
		if err := s.store.ResetCounters(ctx, clientID); err != nil {
			return fmt.Errorf("reset counters: %w", err)
		}
		total, err := s.source.CountConversionEvents(ctx, clientID, 0)
		if err != nil {
			return fmt.Errorf("count conversion events: %w", err)
		}
		cp.CurrentClientID = clientID
		cp.LastProcessedEventID = 0
		cp.BatchNumber = 0
		cp.TotalEvents += total
		if err := s.saveCheckpoint(ctx, job); err != nil {
			return err
		}
	}

	matcher := matching.New(s.norm, cfg.AttributionWindowDays)
	for {
		events, err := s.source.ListConversionEvents(ctx, clientID, cp.LastProcessedEventID, s.batchSize)
		if err != nil {
			return fmt.Errorf("list conversion events: %w", err)
		}
		if len(events) == 0 {
			break
		}
		deltas, err := s.processBatch(ctx, job, cfg, matcher, events)
		if err != nil {
			return err
		}
		cp.BatchNumber++
		cp.LastProcessedEventID = events[len(events)-1].ID
		// Counters and checkpoint commit together so a resumed job never
		// counts a batch twice.
		job.UpdatedAt = s.now()
		if err := s.store.SaveBatch(ctx, *job, deltas); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}
		if len(events) < s.batchSize {
			break
		}
	}

	billed, err := s.autoBillExpired(ctx, clientID)
	if err != nil {
		return err
	}
	if billed > 0 {
		s.logger.Info(ctx, "expired reviews billed", logger.String("client_id", clientID), logger.Int("domains", billed))
	}
	return nil
}

// processBatch validates, matches and aggregates one batch and returns its
// counter deltas. Only a failed send index build aborts; bad events and
// failed domain writes are logged against the job and skipped.
func (s *Service) processBatch(ctx context.Context, job *model.ProcessingJob, cfg model.ClientConfig, matcher *matching.Matcher, events []model.ConversionEvent) ([]model.Counters, error) {
	start := time.Now()
	defer func() {
		metrics.RecordBatchLatency(float64(time.Since(start).Milliseconds()))
	}()
	cp := &job.Checkpoint
	clientID := cfg.ClientID

	valid := make([]model.ConversionEvent, 0, len(events))
	for _, ev := range events {
		cp.Processed++
		if err := validateEvent(&ev); err != nil {
			cp.ErrorCount++
			s.recordError(ctx, model.ProcessingError{
				JobID: job.ID, ClientID: clientID, EventID: ev.ID, Stage: model.StageEvent, Message: err.Error(),
			})
			metrics.RecordEventError()
			continue
		}
		valid = append(valid, ev)
	}

	emails, domains := matcher.Keys(valid)
	idx, err := s.index.Build(ctx, clientID, emails, domains)
	if err != nil {
		return nil, err
	}

	results := make([]matching.Result, len(valid))
	deltas := make(map[model.EventType]*model.Counters)
	for i, ev := range valid {
		r := matcher.Match(ev, idx)
		results[i] = r
		countResult(cp, deltas, clientID, r)
		metrics.RecordEventMatched(string(ev.Type), r.Label())
	}

	byDomain, _ := aggregate.Group(results)
	names := make([]string, 0, len(byDomain))
	for d := range byDomain {
		names = append(names, d)
	}
	sort.Strings(names)
	for _, domain := range names {
		if err := s.upsertDomain(ctx, cfg, domain, byDomain[domain]); err != nil {
			cp.ErrorCount++
			metrics.RecordDomainError()
			s.recordError(ctx, model.ProcessingError{
				JobID: job.ID, ClientID: clientID, Domain: domain, Stage: model.StageDomain, Message: err.Error(),
			})
			s.logger.Warn(ctx, "domain upsert failed",
				logger.String("job_id", job.ID),
				logger.String("domain", domain),
				logger.Error(err),
			)
		}
	}

	list := make([]model.Counters, 0, len(deltas))
	for _, t := range model.ConversionEventTypes {
		if c, ok := deltas[t]; ok {
			list = append(list, *c)
		}
	}
	return list, nil
}

func validateEvent(ev *model.ConversionEvent) error {
	t, err := model.ParseEventType(string(ev.Type))
	if err != nil {
		return err
	}
	if !t.IsConversion() {
		return fmt.Errorf("%w: %q is not a conversion", model.ErrUnknownEventType, ev.Type)
	}
	if ev.EventTime.IsZero() {
		return fmt.Errorf("%w: event %d has no event time", ErrInvalidInput, ev.ID)
	}
	ev.Type = t
	return nil
}

func countResult(cp *model.Checkpoint, deltas map[model.EventType]*model.Counters, clientID string, r matching.Result) {
	c, ok := deltas[r.Event.Type]
	if !ok {
		c = &model.Counters{ClientID: clientID, EventType: r.Event.Type}
		deltas[r.Event.Type] = c
	}
	c.Total++
	switch r.Outcome {
	case matching.HardMatch:
		c.Hard++
		cp.MatchedHard++
	case matching.SoftMatch:
		c.Soft++
		cp.MatchedSoft++
	default:
		c.NotMatched++
		cp.NoMatch++
	}
	if r.Matched() && !r.IsWithinWindow {
		c.OutsideWindow++
		cp.OutsideWindow++
	}
}

// upsertDomain merges one domain's batch results into the stored record and
// lets the status machine react, inside one store transaction.
func (s *Service) upsertDomain(ctx context.Context, cfg model.ClientConfig, domain string, results []matching.Result) error {
	candidate := aggregate.Fold(cfg.ClientID, domain, results)
	timeline := make([]model.DomainEvent, 0, len(results)+1)
	for _, r := range results {
		meta := map[string]string{model.MetaMatchType: string(r.MatchType())}
		timeline = append(timeline, model.DomainEvent{
			Source:    model.TimelineSourceFor(r.Event.Type),
			EventTime: r.Event.EventTime,
			Email:     r.Email,
			SourceRef: fmt.Sprintf("event:%d", r.Event.ID),
			Metadata:  meta,
		})
	}

	result := "unchanged"
	var transition *model.DomainEvent
	_, err := s.store.MutateDomain(ctx, cfg.ClientID, domain, func(cur *model.AttributedDomain) (*model.AttributedDomain, []model.DomainEvent, error) {
		now := s.now()
		merged, changed := aggregate.MergeAttributedDomain(cur, candidate, now)
		ev, err := status.Automatic(merged, status.Change{Actor: status.ActorSystem, At: now})
		if err != nil {
			return nil, nil, err
		}
		events := append([]model.DomainEvent(nil), timeline...)
		if merged.FirstEmailSentAt != nil {
			events = append(events, model.DomainEvent{
				Source:    model.SourceEmailSent,
				EventTime: *merged.FirstEmailSentAt,
				SourceRef: sourceRefEmailSent,
			})
		}
		if ev != nil {
			ev.Metadata[model.MetaMatchType] = string(merged.MatchType)
			events = append(events, *ev)
			transition = ev
			changed = true
		}
		switch {
		case cur == nil:
			result = "created"
		case changed:
			result = "updated"
		}
		return merged, events, nil
	})
	if err != nil {
		return err
	}
	metrics.RecordDomainUpsert(result)
	if transition != nil {
		recordTransition(transition)
	}
	return nil
}

// autoBillExpired moves pending reviews past their deadline to ATTRIBUTED.
func (s *Service) autoBillExpired(ctx context.Context, clientID string) (int, error) {
	pending, err := s.store.ListDomains(ctx, clientID, repository.DomainFilter{
		Statuses: []model.Status{model.StatusPendingClientReview},
	})
	if err != nil {
		return 0, fmt.Errorf("list pending reviews: %w", err)
	}
	billed := 0
	for _, d := range pending {
		if !status.ReviewExpired(d, s.now()) {
			continue
		}
		var transition *model.DomainEvent
		_, err := s.store.MutateDomain(ctx, clientID, d.Domain, func(cur *model.AttributedDomain) (*model.AttributedDomain, []model.DomainEvent, error) {
			if cur == nil {
				return nil, nil, nil
			}
			ev, err := status.AutoBill(cur, s.now())
			if err != nil || ev == nil {
				return nil, nil, err
			}
			transition = ev
			return cur, []model.DomainEvent{*ev}, nil
		})
		if err != nil {
			s.logger.Warn(ctx, "auto bill failed", logger.String("domain", d.Domain), logger.Error(err))
			metrics.RecordDomainError()
			continue
		}
		if transition != nil {
			recordTransition(transition)
			billed++
		}
	}
	return billed, nil
}

func (s *Service) saveCheckpoint(ctx context.Context, job *model.ProcessingJob) error {
	job.UpdatedAt = s.now()
	if err := s.store.UpdateJob(ctx, *job); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *Service) recordError(ctx context.Context, e model.ProcessingError) {
	e.CreatedAt = s.now()
	s.logger.Warn(ctx, "processing error",
		logger.String("job_id", e.JobID),
		logger.Int64("event_id", e.EventID),
		logger.String("domain", e.Domain),
		logger.String("stage", string(e.Stage)),
		logger.String("message", e.Message),
	)
	if err := s.store.RecordError(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error(ctx, "failed to record processing error", logger.Error(err))
	}
}

func recordTransition(ev *model.DomainEvent) {
	metrics.RecordStatusTransition(ev.Metadata[model.MetaOldStatus], ev.Metadata[model.MetaNewStatus], ev.Metadata[model.MetaAction])
}
