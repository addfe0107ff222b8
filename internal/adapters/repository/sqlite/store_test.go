package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/attribution/internal/adapters/repository"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "engine.db"),
		WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr(t time.Time) *time.Time { return &t }

func TestClientConfigs(t *testing.T) {
	convey.Convey("Given an empty store", t, func() {
		ctx := context.Background()
		s := openTempStore(t)

		convey.Convey("When a missing config is read", func() {
			_, err := s.GetClientConfig(ctx, "c1")

			convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("When configs are ensured and put", func() {
			cfg := model.ClientConfig{ClientID: "c1", Name: "Acme", AttributionWindowDays: 31, BillingCycle: model.CycleMonthly, ReviewWindowDays: 7}
			created, err := s.EnsureClientConfig(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(created, convey.ShouldBeTrue)

			cfg.AttributionWindowDays = 90
			created, err = s.EnsureClientConfig(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(created, convey.ShouldBeFalse)

			got, err := s.GetClientConfig(ctx, "c1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.AttributionWindowDays, convey.ShouldEqual, 31)
			convey.So(got.ContractStartDate, convey.ShouldBeNil)
			convey.So(got.CreatedAt, convey.ShouldEqual, fixedNow)

			start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			cfg.ContractStartDate = &start
			cfg.BillingCycle = model.Cycle28Day
			convey.So(s.PutClientConfig(ctx, cfg), convey.ShouldBeNil)

			got, err = s.GetClientConfig(ctx, "c1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.AttributionWindowDays, convey.ShouldEqual, 90)
			convey.So(got.BillingCycle, convey.ShouldEqual, model.Cycle28Day)
			convey.So(*got.ContractStartDate, convey.ShouldEqual, start)

			all, err := s.ListClientConfigs(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(all), convey.ShouldEqual, 1)
		})

		convey.Convey("When an invalid config is put", func() {
			err := s.PutClientConfig(ctx, model.ClientConfig{ClientID: "c1", BillingCycle: "weekly"})

			convey.So(errors.Is(err, repository.ErrInvalidInput), convey.ShouldBeTrue)
		})
	})
}

func TestCounters(t *testing.T) {
	convey.Convey("Given counter deltas", t, func() {
		ctx := context.Background()
		s := openTempStore(t)

		delta := []model.Counters{
			{ClientID: "c1", EventType: model.EventSignUp, Total: 3, Hard: 1, Soft: 1, NotMatched: 1},
			{ClientID: "c1", EventType: model.EventMeetingBooked, Total: 1, OutsideWindow: 1},
		}
		convey.So(s.AddCounters(ctx, delta), convey.ShouldBeNil)
		convey.So(s.AddCounters(ctx, delta[:1]), convey.ShouldBeNil)

		got, err := s.GetCounters(ctx, "c1")

		convey.Convey("Then increments accumulate per event type", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(got, convey.ShouldResemble, []model.Counters{
				{ClientID: "c1", EventType: model.EventMeetingBooked, Total: 1, OutsideWindow: 1},
				{ClientID: "c1", EventType: model.EventSignUp, Total: 6, Hard: 2, Soft: 2, NotMatched: 2},
			})
		})

		convey.Convey("When the counters are reset", func() {
			convey.So(s.ResetCounters(ctx, "c1"), convey.ShouldBeNil)
			got, err := s.GetCounters(ctx, "c1")

			convey.So(err, convey.ShouldBeNil)
			convey.So(got, convey.ShouldBeEmpty)
		})
	})
}

func TestMutateDomain(t *testing.T) {
	convey.Convey("Given an empty store", t, func() {
		ctx := context.Background()
		s := openTempStore(t)

		create := func(current *model.AttributedDomain) (*model.AttributedDomain, []model.DomainEvent, error) {
			d := &model.AttributedDomain{
				FirstEmailSentAt: ptr(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
				FirstEventAt:     ptr(time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)),
				LastEventAt:      ptr(time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)),
				HasSignUp:        true,
				IsWithinWindow:   true,
				MatchType:        model.MatchHard,
				Status:           model.StatusAttributed,
				MatchedEmails:    []string{"jane@acme.com"},
			}
			events := []model.DomainEvent{
				{Source: model.SourceSignUp, EventTime: *d.FirstEventAt, Email: "jane@acme.com", SourceRef: "event:1"},
				{Source: model.SourceStatusChange, EventTime: fixedNow, Metadata: map[string]string{model.MetaNewStatus: "ATTRIBUTED"}},
			}
			return d, events, nil
		}

		created, err := s.MutateDomain(ctx, "c1", "acme.com", create)

		convey.Convey("Then the domain and its timeline are stored", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(created.ID, convey.ShouldNotBeEmpty)

			got, err := s.GetDomain(ctx, "c1", "acme.com")
			convey.So(err, convey.ShouldBeNil)
			convey.So(got, convey.ShouldResemble, created)
			convey.So(got.CreatedAt, convey.ShouldEqual, fixedNow)

			events, err := s.ListDomainEvents(ctx, got.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(events), convey.ShouldEqual, 2)
			convey.So(events[0].Source, convey.ShouldEqual, model.SourceSignUp)
			convey.So(events[0].AttributedDomainID, convey.ShouldEqual, got.ID)
			convey.So(events[1].Metadata[model.MetaNewStatus], convey.ShouldEqual, "ATTRIBUTED")
		})

		convey.Convey("When the mutation sees the stored row", func() {
			var seen *model.AttributedDomain
			updated, err := s.MutateDomain(ctx, "c1", "acme.com", func(cur *model.AttributedDomain) (*model.AttributedDomain, []model.DomainEvent, error) {
				seen = cur
				cur.HasPayingCustomer = true
				cur.MatchedEmails = append(cur.MatchedEmails, "bob@acme.com")
				return cur, []model.DomainEvent{
					{Source: model.SourceSignUp, EventTime: *cur.FirstEventAt, SourceRef: "event:1"},
					{Source: model.SourcePayingCustomer, EventTime: fixedNow, SourceRef: "event:2"},
				}, nil
			})

			convey.Convey("Then the update is applied and duplicate refs are skipped", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(seen, convey.ShouldNotBeNil)
				convey.So(updated.ID, convey.ShouldEqual, created.ID)

				got, _ := s.GetDomain(ctx, "c1", "acme.com")
				convey.So(got.HasPayingCustomer, convey.ShouldBeTrue)
				convey.So(got.HasSignUp, convey.ShouldBeTrue)
				convey.So(got.MatchedEmails, convey.ShouldResemble, []string{"jane@acme.com", "bob@acme.com"})

				events, _ := s.ListDomainEvents(ctx, got.ID)
				convey.So(len(events), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When a timeline mutation runs on the stored row", func() {
			var seen []model.DomainEvent
			_, err := s.MutateDomainWithTimeline(ctx, "c1", "acme.com", func(cur *model.AttributedDomain, timeline []model.DomainEvent) (*model.AttributedDomain, []model.DomainEvent, error) {
				seen = timeline
				return cur, []model.DomainEvent{{Source: model.SourcePositiveReply, EventTime: fixedNow}}, nil
			})

			convey.Convey("Then it sees the timeline as stored before the write", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(seen), convey.ShouldEqual, 2)
				convey.So(seen[0].SourceRef, convey.ShouldEqual, "event:1")
				events, _ := s.ListDomainEvents(ctx, created.ID)
				convey.So(len(events), convey.ShouldEqual, 3)
			})

			convey.Convey("And a new domain gets no timeline", func() {
				var calls int
				_, err := s.MutateDomainWithTimeline(ctx, "c1", "gamma.io", func(cur *model.AttributedDomain, timeline []model.DomainEvent) (*model.AttributedDomain, []model.DomainEvent, error) {
					calls++
					convey.So(cur, convey.ShouldBeNil)
					convey.So(timeline, convey.ShouldBeNil)
					return nil, nil, nil
				})
				convey.So(err, convey.ShouldBeNil)
				convey.So(calls, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the mutation returns no row", func() {
			got, err := s.MutateDomain(ctx, "c1", "acme.com", func(*model.AttributedDomain) (*model.AttributedDomain, []model.DomainEvent, error) {
				return nil, []model.DomainEvent{{Source: model.SourceSignUp, EventTime: fixedNow}}, nil
			})

			convey.So(err, convey.ShouldBeNil)
			convey.So(got, convey.ShouldResemble, created)
			events, _ := s.ListDomainEvents(ctx, created.ID)
			convey.So(len(events), convey.ShouldEqual, 2)
		})

		convey.Convey("When the mutation fails", func() {
			boom := errors.New("boom")
			_, err := s.MutateDomain(ctx, "c1", "beta.io", func(*model.AttributedDomain) (*model.AttributedDomain, []model.DomainEvent, error) {
				return nil, nil, boom
			})

			convey.So(errors.Is(err, boom), convey.ShouldBeTrue)
			_, err = s.GetDomain(ctx, "c1", "beta.io")
			convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("When domains are listed by status", func() {
			_, err := s.MutateDomain(ctx, "c1", "beta.io", func(*model.AttributedDomain) (*model.AttributedDomain, []model.DomainEvent, error) {
				return &model.AttributedDomain{MatchType: model.MatchNone, Status: model.StatusUnattributed}, nil, nil
			})
			convey.So(err, convey.ShouldBeNil)

			all, err := s.ListDomains(ctx, "c1", repository.DomainFilter{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(all), convey.ShouldEqual, 2)

			unattributed, err := s.ListDomains(ctx, "c1", repository.DomainFilter{Statuses: []model.Status{model.StatusUnattributed}})
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(unattributed), convey.ShouldEqual, 1)
			convey.So(unattributed[0].Domain, convey.ShouldEqual, "beta.io")
			convey.So(unattributed[0].MatchedEmails, convey.ShouldBeNil)

			page, err := s.ListDomains(ctx, "c1", repository.DomainFilter{Limit: 1, Offset: 1})
			convey.So(err, convey.ShouldBeNil)
			convey.So(page[0].Domain, convey.ShouldEqual, "beta.io")
		})

		convey.Convey("When a row holds a legacy status", func() {
			_, err := s.db.ExecContext(ctx, `UPDATE attributed_domains SET status = 'DISPUTE_PENDING' WHERE domain = 'acme.com'`)
			convey.So(err, convey.ShouldBeNil)

			got, err := s.GetDomain(ctx, "c1", "acme.com")

			convey.So(err, convey.ShouldBeNil)
			convey.So(got.Status, convey.ShouldEqual, model.StatusPendingClientReview)
		})
	})
}

func TestJobs(t *testing.T) {
	convey.Convey("Given a stored job", t, func() {
		ctx := context.Background()
		s := openTempStore(t)

		job := model.ProcessingJob{ID: "job-1", Kind: model.JobProcessClient, ClientID: "c1", Status: model.JobPending}
		convey.So(s.CreateJob(ctx, job), convey.ShouldBeNil)
		convey.So(s.CreateJob(ctx, model.ProcessingJob{ID: "job-2", Kind: model.JobSyncClients, Status: model.JobCompleted}), convey.ShouldBeNil)

		convey.Convey("When it is checkpointed", func() {
			started := fixedNow
			job.Status = model.JobRunning
			job.StartedAt = &started
			job.Checkpoint = model.Checkpoint{TotalEvents: 10, Processed: 5, MatchedHard: 2, BatchNumber: 1, LastProcessedEventID: 42}
			convey.So(s.UpdateJob(ctx, job), convey.ShouldBeNil)

			got, err := s.GetJob(ctx, "job-1")

			convey.Convey("Then the checkpoint round trips", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.Status, convey.ShouldEqual, model.JobRunning)
				convey.So(got.Checkpoint, convey.ShouldResemble, job.Checkpoint)
				convey.So(*got.StartedAt, convey.ShouldEqual, started)
				convey.So(got.FinishedAt, convey.ShouldBeNil)
			})

			convey.Convey("Then it is listed as unfinished", func() {
				open, err := s.ListJobs(ctx, model.JobPending, model.JobRunning)
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(open), convey.ShouldEqual, 1)
				convey.So(open[0].ID, convey.ShouldEqual, "job-1")

				all, err := s.ListJobs(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(all), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When a batch is saved", func() {
			delta := []model.Counters{{ClientID: "c1", EventType: model.EventSignUp, Total: 2, Hard: 1, NotMatched: 1}}
			job.Status = model.JobRunning
			job.Checkpoint = model.Checkpoint{BatchNumber: 1, LastProcessedEventID: 9, Processed: 2}
			convey.So(s.SaveBatch(ctx, job, delta), convey.ShouldBeNil)

			got, err := s.GetJob(ctx, "job-1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.Checkpoint, convey.ShouldResemble, job.Checkpoint)
			counters, err := s.GetCounters(ctx, "c1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(counters, convey.ShouldResemble, delta)

			convey.Convey("Then a batch for an unknown job leaves the counters untouched", func() {
				err := s.SaveBatch(ctx, model.ProcessingJob{ID: "nope", Status: model.JobRunning}, delta)
				convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)

				counters, err := s.GetCounters(ctx, "c1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(counters, convey.ShouldResemble, delta)
			})
		})

		convey.Convey("When unknown jobs are accessed", func() {
			_, err := s.GetJob(ctx, "nope")
			convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)

			err = s.UpdateJob(ctx, model.ProcessingJob{ID: "nope", Status: model.JobFailed})
			convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("When errors are recorded", func() {
			convey.So(s.RecordError(ctx, model.ProcessingError{JobID: "job-1", ClientID: "c1", EventID: 7, Stage: model.StageEvent, Message: "bad email"}), convey.ShouldBeNil)
			convey.So(s.RecordError(ctx, model.ProcessingError{JobID: "job-1", ClientID: "c1", Domain: "acme.com", Stage: model.StageDomain, Message: "locked"}), convey.ShouldBeNil)

			errs, err := s.ListErrors(ctx, "job-1", 10)

			convey.So(err, convey.ShouldBeNil)
			convey.So(len(errs), convey.ShouldEqual, 2)
			convey.So(errs[0].EventID, convey.ShouldEqual, 7)
			convey.So(errs[1].Stage, convey.ShouldEqual, model.StageDomain)
			convey.So(errs[1].CreatedAt, convey.ShouldEqual, fixedNow)

			_, err = s.ListErrors(ctx, "job-1", 0)
			convey.So(errors.Is(err, repository.ErrInvalidInput), convey.ShouldBeTrue)
		})
	})
}
