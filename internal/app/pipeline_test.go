package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/attribution/internal/adapters/repository"
	service "github.com/okian/attribution/internal/app"
	"github.com/okian/attribution/internal/domain/billing"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/internal/domain/status"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPipeline_ProcessClient(t *testing.T) {
	Convey("Given a seeded source", t, func() {
		f := newFixture(t, nil)
		f.seed(t)
		ctx := context.Background()

		Convey("When the client is processed", func() {
			job, err := f.svc.RunJob(ctx, model.JobProcessClient, "c1")
			So(err, ShouldBeNil)

			Convey("Then the job checkpoint reflects every event", func() {
				So(job.Status, ShouldEqual, model.JobCompleted)
				cp := job.Checkpoint
				So(cp.TotalEvents, ShouldEqual, 5)
				So(cp.Processed, ShouldEqual, 5)
				So(cp.ErrorCount, ShouldEqual, 1)
				So(cp.MatchedHard, ShouldEqual, 1)
				So(cp.MatchedSoft, ShouldEqual, 1)
				So(cp.OutsideWindow, ShouldEqual, 1)
				So(cp.NoMatch, ShouldEqual, 2)
				So(cp.BatchNumber, ShouldEqual, 3)
				So(cp.LastProcessedEventID, ShouldEqual, f.ids["badtype"])
			})

			Convey("Then the malformed event is logged against the job", func() {
				errs, err := f.svc.ListJobErrors(ctx, job.ID, 10)
				So(err, ShouldBeNil)
				So(len(errs), ShouldEqual, 1)
				So(errs[0].EventID, ShouldEqual, f.ids["badtype"])
				So(errs[0].Stage, ShouldEqual, model.StageEvent)
			})

			Convey("Then hard beats soft and the window is OR'd", func() {
				d := f.domain("c1", "acme.com")
				So(d.MatchType, ShouldEqual, model.MatchHard)
				So(d.IsWithinWindow, ShouldBeTrue)
				So(d.Status, ShouldEqual, model.StatusAttributed)
				So(d.HasSignUp, ShouldBeTrue)
				So(d.HasMeetingBooked, ShouldBeTrue)
				So(*d.FirstEmailSentAt, ShouldEqual, date(time.January, 1))
				So(*d.FirstEventAt, ShouldEqual, date(time.February, 1))
				So(*d.LastEventAt, ShouldEqual, date(time.February, 2))
				So(d.MatchedEmails, ShouldResemble, []string{"carl@acme.com", "jane@acme.com"})
			})

			Convey("Then a conversion before the first send is unattributed", func() {
				d := f.domain("c1", "beta.co.uk")
				So(d.MatchType, ShouldEqual, model.MatchNone)
				So(d.Status, ShouldEqual, model.StatusUnattributed)
				So(d.FirstEmailSentAt, ShouldBeNil)
			})

			Convey("Then the timeline holds the events, the first send and the status change", func() {
				timeline, err := f.svc.DomainTimeline(ctx, "c1", "https://www.acme.com/pricing")
				So(err, ShouldBeNil)
				sources := map[model.TimelineSource]int{}
				for _, ev := range timeline {
					sources[ev.Source]++
				}
				So(sources[model.SourceSignUp], ShouldEqual, 1)
				So(sources[model.SourceMeetingBooked], ShouldEqual, 1)
				So(sources[model.SourceEmailSent], ShouldEqual, 1)
				So(sources[model.SourceStatusChange], ShouldEqual, 1)
			})

			Convey("Then the counters are split by event type", func() {
				counters, err := f.svc.Counters(ctx, "c1")
				So(err, ShouldBeNil)
				byType := map[model.EventType]model.Counters{}
				for _, c := range counters {
					byType[c.EventType] = c
				}
				So(byType[model.EventSignUp].Total, ShouldEqual, 2)
				So(byType[model.EventSignUp].Hard, ShouldEqual, 1)
				So(byType[model.EventSignUp].NotMatched, ShouldEqual, 1)
				So(byType[model.EventMeetingBooked].Soft, ShouldEqual, 1)
				So(byType[model.EventMeetingBooked].OutsideWindow, ShouldEqual, 1)
				So(byType[model.EventPayingCustomer].NotMatched, ShouldEqual, 1)
			})

			Convey("And it is processed again", func() {
				before, err := f.svc.ListDomains(ctx, "c1", repository.DomainFilter{})
				So(err, ShouldBeNil)
				timelineBefore, err := f.svc.DomainTimeline(ctx, "c1", "acme.com")
				So(err, ShouldBeNil)

				f.clock.Set(date(time.February, 11))
				again, err := f.svc.RunJob(ctx, model.JobProcessClient, "c1")
				So(err, ShouldBeNil)

				Convey("Then domains, timelines and counters are unchanged", func() {
					after, err := f.svc.ListDomains(ctx, "c1", repository.DomainFilter{})
					So(err, ShouldBeNil)
					So(after, ShouldResemble, before)

					timelineAfter, err := f.svc.DomainTimeline(ctx, "c1", "acme.com")
					So(err, ShouldBeNil)
					So(len(timelineAfter), ShouldEqual, len(timelineBefore))

					So(again.Checkpoint.MatchedHard, ShouldEqual, 1)
					counters, err := f.svc.Counters(ctx, "c1")
					So(err, ShouldBeNil)
					total := int64(0)
					for _, c := range counters {
						total += c.Total
					}
					So(total, ShouldEqual, 4)
				})
			})
		})
	})
}

func TestPipeline_ProcessAll(t *testing.T) {
	Convey("Given two active clients", t, func() {
		f := newFixture(t, nil)
		f.seed(t)
		ctx := context.Background()
		So(f.source.InsertClient(ctx, model.Client{ID: "c2", Name: "Beta", Active: true}, "", ""), ShouldBeNil)
		p, err := f.source.InsertProspect(ctx, "c2", "ann@delta.com", "delta.com")
		So(err, ShouldBeNil)
		So(f.source.InsertConversation(ctx, p, "Sent", date(time.January, 2)), ShouldBeNil)
		_, err = f.source.InsertConversionEvent(ctx, model.ConversionEvent{
			ClientID: "c2", Type: model.EventPayingCustomer, Email: "ann@delta.com", EventTime: date(time.January, 30),
		})
		So(err, ShouldBeNil)

		Convey("When all clients are processed", func() {
			job, err := f.svc.RunJob(ctx, model.JobProcessAll, "")
			So(err, ShouldBeNil)

			Convey("Then each client is processed with its own state", func() {
				So(job.Status, ShouldEqual, model.JobCompleted)
				So(job.Checkpoint.ClientsDone, ShouldEqual, 2)
				So(job.Checkpoint.LastCompletedClientID, ShouldEqual, "c2")
				So(job.Checkpoint.TotalEvents, ShouldEqual, 6)
				So(job.Checkpoint.Processed, ShouldEqual, 6)

				So(f.domain("c1", "acme.com").Status, ShouldEqual, model.StatusAttributed)
				d := f.domain("c2", "delta.com")
				So(d.Status, ShouldEqual, model.StatusAttributed)
				So(d.HasPayingCustomer, ShouldBeTrue)
				_, err := f.store.GetDomain(ctx, "c2", "acme.com")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the same client job is already in flight", func() {
			So(f.svc.Start(ctx), ShouldBeNil)
			defer f.svc.Stop(ctx)
			first, err := f.svc.ProcessAll(ctx)
			So(err, ShouldBeNil)
			second, err := f.svc.ProcessAll(ctx)
			So(err, ShouldBeNil)
			waitForJob(f.svc, first)

			Convey("Then either the first id is returned or the first job had already finished", func() {
				if second != first {
					job := waitForJob(f.svc, second)
					So(job.Status, ShouldEqual, model.JobCompleted)
				}
			})
		})
	})
}

func TestPipeline_StatusRules(t *testing.T) {
	Convey("Given a processed client", t, func() {
		f := newFixture(t, nil)
		f.seed(t)
		ctx := context.Background()
		_, err := f.svc.RunJob(ctx, model.JobProcessClient, "c1")
		So(err, ShouldBeNil)

		Convey("When an unattributed domain is promoted by a manual event", func() {
			d, err := f.svc.AddManualEvent(ctx, service.ManualEvent{
				ClientID: "c1", Domain: "beta.co.uk", Type: model.EventPositiveReply,
				EventTime: date(time.January, 6), Actor: "am@agency.com", Promote: true,
			})
			So(err, ShouldBeNil)
			So(d.Status, ShouldEqual, model.StatusClientPromoted)
			So(d.HasPositiveReply, ShouldBeTrue)

			Convey("Then an automatic rerun keeps it promoted", func() {
				_, err := f.svc.RunJob(ctx, model.JobProcessClient, "c1")
				So(err, ShouldBeNil)
				So(f.domain("c1", "beta.co.uk").Status, ShouldEqual, model.StatusClientPromoted)
			})
		})

		Convey("When a manual event promotes a domain that has no record", func() {
			d, err := f.svc.AddManualEvent(ctx, service.ManualEvent{
				ClientID: "c1", Domain: "brandnew.io", Type: model.EventSignUp,
				EventTime: date(time.January, 8), Actor: "am@agency.com", Promote: true,
			})
			So(err, ShouldBeNil)
			So(d.Status, ShouldEqual, model.StatusClientPromoted)

			Convey("Then exactly one status change is audited, straight to promoted", func() {
				timeline, err := f.svc.DomainTimeline(ctx, "c1", "brandnew.io")
				So(err, ShouldBeNil)
				var changes []model.DomainEvent
				for _, ev := range timeline {
					if ev.Source == model.SourceStatusChange {
						changes = append(changes, ev)
					}
				}
				So(changes, ShouldHaveLength, 1)
				So(changes[0].Metadata[model.MetaOldStatus], ShouldEqual, "")
				So(changes[0].Metadata[model.MetaNewStatus], ShouldEqual, string(model.StatusClientPromoted))
				So(changes[0].Metadata[model.MetaAction], ShouldEqual, string(status.ActionManualPromote))
			})
		})

		Convey("When an earlier first send is entered manually", func() {
			f.clock.Set(date(time.February, 11))
			d, err := f.svc.AddManualEvent(ctx, service.ManualEvent{
				ClientID: "c1", Email: "x@beta.co.uk", Type: model.EventEmailSent,
				EventTime: date(time.January, 3), Actor: "am@agency.com",
			})
			So(err, ShouldBeNil)

			Convey("Then the domain is recomputed to attributed", func() {
				So(*d.FirstEmailSentAt, ShouldEqual, date(time.January, 3))
				So(d.IsWithinWindow, ShouldBeTrue)
				So(d.MatchType, ShouldEqual, model.MatchManual)
				So(d.Status, ShouldEqual, model.StatusAttributed)

				timeline, err := f.svc.DomainTimeline(ctx, "c1", "beta.co.uk")
				So(err, ShouldBeNil)
				change, ok := findAction(timeline, status.ActionManualRecompute)
				So(ok, ShouldBeTrue)
				So(change.Source, ShouldEqual, model.SourceStatusChange)
				So(change.Metadata[model.MetaOldStatus], ShouldEqual, string(model.StatusUnattributed))
				So(change.Metadata[model.MetaNewStatus], ShouldEqual, string(model.StatusAttributed))
			})
		})

		Convey("When a manual event has no usable domain", func() {
			_, err := f.svc.AddManualEvent(ctx, service.ManualEvent{
				ClientID: "c1", Domain: "localhost", Type: model.EventSignUp, EventTime: date(time.January, 3),
			})
			So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When an attributed domain is sent for review and rejected", func() {
			a := service.ReviewAction{ClientID: "c1", Domain: "acme.com", Actor: "am@agency.com"}
			d, err := f.svc.SendForReview(ctx, a)
			So(err, ShouldBeNil)
			So(d.Status, ShouldEqual, model.StatusPendingClientReview)
			So(*d.Review.Deadline, ShouldEqual, f.clock.Now().AddDate(0, 0, 7))

			a.Actor, a.Reason = "cfo@acme.com", "existing customer"
			d, err = f.svc.RespondReview(ctx, a, false)
			So(err, ShouldBeNil)

			Convey("Then the rejection holds across reruns", func() {
				So(d.Status, ShouldEqual, model.StatusClientRejected)
				So(d.Review.RespondedBy, ShouldEqual, "cfo@acme.com")
				_, err := f.svc.RunJob(ctx, model.JobProcessClient, "c1")
				So(err, ShouldBeNil)
				So(f.domain("c1", "acme.com").Status, ShouldEqual, model.StatusClientRejected)
			})
		})

		Convey("When a client disputes and never responds", func() {
			_, err := f.svc.Dispute(ctx, service.ReviewAction{ClientID: "c1", Domain: "acme.com", Actor: "cfo@acme.com", Reason: "found us on google"})
			So(err, ShouldBeNil)

			f.clock.Set(f.clock.Now().AddDate(0, 0, 8))
			_, err = f.svc.RunJob(ctx, model.JobProcessClient, "c1")
			So(err, ShouldBeNil)

			Convey("Then the next run bills it automatically", func() {
				d := f.domain("c1", "acme.com")
				So(d.Status, ShouldEqual, model.StatusAttributed)

				timeline, err := f.svc.DomainTimeline(ctx, "c1", "acme.com")
				So(err, ShouldBeNil)
				change, ok := findAction(timeline, status.ActionAutoBill)
				So(ok, ShouldBeTrue)
				So(change.Metadata[model.MetaActor], ShouldEqual, status.ActorSystem)
				So(change.Metadata[model.MetaOldStatus], ShouldEqual, string(model.StatusPendingClientReview))
			})
		})

		Convey("When a review is requested for a domain that is not attributed", func() {
			_, err := f.svc.SendForReview(ctx, service.ReviewAction{ClientID: "c1", Domain: "beta.co.uk"})
			So(errors.Is(err, status.ErrInvalidTransition), ShouldBeTrue)
		})

		Convey("When a review is requested for an unknown domain", func() {
			_, err := f.svc.SendForReview(ctx, service.ReviewAction{ClientID: "c1", Domain: "nowhere.com"})
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestBilling(t *testing.T) {
	Convey("Given a processed client with a monthly contract", t, func() {
		f := newFixture(t, nil)
		f.seed(t)
		ctx := context.Background()
		_, err := f.svc.RunJob(ctx, model.JobProcessClient, "c1")
		So(err, ShouldBeNil)

		Convey("When no contract start is configured", func() {
			_, err := f.svc.Periods(ctx, "c1")
			So(errors.Is(err, billing.ErrNoContractStart), ShouldBeTrue)
		})

		Convey("When the contract started on January 1", func() {
			start := date(time.January, 1)
			cfg, err := f.svc.PutClientConfig(ctx, model.ClientConfig{ClientID: "c1", ContractStartDate: &start})
			So(err, ShouldBeNil)
			So(cfg.BillingCycle, ShouldEqual, model.CycleMonthly)
			So(cfg.ReviewWindowDays, ShouldEqual, 7)

			periods, err := f.svc.Periods(ctx, "c1")
			So(err, ShouldBeNil)

			Convey("Then January is overdue on February 10", func() {
				So(len(periods), ShouldEqual, 2)
				So(periods[0].Name, ShouldEqual, "January 2025")
				So(periods[0].End, ShouldEqual, date(time.January, 31))
				So(periods[0].ReviewDeadline, ShouldEqual, date(time.February, 7))
				So(periods[0].Status, ShouldEqual, billing.PeriodOverdue)
			})

			Convey("Then the summary counts February's billable domains", func() {
				sum, err := f.svc.BillingSummary(ctx, "c1")
				So(err, ShouldBeNil)
				So(sum.Period.Name, ShouldEqual, "February 2025")
				So(sum.Billable, ShouldEqual, 1)
				So(sum.NotBillable, ShouldEqual, 0)
			})
		})

		Convey("When an invalid billing cycle is stored", func() {
			_, err := f.svc.PutClientConfig(ctx, model.ClientConfig{ClientID: "c1", BillingCycle: "weekly"})
			So(errors.Is(err, repository.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func findAction(timeline []model.DomainEvent, action status.Action) (model.DomainEvent, bool) {
	for _, ev := range timeline {
		if ev.Source == model.SourceStatusChange && ev.Metadata[model.MetaAction] == string(action) {
			return ev, true
		}
	}
	return model.DomainEvent{}, false
}
