package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/attribution/internal/adapters/source/sqlite"
	"github.com/okian/attribution/internal/domain/matching"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/internal/domain/normalize"
	"github.com/okian/attribution/internal/domain/sendindex"
	"github.com/okian/attribution/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var _ sendindex.Source = (*sqlite.Store)(nil)

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func openSource(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "source.db"), sqlite.WithSchema())
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDriverFor(t *testing.T) {
	convey.Convey("Given source DSNs", t, func() {
		convey.So(sqlite.DriverFor("libsql://crm-acme.turso.io?authToken=x"), convey.ShouldEqual, "libsql")
		convey.So(sqlite.DriverFor("wss://crm.example.com"), convey.ShouldEqual, "libsql")
		convey.So(sqlite.DriverFor("/var/lib/crm.db"), convey.ShouldEqual, "sqlite")
		convey.So(sqlite.DriverFor("file:crm.db"), convey.ShouldEqual, "sqlite")
	})

	convey.Convey("Given an empty DSN", t, func() {
		_, err := sqlite.Open(context.Background(), "  ")
		convey.So(errors.Is(err, sqlite.ErrInvalidDSN), convey.ShouldBeTrue)
	})
}

func TestReader(t *testing.T) {
	convey.Convey("Given a seeded source store", t, func() {
		ctx := context.Background()
		s := openSource(t)
		convey.So(s.Driver(), convey.ShouldEqual, "sqlite")

		convey.So(s.InsertClient(ctx, model.Client{ID: "c1", Name: "Acme", Active: true}, "smartlead", "ws-1"), convey.ShouldBeNil)
		convey.So(s.InsertClient(ctx, model.Client{ID: "c2", Name: "Gone", Active: false}, "", ""), convey.ShouldBeNil)

		jane, err := s.InsertProspect(ctx, "c1", " Jane@Acme.com ", "acme.com")
		convey.So(err, convey.ShouldBeNil)
		bob, _ := s.InsertProspect(ctx, "c1", "bob@mail.io", "www.beta.io")
		other, _ := s.InsertProspect(ctx, "c2", "jane@acme.com", "acme.com")

		convey.So(s.InsertConversation(ctx, jane, "Sent", day(5)), convey.ShouldBeNil)
		convey.So(s.InsertConversation(ctx, jane, "Sent", day(3)), convey.ShouldBeNil)
		convey.So(s.InsertConversation(ctx, jane, "Received", day(1)), convey.ShouldBeNil)
		convey.So(s.InsertConversation(ctx, bob, "Sent", day(7)), convey.ShouldBeNil)
		convey.So(s.InsertConversation(ctx, other, "Sent", day(2)), convey.ShouldBeNil)

		for i := 0; i < 5; i++ {
			_, err := s.InsertConversionEvent(ctx, model.ConversionEvent{
				ClientID: "c1", Type: model.EventSignUp, Email: "jane@acme.com", EventTime: day(10 + i),
			})
			convey.So(err, convey.ShouldBeNil)
		}
		_, err = s.InsertConversionEvent(ctx, model.ConversionEvent{ClientID: "c1", Type: "bogus"})
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When clients are listed", func() {
			clients, err := s.ListClients(ctx)
			n, _ := s.CountIntegrations(ctx, "c1")

			convey.So(err, convey.ShouldBeNil)
			convey.So(clients, convey.ShouldResemble, []model.Client{{ID: "c1", Name: "Acme", Active: true}})
			convey.So(n, convey.ShouldEqual, 1)
		})

		convey.Convey("When events are paged by id", func() {
			total, err := s.CountConversionEvents(ctx, "c1", 0)
			convey.So(err, convey.ShouldBeNil)
			convey.So(total, convey.ShouldEqual, 6)

			first, err := s.ListConversionEvents(ctx, "c1", 0, 4)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(first), convey.ShouldEqual, 4)
			convey.So(first[0].EventTime, convey.ShouldEqual, day(10))

			rest, err := s.ListConversionEvents(ctx, "c1", first[3].ID, 4)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(rest), convey.ShouldEqual, 2)
			convey.So(rest[1].Type, convey.ShouldEqual, model.EventType("bogus"))
			convey.So(rest[1].EventTime.IsZero(), convey.ShouldBeTrue)
			convey.So(rest[1].Email, convey.ShouldBeEmpty)

			_, err = s.ListConversionEvents(ctx, "c1", 0, 0)
			convey.So(errors.Is(err, sqlite.ErrInvalidInput), convey.ShouldBeTrue)
		})

		convey.Convey("When earliest sends are looked up by email", func() {
			got, err := s.EarliestSendByEmail(ctx, "c1", []string{"jane@acme.com", "bob@mail.io", "nobody@x.com"})

			convey.Convey("Then only outbound sends of the client count", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(got, convey.ShouldResemble, map[string]time.Time{
					"jane@acme.com": day(3),
					"bob@mail.io":   day(7),
				})
			})
		})

		convey.Convey("When earliest sends are looked up by domain", func() {
			got, err := s.EarliestSendByDomain(ctx, "c1", []string{"acme.com", "beta.io", "mail.io", "none.dev"})

			convey.Convey("Then company and email domains both match", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(got, convey.ShouldResemble, map[string]time.Time{
					"acme.com": day(3),
					"beta.io":  day(7),
					"mail.io":  day(7),
				})
			})
		})

		convey.Convey("When no keys are given", func() {
			got, err := s.EarliestSendByDomain(ctx, "c1", nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(got, convey.ShouldBeEmpty)
		})

		convey.Convey("When lookup indexes are created twice", func() {
			names, err := s.CreateIndexes(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(names), convey.ShouldEqual, 4)

			_, err = s.CreateIndexes(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.Ping(ctx), convey.ShouldBeNil)
		})
	})
}

func TestEarliestSendByDomainNormalizes(t *testing.T) {
	convey.Convey("Given prospects whose domains are stored as URLs, subdomains or mixed case", t, func() {
		ctx := context.Background()
		s := openSource(t)
		convey.So(s.InsertClient(ctx, model.Client{ID: "c1", Name: "Acme", Active: true}, "smartlead", "ws-1"), convey.ShouldBeNil)

		prospects := []struct{ email, company string }{
			{"sales@acme-partner.net", "https://www.acme.com/about"},
			{"bob@mail.beta.com", ""},
			{"gina@gamma-mail.org", "Gamma.COM/"},
			{"amy@eu.delta.co.uk", ""},
			{"ned@notacme.com", "notacme.com"},
		}
		for _, p := range prospects {
			id, err := s.InsertProspect(ctx, "c1", p.email, p.company)
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.InsertConversation(ctx, id, "Sent", day(6)), convey.ShouldBeNil)
		}

		convey.Convey("When earliest sends are looked up by registrable domain", func() {
			got, err := s.EarliestSendByDomain(ctx, "c1", []string{"acme.com", "beta.com", "gamma.com", "delta.co.uk"})

			convey.Convey("Then every prospect resolves to its registrable domain", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(got, convey.ShouldResemble, map[string]time.Time{
					"acme.com":    day(6),
					"beta.com":    day(6),
					"gamma.com":   day(6),
					"delta.co.uk": day(6),
				})
			})
		})

		convey.Convey("When only a lookalike domain is sent to", func() {
			got, err := s.EarliestSendByDomain(ctx, "c1", []string{"tacme.com"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(got, convey.ShouldBeEmpty)
		})

		convey.Convey("When events from new contacts are matched through the send index", func() {
			norm := normalize.New()
			m := matching.New(norm, 31)
			var events []model.ConversionEvent
			for _, d := range []string{"acme.com", "beta.com", "gamma.com", "delta.co.uk"} {
				events = append(events, model.ConversionEvent{
					ClientID: "c1", Type: model.EventSignUp, Email: "new@" + d, EventTime: day(10),
				})
			}
			emails, domains := m.Keys(events)
			idx, err := sendindex.New(s).Build(ctx, "c1", emails, domains)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then each is a soft match within the window", func() {
				for _, ev := range events {
					r := m.Match(ev, idx)
					convey.So(r.Outcome, convey.ShouldEqual, matching.SoftMatch)
					convey.So(r.IsWithinWindow, convey.ShouldBeTrue)
					convey.So(r.DaysSince, convey.ShouldEqual, 4)
				}
			})
		})
	})
}
