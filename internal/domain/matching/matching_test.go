package matching_test

import (
	"testing"
	"time"

	"github.com/okian/attribution/internal/domain/matching"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/internal/domain/normalize"
	"github.com/smartystreets/goconvey/convey"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMatch(t *testing.T) {
	convey.Convey("Given a matcher with a 31 day window", t, func() {
		m := matching.New(normalize.New(), 31)
		idx := matching.Index{
			ByEmail:  map[string]time.Time{"jane@acme.com": date(2025, 1, 1)},
			ByDomain: map[string]time.Time{"acme.com": date(2024, 12, 20), "late.io": date(2025, 3, 10)},
		}

		convey.Convey("When the event falls exactly on the window boundary", func() {
			r := m.Match(model.ConversionEvent{Email: "Jane@Acme.com", EventTime: date(2025, 2, 1)}, idx)

			convey.Convey("Then it is a hard match within the window", func() {
				convey.So(r.Outcome, convey.ShouldEqual, matching.HardMatch)
				convey.So(r.DaysSince, convey.ShouldEqual, 31)
				convey.So(r.IsWithinWindow, convey.ShouldBeTrue)
				convey.So(r.Domain, convey.ShouldEqual, "acme.com")
				convey.So(r.Label(), convey.ShouldEqual, "hard")
				convey.So(r.MatchType(), convey.ShouldEqual, model.MatchHard)
			})
		})

		convey.Convey("When the event is one day past the window", func() {
			r := m.Match(model.ConversionEvent{Email: "jane@acme.com", EventTime: date(2025, 2, 2)}, idx)

			convey.Convey("Then it is matched but outside the window", func() {
				convey.So(r.Outcome, convey.ShouldEqual, matching.HardMatch)
				convey.So(r.DaysSince, convey.ShouldEqual, 32)
				convey.So(r.IsWithinWindow, convey.ShouldBeFalse)
				convey.So(r.Label(), convey.ShouldEqual, "outside_window")
			})
		})

		convey.Convey("When partial days are involved", func() {
			r := m.Match(model.ConversionEvent{
				Email:     "jane@acme.com",
				EventTime: date(2025, 2, 1).Add(23 * time.Hour),
			}, idx)

			convey.Convey("Then days are floored", func() {
				convey.So(r.DaysSince, convey.ShouldEqual, 31)
				convey.So(r.IsWithinWindow, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When only the domain is known", func() {
			r := m.Match(model.ConversionEvent{Email: "bob@acme.com", EventTime: date(2025, 1, 5)}, idx)

			convey.Convey("Then it is a soft match on the domain send", func() {
				convey.So(r.Outcome, convey.ShouldEqual, matching.SoftMatch)
				convey.So(r.SendTime, convey.ShouldEqual, date(2024, 12, 20))
				convey.So(r.DaysSince, convey.ShouldEqual, 16)
				convey.So(r.Label(), convey.ShouldEqual, "soft")
			})
		})

		convey.Convey("When the explicit domain differs from the email domain", func() {
			r := m.Match(model.ConversionEvent{Email: "bob@gmail.com", Domain: "https://www.acme.com", EventTime: date(2025, 1, 5)}, idx)

			convey.Convey("Then the explicit domain is used", func() {
				convey.So(r.Domain, convey.ShouldEqual, "acme.com")
				convey.So(r.Outcome, convey.ShouldEqual, matching.SoftMatch)
			})
		})

		convey.Convey("When the send happened after the event", func() {
			r := m.Match(model.ConversionEvent{Domain: "late.io", EventTime: date(2025, 3, 5)}, idx)

			convey.Convey("Then the event counts as never emailed", func() {
				convey.So(r.Outcome, convey.ShouldEqual, matching.NeverEmailed)
				convey.So(r.Matched(), convey.ShouldBeFalse)
				convey.So(r.SendTime.IsZero(), convey.ShouldBeTrue)
				convey.So(r.Domain, convey.ShouldEqual, "late.io")
			})
		})

		convey.Convey("When the hard send is after the event but the domain send is not", func() {
			idx.ByEmail["jane@acme.com"] = date(2025, 3, 1)
			r := m.Match(model.ConversionEvent{Email: "jane@acme.com", EventTime: date(2025, 2, 1)}, idx)

			convey.Convey("Then the email send still decides the outcome", func() {
				convey.So(r.Outcome, convey.ShouldEqual, matching.NeverEmailed)
			})
		})

		convey.Convey("When no domain can be derived", func() {
			r := m.Match(model.ConversionEvent{Email: "nobody", Domain: "localhost", EventTime: date(2025, 1, 5)}, idx)

			convey.Convey("Then it is never emailed with no keys", func() {
				convey.So(r.Outcome, convey.ShouldEqual, matching.NeverEmailed)
				convey.So(r.Domain, convey.ShouldBeEmpty)
				convey.So(r.Email, convey.ShouldBeEmpty)
				convey.So(r.MatchType(), convey.ShouldEqual, model.MatchNone)
				convey.So(r.Label(), convey.ShouldEqual, "never_emailed")
			})
		})

		convey.Convey("When the domain is unknown to the index", func() {
			r := m.Match(model.ConversionEvent{Domain: "other.com", EventTime: date(2025, 1, 5)}, idx)

			convey.So(r.Outcome, convey.ShouldEqual, matching.NeverEmailed)
			convey.So(r.Domain, convey.ShouldEqual, "other.com")
		})
	})
}

func TestKeys(t *testing.T) {
	convey.Convey("Given a batch of events", t, func() {
		m := matching.New(normalize.New(), 31)
		events := []model.ConversionEvent{
			{Email: "b@acme.com"},
			{Email: "A@acme.com"},
			{Email: "a@acme.com", Domain: "beta.co.uk"},
			{Domain: "localhost"},
			{},
		}

		emails, domains := m.Keys(events)

		convey.So(emails, convey.ShouldResemble, []string{"a@acme.com", "b@acme.com"})
		convey.So(domains, convey.ShouldResemble, []string{"acme.com", "beta.co.uk"})
	})
}
