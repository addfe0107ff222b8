package model_test

import (
	"errors"
	"testing"
	"time"

	model "github.com/okian/attribution/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestParseStatus(t *testing.T) {
	convey.Convey("Given stored status strings", t, func() {
		convey.Convey("When they are current names", func() {
			st, err := model.ParseStatus(" attributed ")

			convey.Convey("Then they parse as is", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(st, convey.ShouldEqual, model.StatusAttributed)
			})
		})

		convey.Convey("When they are legacy names", func() {
			pending, err1 := model.ParseStatus("DISPUTE_PENDING")
			disputed, err2 := model.ParseStatus("DISPUTED")
			rejected, err3 := model.ParseStatus("rejected")

			convey.Convey("Then they map to the current names", func() {
				convey.So(err1, convey.ShouldBeNil)
				convey.So(err2, convey.ShouldBeNil)
				convey.So(err3, convey.ShouldBeNil)
				convey.So(pending, convey.ShouldEqual, model.StatusPendingClientReview)
				convey.So(disputed, convey.ShouldEqual, model.StatusClientRejected)
				convey.So(rejected, convey.ShouldEqual, model.StatusClientRejected)
			})
		})

		convey.Convey("When they are unknown", func() {
			_, err := model.ParseStatus("CONFIRMED")

			convey.Convey("Then an error is returned", func() {
				convey.So(errors.Is(err, model.ErrUnknownStatus), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given the status set", t, func() {
		convey.So(model.StatusAttributed.Billable(), convey.ShouldBeTrue)
		convey.So(model.StatusClientPromoted.Billable(), convey.ShouldBeTrue)
		convey.So(model.StatusOutsideWindow.Billable(), convey.ShouldBeFalse)
		convey.So(model.StatusClientPromoted.HumanHeld(), convey.ShouldBeTrue)
		convey.So(model.StatusPendingClientReview.HumanHeld(), convey.ShouldBeTrue)
		convey.So(model.StatusClientRejected.HumanHeld(), convey.ShouldBeTrue)
		convey.So(model.StatusUnattributed.HumanHeld(), convey.ShouldBeFalse)
	})
}

func TestParseValues(t *testing.T) {
	convey.Convey("Given event type spellings", t, func() {
		et, err := model.ParseEventType("Meeting-Booked")
		convey.So(err, convey.ShouldBeNil)
		convey.So(et, convey.ShouldEqual, model.EventMeetingBooked)
		convey.So(et.IsConversion(), convey.ShouldBeTrue)
		convey.So(model.EventEmailSent.IsConversion(), convey.ShouldBeFalse)

		_, err = model.ParseEventType("demo")
		convey.So(errors.Is(err, model.ErrUnknownEventType), convey.ShouldBeTrue)
	})

	convey.Convey("Given billing cycle spellings", t, func() {
		for _, raw := range []string{"28-day", "rolling_28", "28_day"} {
			c, err := model.ParseBillingCycle(raw)
			convey.So(err, convey.ShouldBeNil)
			convey.So(c, convey.ShouldEqual, model.Cycle28Day)
		}
		_, err := model.ParseBillingCycle("weekly")
		convey.So(errors.Is(err, model.ErrUnknownBillingCycle), convey.ShouldBeTrue)
	})

	convey.Convey("Given match types", t, func() {
		m, err := model.ParseMatchType("")
		convey.So(err, convey.ShouldBeNil)
		convey.So(m, convey.ShouldEqual, model.MatchNone)
		convey.So(model.MatchHard.Rank(), convey.ShouldBeGreaterThan, model.MatchSoft.Rank())
		convey.So(model.MatchSoft.Rank(), convey.ShouldBeGreaterThan, model.MatchManual.Rank())
		convey.So(model.MatchManual.Rank(), convey.ShouldBeGreaterThan, model.MatchNone.Rank())
	})

	convey.Convey("Given job kinds", t, func() {
		k, err := model.ParseJobKind("process_all")
		convey.So(err, convey.ShouldBeNil)
		convey.So(k, convey.ShouldEqual, model.JobProcessAll)
		convey.So(model.JobFailed.Terminal(), convey.ShouldBeTrue)
		convey.So(model.JobRunning.Terminal(), convey.ShouldBeFalse)
	})
}

func TestAttributedDomain(t *testing.T) {
	convey.Convey("Given an attributed domain", t, func() {
		sent := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		d := &model.AttributedDomain{
			Domain:           "acme.com",
			FirstEmailSentAt: &sent,
			MatchedEmails:    []string{"a@acme.com"},
		}

		convey.Convey("When it is cloned and the clone is changed", func() {
			c := d.Clone()
			*c.FirstEmailSentAt = sent.Add(time.Hour)
			c.MatchedEmails[0] = "b@acme.com"

			convey.Convey("Then the original is untouched", func() {
				convey.So(*d.FirstEmailSentAt, convey.ShouldEqual, sent)
				convey.So(d.MatchedEmails[0], convey.ShouldEqual, "a@acme.com")
			})
		})

		convey.Convey("When flags are set by event type", func() {
			d.SetFlag(model.EventSignUp)
			d.SetFlag(model.EventPositiveReply)
			d.SetFlag(model.EventEmailSent)

			convey.Convey("Then only the matching flags are raised", func() {
				convey.So(d.HasSignUp, convey.ShouldBeTrue)
				convey.So(d.HasPositiveReply, convey.ShouldBeTrue)
				convey.So(d.HasMeetingBooked, convey.ShouldBeFalse)
				convey.So(d.HasPayingCustomer, convey.ShouldBeFalse)
			})
		})

		convey.So((*model.AttributedDomain)(nil).Clone(), convey.ShouldBeNil)
	})

	convey.Convey("Given two counter sets", t, func() {
		c := model.Counters{Total: 2, Hard: 1, NotMatched: 1}
		c.Add(model.Counters{Total: 3, Soft: 2, OutsideWindow: 1})

		convey.So(c, convey.ShouldResemble, model.Counters{Total: 5, Hard: 1, Soft: 2, OutsideWindow: 1, NotMatched: 1})
	})
}
