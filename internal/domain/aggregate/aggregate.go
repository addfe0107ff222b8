// Package aggregate folds per-event match results into attributed domain records.
package aggregate

import (
	"slices"
	"sort"
	"time"

	"github.com/okian/attribution/internal/domain/matching"
	"github.com/okian/attribution/internal/domain/model"
)

// Group buckets results by normalized domain. Results without a domain are
// returned separately; they never produce a record.
func Group(results []matching.Result) (byDomain map[string][]matching.Result, unmatchable []matching.Result) {
	byDomain = make(map[string][]matching.Result)
	for _, r := range results {
		if r.Domain == "" {
			unmatchable = append(unmatchable, r)
			continue
		}
		byDomain[r.Domain] = append(byDomain[r.Domain], r)
	}
	return byDomain, unmatchable
}

// Fold reduces all results of one domain into a candidate record. The
// candidate carries no status; the status machine assigns it after Merge.
func Fold(clientID, domain string, results []matching.Result) *model.AttributedDomain {
	d := &model.AttributedDomain{ClientID: clientID, Domain: domain, MatchType: model.MatchNone}
	emails := make(map[string]struct{})
	for _, r := range results {
		at := r.Event.EventTime
		d.FirstEventAt = earliest(d.FirstEventAt, &at)
		d.LastEventAt = latest(d.LastEventAt, &at)
		d.SetFlag(r.Event.Type)
		if !r.Matched() {
			continue
		}
		sent := r.SendTime
		d.FirstEmailSentAt = earliest(d.FirstEmailSentAt, &sent)
		d.IsWithinWindow = d.IsWithinWindow || r.IsWithinWindow
		if mt := r.MatchType(); mt.Rank() > d.MatchType.Rank() {
			d.MatchType = mt
		}
		if r.Email != "" {
			emails[r.Email] = struct{}{}
		}
	}
	for e := range emails {
		d.MatchedEmails = append(d.MatchedEmails, e)
	}
	sort.Strings(d.MatchedEmails)
	return d
}

// MergeAttributedDomain merges a freshly folded candidate into the stored
// record (nil when none exists) and reports whether the stored state changes.
//
// Timestamps are first-write-wins (gaps are filled, set values are kept),
// except LastEventAt which only moves forward. Flags and the window bit are
// OR'd, the stronger match type wins, and matched emails are unioned. Status
// and review metadata are left to the status machine.
func MergeAttributedDomain(old, update *model.AttributedDomain, now time.Time) (*model.AttributedDomain, bool) {
	if old == nil {
		merged := update.Clone()
		if merged.MatchType == "" {
			merged.MatchType = model.MatchNone
		}
		merged.CreatedAt = now
		merged.UpdatedAt = now
		return merged, true
	}

	m := old.Clone()
	changed := false
	fill := func(dst **time.Time, src *time.Time) {
		if *dst == nil && src != nil {
			v := *src
			*dst = &v
			changed = true
		}
	}
	or := func(dst *bool, src bool) {
		if src && !*dst {
			*dst = true
			changed = true
		}
	}

	fill(&m.FirstEmailSentAt, update.FirstEmailSentAt)
	fill(&m.FirstEventAt, update.FirstEventAt)
	if update.LastEventAt != nil && (m.LastEventAt == nil || update.LastEventAt.After(*m.LastEventAt)) {
		v := *update.LastEventAt
		m.LastEventAt = &v
		changed = true
	}

	or(&m.HasPositiveReply, update.HasPositiveReply)
	or(&m.HasSignUp, update.HasSignUp)
	or(&m.HasMeetingBooked, update.HasMeetingBooked)
	or(&m.HasPayingCustomer, update.HasPayingCustomer)
	or(&m.IsWithinWindow, update.IsWithinWindow)

	if update.MatchType.Rank() > m.MatchType.Rank() {
		m.MatchType = update.MatchType
		changed = true
	}
	if emails := unionSorted(m.MatchedEmails, update.MatchedEmails); !slices.Equal(emails, m.MatchedEmails) {
		m.MatchedEmails = emails
		changed = true
	}

	if changed {
		m.UpdatedAt = now
	}
	return m, changed
}

// Recompute re-derives the window bit and match type from the domain's
// first send and its conversion timeline. It only ever upgrades: a newly
// recorded earlier send can turn an unmatched domain into a matched one.
func Recompute(d *model.AttributedDomain, timeline []model.DomainEvent, windowDays int) {
	if d.FirstEmailSentAt == nil {
		return
	}
	sent := *d.FirstEmailSentAt
	matched := false
	for _, ev := range timeline {
		if !model.EventType(ev.Source).IsConversion() || ev.EventTime.Before(sent) {
			continue
		}
		matched = true
		if int(ev.EventTime.Sub(sent)/(24*time.Hour)) <= windowDays {
			d.IsWithinWindow = true
		}
	}
	if matched && d.MatchType.Rank() == 0 {
		d.MatchType = model.MatchManual
	}
}

func earliest(cur, t *time.Time) *time.Time {
	if cur == nil || t.Before(*cur) {
		v := *t
		return &v
	}
	return cur
}

func latest(cur, t *time.Time) *time.Time {
	if cur == nil || t.After(*cur) {
		v := *t
		return &v
	}
	return cur
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	if len(set) == 0 {
		return a
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
