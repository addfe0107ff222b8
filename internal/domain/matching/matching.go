// Package matching classifies conversion events against outbound send history.
package matching

import (
	"sort"
	"time"

	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/internal/domain/normalize"
)

// Outcome is the classification of one conversion event.
type Outcome string

const (
	HardMatch    Outcome = "HARD_MATCH"
	SoftMatch    Outcome = "SOFT_MATCH"
	NeverEmailed Outcome = "NEVER_EMAILED"
)

const day = 24 * time.Hour

// Index holds the earliest send time per normalized email and per domain.
type Index struct {
	ByEmail  map[string]time.Time
	ByDomain map[string]time.Time
}

// Result is the outcome of matching one event.
type Result struct {
	Event  model.ConversionEvent
	Email  string // normalized, empty when unusable
	Domain string // normalized, empty when unusable

	Outcome        Outcome
	SendTime       time.Time // zero unless matched
	DaysSince      int
	IsWithinWindow bool
}

// Matched reports whether the event was linked to a prior send.
func (r Result) Matched() bool {
	return r.Outcome == HardMatch || r.Outcome == SoftMatch
}

// MatchType converts the outcome to the stored match type.
func (r Result) MatchType() model.MatchType {
	switch r.Outcome {
	case HardMatch:
		return model.MatchHard
	case SoftMatch:
		return model.MatchSoft
	}
	return model.MatchNone
}

// Label is the short outcome name used by counters and metrics.
func (r Result) Label() string {
	switch {
	case !r.Matched():
		return "never_emailed"
	case !r.IsWithinWindow:
		return "outside_window"
	case r.Outcome == HardMatch:
		return "hard"
	}
	return "soft"
}

// Matcher applies the attribution window rule for one client.
type Matcher struct {
	norm       *normalize.Normalizer
	windowDays int
}

// New returns a Matcher using windowDays as the inclusive attribution window.
func New(norm *normalize.Normalizer, windowDays int) *Matcher {
	return &Matcher{norm: norm, windowDays: windowDays}
}

// Keys returns the distinct normalized emails and domains referenced by events,
// sorted so lookups are chunked the same way on every run.
func (m *Matcher) Keys(events []model.ConversionEvent) (emails, domains []string) {
	es := make(map[string]struct{})
	ds := make(map[string]struct{})
	for _, ev := range events {
		email, domain := m.keys(ev)
		if email != "" {
			es[email] = struct{}{}
		}
		if domain != "" {
			ds[domain] = struct{}{}
		}
	}
	return sortedKeys(es), sortedKeys(ds)
}

// Match classifies ev against idx.
func (m *Matcher) Match(ev model.ConversionEvent, idx Index) Result {
	r := Result{Event: ev, Outcome: NeverEmailed}
	r.Email, r.Domain = m.keys(ev)
	if r.Domain == "" {
		return r
	}

	var (
		sent    time.Time
		found   bool
		outcome Outcome
	)
	if r.Email != "" {
		if sent, found = idx.ByEmail[r.Email]; found {
			outcome = HardMatch
		}
	}
	if !found {
		if sent, found = idx.ByDomain[r.Domain]; found {
			outcome = SoftMatch
		}
	}
	// A send after the conversion cannot explain it.
	if !found || sent.After(ev.EventTime) {
		return r
	}

	r.Outcome = outcome
	r.SendTime = sent
	r.DaysSince = int(ev.EventTime.Sub(sent) / day)
	r.IsWithinWindow = r.DaysSince <= m.windowDays
	return r
}

// keys derives the normalized email and domain of an event. The explicit
// domain wins over the email's domain.
func (m *Matcher) keys(ev model.ConversionEvent) (email, domain string) {
	if e, ok := m.norm.Email(ev.Email); ok {
		email = e
	}
	if d, ok := m.norm.Domain(ev.Domain); ok {
		domain = d
	} else if d, ok := m.norm.EmailDomain(ev.Email); ok {
		domain = d
	}
	return email, domain
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
