// Package billing derives reconciliation periods from a client's contract.
package billing

import (
	"fmt"
	"time"

	"github.com/okian/attribution/internal/domain/model"
)

// PeriodStatus is the reconciliation state of a period at a given time.
type PeriodStatus string

const (
	PeriodUpcoming PeriodStatus = "UPCOMING"
	PeriodOpen     PeriodStatus = "OPEN"
	PeriodOverdue  PeriodStatus = "OVERDUE"
)

const (
	day = 24 * time.Hour

	// max28DayPeriods bounds rolling cycles, which never align to the calendar.
	max28DayPeriods = 100
	// maxCalendarPeriods bounds monthly and quarterly cycles (100 years of months).
	maxCalendarPeriods = 1200
)

// Period is one reconciliation period. Start and End are inclusive dates at
// UTC midnight.
type Period struct {
	Name           string       `json:"period_name"`
	Start          time.Time    `json:"start_date"`
	End            time.Time    `json:"end_date"`
	ReviewDeadline time.Time    `json:"review_deadline"`
	Status         PeriodStatus `json:"status"`
}

// Contains reports whether t falls on any day of the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End.Add(day))
}

// Periods generates every period from contractStart up to the one containing
// now. The first period is partial and runs to the end of its calendar month
// or quarter, or 28 days for rolling cycles.
func Periods(contractStart time.Time, cycle model.BillingCycle, reviewWindowDays int, now time.Time) ([]Period, error) {
	if contractStart.IsZero() {
		return nil, ErrNoContractStart
	}
	limit := maxCalendarPeriods
	switch cycle {
	case model.CycleMonthly, model.CycleQuarterly:
	case model.Cycle28Day:
		limit = max28DayPeriods
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownBillingCycle, cycle)
	}

	var out []Period
	start := dateOf(contractStart)
	for i := 1; i <= limit && !start.After(now); i++ {
		end := periodEnd(start, cycle)
		deadline := end.AddDate(0, 0, reviewWindowDays)
		out = append(out, Period{
			Name:           periodName(i, start, end, cycle),
			Start:          start,
			End:            end,
			ReviewDeadline: deadline,
			Status:         statusAt(end, deadline, now),
		})
		start = end.AddDate(0, 0, 1)
	}
	return out, nil
}

// Current returns the last OPEN period, or the most recent one when none is open.
func Current(periods []Period) (Period, bool) {
	if len(periods) == 0 {
		return Period{}, false
	}
	for i := len(periods) - 1; i >= 0; i-- {
		if periods[i].Status == PeriodOpen {
			return periods[i], true
		}
	}
	return periods[len(periods)-1], true
}

// Summary counts the domains of a period by billing outcome.
type Summary struct {
	Period        Period `json:"period"`
	Billable      int    `json:"billable"`
	PendingReview int    `json:"pending_review"`
	Rejected      int    `json:"rejected"`
	NotBillable   int    `json:"not_billable"`
}

// Summarize buckets the domains whose first event falls within p.
func Summarize(p Period, domains []*model.AttributedDomain) Summary {
	s := Summary{Period: p}
	for _, d := range domains {
		if d.FirstEventAt == nil || !p.Contains(*d.FirstEventAt) {
			continue
		}
		switch {
		case d.Status.Billable():
			s.Billable++
		case d.Status == model.StatusPendingClientReview:
			s.PendingReview++
		case d.Status == model.StatusClientRejected:
			s.Rejected++
		default:
			s.NotBillable++
		}
	}
	return s
}

// statusAt compares against the end of the inclusive end and deadline days.
func statusAt(end, deadline, now time.Time) PeriodStatus {
	switch {
	case now.Before(end.Add(day)):
		return PeriodUpcoming
	case now.Before(deadline.Add(day)):
		return PeriodOpen
	}
	return PeriodOverdue
}

func periodEnd(start time.Time, cycle model.BillingCycle) time.Time {
	switch cycle {
	case model.CycleQuarterly:
		firstMonth := time.Month((int(start.Month())-1)/3*3 + 1)
		return time.Date(start.Year(), firstMonth+3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	case model.Cycle28Day:
		return start.AddDate(0, 0, 27)
	}
	return time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

func periodName(n int, start, end time.Time, cycle model.BillingCycle) string {
	switch cycle {
	case model.CycleQuarterly:
		return fmt.Sprintf("Q%d %d", (int(start.Month())-1)/3+1, start.Year())
	case model.Cycle28Day:
		return fmt.Sprintf("Period %d (%s - %s)", n, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return start.Format("January 2006")
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
