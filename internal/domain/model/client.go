package model

import (
	"fmt"
	"strings"
	"time"
)

// BillingCycle is the reconciliation cadence of a client contract.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	Cycle28Day     BillingCycle = "28_day"
)

// ParseBillingCycle accepts the canonical names plus common 28-day spellings.
func ParseBillingCycle(raw string) (BillingCycle, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "monthly":
		return CycleMonthly, nil
	case "quarterly":
		return CycleQuarterly, nil
	case "28_day", "28-day", "28day", "rolling_28", "rolling":
		return Cycle28Day, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBillingCycle, raw)
}

// ClientConfig holds per-client attribution and billing settings.
type ClientConfig struct {
	ClientID              string
	Name                  string
	AttributionWindowDays int
	BillingCycle          BillingCycle
	ContractStartDate     *time.Time
	ReviewWindowDays      int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Counters are the running totals for one client and event type.
type Counters struct {
	ClientID      string
	EventType     EventType
	Total         int64
	Hard          int64
	Soft          int64
	OutsideWindow int64
	NotMatched    int64
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.Total += o.Total
	c.Hard += o.Hard
	c.Soft += o.Soft
	c.OutsideWindow += o.OutsideWindow
	c.NotMatched += o.NotMatched
}
