package model

import (
	"fmt"
	"strings"
)

// Status is the attribution state of a domain.
type Status string

const (
	StatusUnattributed        Status = "UNATTRIBUTED"
	StatusOutsideWindow       Status = "OUTSIDE_WINDOW"
	StatusAttributed          Status = "ATTRIBUTED"
	StatusClientPromoted      Status = "CLIENT_PROMOTED"
	StatusPendingClientReview Status = "PENDING_CLIENT_REVIEW"
	StatusClientRejected      Status = "CLIENT_REJECTED"
)

// legacyStatuses maps retired names to their current equivalent.
var legacyStatuses = map[string]Status{
	"DISPUTE_PENDING": StatusPendingClientReview,
	"DISPUTED":        StatusClientRejected,
	"REJECTED":        StatusClientRejected,
}

// ParseStatus reads a stored or submitted status, translating legacy names.
func ParseStatus(raw string) (Status, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch st := Status(s); st {
	case StatusUnattributed, StatusOutsideWindow, StatusAttributed,
		StatusClientPromoted, StatusPendingClientReview, StatusClientRejected:
		return st, nil
	}
	if st, ok := legacyStatuses[s]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// Billable reports whether a domain in this status is charged to the client.
func (s Status) Billable() bool {
	return s == StatusAttributed || s == StatusClientPromoted
}

// HumanHeld reports whether automatic matching must leave the status alone.
func (s Status) HumanHeld() bool {
	switch s {
	case StatusClientPromoted, StatusPendingClientReview, StatusClientRejected:
		return true
	}
	return false
}

// MatchType records how a domain was linked to outbound email.
type MatchType string

const (
	MatchHard   MatchType = "HARD_MATCH"
	MatchSoft   MatchType = "SOFT_MATCH"
	MatchManual MatchType = "MANUAL"
	MatchNone   MatchType = "NO_MATCH"
)

// ParseMatchType reads a stored match type. Empty reads as NO_MATCH.
func ParseMatchType(raw string) (MatchType, error) {
	switch m := MatchType(strings.ToUpper(strings.TrimSpace(raw))); m {
	case MatchHard, MatchSoft, MatchManual, MatchNone:
		return m, nil
	case "":
		return MatchNone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMatchType, raw)
}

// Rank orders match types by strength; the merge keeps the stronger one.
func (m MatchType) Rank() int {
	switch m {
	case MatchHard:
		return 3
	case MatchSoft:
		return 2
	case MatchManual:
		return 1
	}
	return 0
}
