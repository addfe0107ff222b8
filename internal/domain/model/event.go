// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies a conversion or timeline event.
type EventType string

const (
	EventSignUp         EventType = "sign_up"
	EventMeetingBooked  EventType = "meeting_booked"
	EventPayingCustomer EventType = "paying_customer"

	// Only entered manually, never read from the CRM.
	EventPositiveReply EventType = "positive_reply"
	EventEmailSent     EventType = "email_sent"
)

// ConversionEventTypes lists the event types the CRM produces.
var ConversionEventTypes = []EventType{EventSignUp, EventMeetingBooked, EventPayingCustomer}

// ParseEventType accepts the canonical names plus dashed and unseparated spellings.
func ParseEventType(raw string) (EventType, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	switch s {
	case "sign_up", "signup":
		return EventSignUp, nil
	case "meeting_booked", "meeting":
		return EventMeetingBooked, nil
	case "paying_customer", "paid":
		return EventPayingCustomer, nil
	case "positive_reply":
		return EventPositiveReply, nil
	case "email_sent":
		return EventEmailSent, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, raw)
}

// IsConversion reports whether t is produced by the CRM.
func (t EventType) IsConversion() bool {
	switch t {
	case EventSignUp, EventMeetingBooked, EventPayingCustomer:
		return true
	}
	return false
}

// ConversionEvent is an immutable fact read from the CRM.
type ConversionEvent struct {
	ID        int64
	ClientID  string
	Type      EventType
	Email     string // optional
	Domain    string // optional
	EventTime time.Time
}

// Client is a source-store client eligible for processing.
type Client struct {
	ID     string
	Name   string
	Active bool
}
