package model

import "time"

// AttributedDomain is the per client, per normalized domain attribution record.
type AttributedDomain struct {
	ID       string
	ClientID string
	Domain   string

	FirstEmailSentAt *time.Time
	FirstEventAt     *time.Time
	LastEventAt      *time.Time

	HasPositiveReply  bool
	HasSignUp         bool
	HasMeetingBooked  bool
	HasPayingCustomer bool
	IsWithinWindow    bool

	MatchType     MatchType
	Status        Status
	MatchedEmails []string // sorted, distinct
	Review        Review

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Review carries review and dispute metadata for a domain.
type Review struct {
	RequestedAt *time.Time
	RequestedBy string
	Deadline    *time.Time
	RespondedAt *time.Time
	RespondedBy string
	Reason      string
}

// SetFlag raises the flag matching the event type. Unflagged types are ignored.
func (d *AttributedDomain) SetFlag(t EventType) {
	switch t {
	case EventSignUp:
		d.HasSignUp = true
	case EventMeetingBooked:
		d.HasMeetingBooked = true
	case EventPayingCustomer:
		d.HasPayingCustomer = true
	case EventPositiveReply:
		d.HasPositiveReply = true
	}
}

// Clone returns a deep copy safe to mutate.
func (d *AttributedDomain) Clone() *AttributedDomain {
	if d == nil {
		return nil
	}
	c := *d
	c.FirstEmailSentAt = cloneTime(d.FirstEmailSentAt)
	c.FirstEventAt = cloneTime(d.FirstEventAt)
	c.LastEventAt = cloneTime(d.LastEventAt)
	c.Review.RequestedAt = cloneTime(d.Review.RequestedAt)
	c.Review.Deadline = cloneTime(d.Review.Deadline)
	c.Review.RespondedAt = cloneTime(d.Review.RespondedAt)
	if d.MatchedEmails != nil {
		c.MatchedEmails = append([]string(nil), d.MatchedEmails...)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimelineSource identifies what produced a DomainEvent.
type TimelineSource string

const (
	SourceSignUp         TimelineSource = "sign_up"
	SourceMeetingBooked  TimelineSource = "meeting_booked"
	SourcePayingCustomer TimelineSource = "paying_customer"
	SourcePositiveReply  TimelineSource = "positive_reply"
	SourceEmailSent      TimelineSource = "EMAIL_SENT"
	SourceStatusChange   TimelineSource = "STATUS_CHANGE"
)

// TimelineSourceFor maps an event type to its timeline source.
func TimelineSourceFor(t EventType) TimelineSource {
	if t == EventEmailSent {
		return SourceEmailSent
	}
	return TimelineSource(t)
}

// Metadata keys written on STATUS_CHANGE entries.
const (
	MetaOldStatus = "old_status"
	MetaNewStatus = "new_status"
	MetaAction    = "action"
	MetaActor     = "actor"
	MetaReason    = "reason"
	MetaMatchType = "match_type"
	MetaManual    = "manual"
)

// DomainEvent is an append-only timeline entry of an AttributedDomain.
type DomainEvent struct {
	ID                 string
	AttributedDomainID string
	Source             TimelineSource
	EventTime          time.Time
	Email              string
	// SourceRef identifies automatic entries so reruns never append them twice.
	// Empty for manual and status entries.
	SourceRef string
	Metadata  map[string]string
	CreatedAt time.Time
}
