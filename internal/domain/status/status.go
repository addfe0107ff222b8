// Package status implements the attribution status machine. Every status
// change goes through Apply, which returns the STATUS_CHANGE timeline entry
// that must be stored with the record.
package status

import (
	"fmt"
	"time"

	"github.com/okian/attribution/internal/domain/model"
)

// Action is the category of a status change.
type Action string

const (
	ActionAutoMatch       Action = "AUTO_MATCH"
	ActionManualPromote   Action = "MANUAL_PROMOTE"
	ActionManualRecompute Action = "MANUAL_RECOMPUTE"
	ActionSendForReview   Action = "SEND_FOR_REVIEW"
	ActionClientDispute   Action = "CLIENT_DISPUTE"
	ActionClientConfirm   Action = "CLIENT_CONFIRM"
	ActionClientReject    Action = "CLIENT_REJECT"
	ActionAutoBill        Action = "AUTO_BILL"
)

// ActorSystem is the actor recorded for engine-initiated changes.
const ActorSystem = "system"

// Change describes who is changing a status, when and why.
type Change struct {
	Actor  string
	Reason string
	At     time.Time
}

type rule struct {
	from map[model.Status]bool // nil allows any status that is not human held
	to   map[model.Status]bool // nil allows any target
}

func set(ss ...model.Status) map[model.Status]bool {
	m := make(map[model.Status]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

var rules = map[Action]rule{
	ActionAutoMatch:       {to: set(model.StatusUnattributed, model.StatusOutsideWindow, model.StatusAttributed)},
	ActionManualRecompute: {to: set(model.StatusUnattributed, model.StatusOutsideWindow, model.StatusAttributed)},
	ActionManualPromote: {
		from: set("", model.StatusUnattributed, model.StatusOutsideWindow),
		to:   set(model.StatusClientPromoted),
	},
	ActionSendForReview: {
		from: set(model.StatusAttributed),
		to:   set(model.StatusPendingClientReview),
	},
	ActionClientDispute: {
		from: set(model.StatusAttributed),
		to:   set(model.StatusPendingClientReview),
	},
	ActionClientConfirm: {
		from: set(model.StatusPendingClientReview),
		to:   set(model.StatusAttributed),
	},
	ActionClientReject: {
		from: set(model.StatusPendingClientReview),
		to:   set(model.StatusClientRejected),
	},
	ActionAutoBill: {
		from: set(model.StatusPendingClientReview),
		to:   set(model.StatusAttributed),
	},
}

// Allowed reports whether action may move a domain from -> to.
func Allowed(action Action, from, to model.Status) bool {
	r, ok := rules[action]
	if !ok {
		return false
	}
	if r.from == nil {
		if from.HumanHeld() {
			return false
		}
	} else if !r.from[from] {
		return false
	}
	return r.to == nil || r.to[to]
}

// Apply moves d to the target status and returns the audit entry. It returns
// nil without error when d already has that status.
func Apply(d *model.AttributedDomain, to model.Status, action Action, c Change) (*model.DomainEvent, error) {
	from := d.Status
	if from == to {
		return nil, nil
	}
	if !Allowed(action, from, to) {
		return nil, fmt.Errorf("%w: %s cannot move %s from %q to %s", ErrInvalidTransition, action, d.Domain, from, to)
	}
	d.Status = to
	d.UpdatedAt = c.At

	actor := c.Actor
	if actor == "" {
		actor = ActorSystem
	}
	meta := map[string]string{
		model.MetaOldStatus: string(from),
		model.MetaNewStatus: string(to),
		model.MetaAction:    string(action),
		model.MetaActor:     actor,
	}
	if c.Reason != "" {
		meta[model.MetaReason] = c.Reason
	}
	return &model.DomainEvent{
		AttributedDomainID: d.ID,
		Source:             model.SourceStatusChange,
		EventTime:          c.At,
		Metadata:           meta,
	}, nil
}

// Derive computes the status automatic matching would assign.
func Derive(d *model.AttributedDomain) model.Status {
	switch {
	case d.MatchType.Rank() == 0:
		return model.StatusUnattributed
	case d.IsWithinWindow:
		return model.StatusAttributed
	}
	return model.StatusOutsideWindow
}

// Automatic applies the derived status unless a human decision holds the domain.
func Automatic(d *model.AttributedDomain, c Change) (*model.DomainEvent, error) {
	return derived(d, ActionAutoMatch, c)
}

// Recompute is Automatic for a manual trigger.
func Recompute(d *model.AttributedDomain, c Change) (*model.DomainEvent, error) {
	return derived(d, ActionManualRecompute, c)
}

func derived(d *model.AttributedDomain, action Action, c Change) (*model.DomainEvent, error) {
	if d.Status.HumanHeld() {
		return nil, nil
	}
	return Apply(d, Derive(d), action, c)
}

// Promote escalates a new or non-billable domain to CLIENT_PROMOTED. Domains
// that are already billable or held by a review decision are left alone.
func Promote(d *model.AttributedDomain, c Change) (*model.DomainEvent, error) {
	if !Allowed(ActionManualPromote, d.Status, model.StatusClientPromoted) {
		return nil, nil
	}
	return Apply(d, model.StatusClientPromoted, ActionManualPromote, c)
}

// SendForReview asks the client to confirm an attributed domain. The review
// deadline is c.At plus reviewWindowDays.
func SendForReview(d *model.AttributedDomain, reviewWindowDays int, c Change) (*model.DomainEvent, error) {
	return requestReview(d, ActionSendForReview, reviewWindowDays, c)
}

// Dispute records a client dispute of an attributed domain.
func Dispute(d *model.AttributedDomain, reviewWindowDays int, c Change) (*model.DomainEvent, error) {
	return requestReview(d, ActionClientDispute, reviewWindowDays, c)
}

func requestReview(d *model.AttributedDomain, action Action, reviewWindowDays int, c Change) (*model.DomainEvent, error) {
	if d.Status != model.StatusAttributed {
		return nil, fmt.Errorf("%w: %s requires %s, %s is %s", ErrInvalidTransition, action, model.StatusAttributed, d.Domain, d.Status)
	}
	ev, err := Apply(d, model.StatusPendingClientReview, action, c)
	if err != nil {
		return nil, err
	}
	at := c.At
	deadline := at.AddDate(0, 0, reviewWindowDays)
	d.Review = model.Review{
		RequestedAt: &at,
		RequestedBy: c.Actor,
		Deadline:    &deadline,
		Reason:      c.Reason,
	}
	return ev, nil
}

// Respond resolves a pending review: confirmed domains return to ATTRIBUTED,
// rejected ones become CLIENT_REJECTED.
func Respond(d *model.AttributedDomain, confirm bool, c Change) (*model.DomainEvent, error) {
	action, to := ActionClientReject, model.StatusClientRejected
	if confirm {
		action, to = ActionClientConfirm, model.StatusAttributed
	}
	if d.Status != model.StatusPendingClientReview {
		return nil, fmt.Errorf("%w: %s requires %s, %s is %s", ErrInvalidTransition, action, model.StatusPendingClientReview, d.Domain, d.Status)
	}
	ev, err := Apply(d, to, action, c)
	if err != nil {
		return nil, err
	}
	at := c.At
	d.Review.RespondedAt = &at
	d.Review.RespondedBy = c.Actor
	if c.Reason != "" {
		d.Review.Reason = c.Reason
	}
	return ev, nil
}

// ReviewExpired reports whether a pending review passed its deadline at now.
func ReviewExpired(d *model.AttributedDomain, now time.Time) bool {
	return d.Status == model.StatusPendingClientReview &&
		d.Review.Deadline != nil && now.After(*d.Review.Deadline)
}

// AutoBill bills a pending review whose deadline passed without a response.
func AutoBill(d *model.AttributedDomain, now time.Time) (*model.DomainEvent, error) {
	if !ReviewExpired(d, now) {
		return nil, nil
	}
	return Apply(d, model.StatusAttributed, ActionAutoBill, Change{
		Actor:  ActorSystem,
		Reason: "review deadline passed without client response",
		At:     now,
	})
}
