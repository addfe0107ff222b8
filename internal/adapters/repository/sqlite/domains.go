package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/attribution/internal/adapters/repository"
	"github.com/okian/attribution/internal/domain/model"
)

const domainColumns = `id, client_id, domain, first_email_sent_at, first_event_at, last_event_at,
	has_positive_reply, has_sign_up, has_meeting_booked, has_paying_customer, is_within_window,
	match_type, status, matched_emails,
	review_requested_at, review_requested_by, review_deadline, review_responded_at, review_responded_by, review_reason,
	created_at, updated_at`

// MutateDomain runs fn against the stored domain inside one write transaction
// and persists the returned row together with its timeline entries.
func (s *Store) MutateDomain(ctx context.Context, clientID, domain string, fn repository.DomainMutation) (*model.AttributedDomain, error) {
	return s.mutateDomain(ctx, clientID, domain, false, func(cur *model.AttributedDomain, _ []model.DomainEvent) (*model.AttributedDomain, []model.DomainEvent, error) {
		return fn(cur)
	})
}

// MutateDomainWithTimeline is MutateDomain with the stored timeline read
// inside the same transaction.
func (s *Store) MutateDomainWithTimeline(ctx context.Context, clientID, domain string, fn repository.TimelineMutation) (*model.AttributedDomain, error) {
	return s.mutateDomain(ctx, clientID, domain, true, fn)
}

func (s *Store) mutateDomain(ctx context.Context, clientID, domain string, withTimeline bool, fn repository.TimelineMutation) (*model.AttributedDomain, error) {
	if clientID == "" || domain == "" {
		return nil, fmt.Errorf("%w: client id and domain are required", repository.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin domain mutation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getDomain(ctx, tx, clientID, domain)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	var timeline []model.DomainEvent
	if withTimeline && current != nil {
		if timeline, err = listDomainEvents(ctx, tx, current.ID); err != nil {
			return nil, err
		}
	}
	next, events, err := fn(current.Clone(), timeline)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}

	next.ClientID = clientID
	next.Domain = domain
	now := s.now()
	if current == nil {
		if next.ID == "" {
			next.ID = uuid.NewString()
		}
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = next.CreatedAt
		}
		err = insertDomain(ctx, tx, next)
	} else {
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		err = updateDomain(ctx, tx, next)
	}
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		ev.AttributedDomainID = next.ID
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		if err := insertDomainEvent(ctx, tx, ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit domain mutation: %w", err)
	}
	return next, nil
}

// GetDomain returns the stored record of one domain.
func (s *Store) GetDomain(ctx context.Context, clientID, domain string) (*model.AttributedDomain, error) {
	return getDomain(ctx, s.db, clientID, domain)
}

// ListDomains returns a client's domains ordered by domain name.
func (s *Store) ListDomains(ctx context.Context, clientID string, filter repository.DomainFilter) ([]*model.AttributedDomain, error) {
	query := `SELECT ` + domainColumns + ` FROM attributed_domains WHERE client_id = ?`
	args := []any{clientID}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(filter.Statuses)) + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY domain`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []*model.AttributedDomain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}
	return out, nil
}

// ListDomainEvents returns a domain's timeline ordered by event time.
func (s *Store) ListDomainEvents(ctx context.Context, domainID string) ([]model.DomainEvent, error) {
	return listDomainEvents(ctx, s.db, domainID)
}

func listDomainEvents(ctx context.Context, q queryer, domainID string) ([]model.DomainEvent, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, attributed_domain_id, source, event_time, email, source_ref, metadata, created_at
FROM domain_events
WHERE attributed_domain_id = ?
ORDER BY event_time, created_at, id`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list domain events: %w", err)
	}
	defer rows.Close()

	var out []model.DomainEvent
	for rows.Next() {
		var (
			ev                   model.DomainEvent
			source, meta         string
			eventTime, createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.AttributedDomainID, &source, &eventTime, &ev.Email, &ev.SourceRef, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan domain event: %w", err)
		}
		ev.Source = model.TimelineSource(source)
		ev.EventTime = fromMillis(eventTime)
		ev.CreatedAt = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode domain event metadata %s: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain events: %w", err)
	}
	return out, nil
}

func getDomain(ctx context.Context, q queryer, clientID, domain string) (*model.AttributedDomain, error) {
	row := q.QueryRowContext(ctx, `SELECT `+domainColumns+` FROM attributed_domains WHERE client_id = ? AND domain = ?`, clientID, domain)
	d, err := scanDomain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: domain %s for client %s", repository.ErrNotFound, domain, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return d, nil
}

func insertDomain(ctx context.Context, q queryer, d *model.AttributedDomain) error {
	emails, err := encodeEmails(d.MatchedEmails)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO attributed_domains (`+domainColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ClientID, d.Domain,
		nullMillis(d.FirstEmailSentAt), nullMillis(d.FirstEventAt), nullMillis(d.LastEventAt),
		boolInt(d.HasPositiveReply), boolInt(d.HasSignUp), boolInt(d.HasMeetingBooked),
		boolInt(d.HasPayingCustomer), boolInt(d.IsWithinWindow),
		string(d.MatchType), string(d.Status), emails,
		nullMillis(d.Review.RequestedAt), d.Review.RequestedBy, nullMillis(d.Review.Deadline),
		nullMillis(d.Review.RespondedAt), d.Review.RespondedBy, d.Review.Reason,
		toMillis(d.CreatedAt), toMillis(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert domain %s: %w", d.Domain, err)
	}
	return nil
}

func updateDomain(ctx context.Context, q queryer, d *model.AttributedDomain) error {
	emails, err := encodeEmails(d.MatchedEmails)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
UPDATE attributed_domains SET
	first_email_sent_at = ?, first_event_at = ?, last_event_at = ?,
	has_positive_reply = ?, has_sign_up = ?, has_meeting_booked = ?, has_paying_customer = ?,
	is_within_window = ?, match_type = ?, status = ?, matched_emails = ?,
	review_requested_at = ?, review_requested_by = ?, review_deadline = ?,
	review_responded_at = ?, review_responded_by = ?, review_reason = ?,
	updated_at = ?
WHERE id = ?`,
		nullMillis(d.FirstEmailSentAt), nullMillis(d.FirstEventAt), nullMillis(d.LastEventAt),
		boolInt(d.HasPositiveReply), boolInt(d.HasSignUp), boolInt(d.HasMeetingBooked), boolInt(d.HasPayingCustomer),
		boolInt(d.IsWithinWindow), string(d.MatchType), string(d.Status), emails,
		nullMillis(d.Review.RequestedAt), d.Review.RequestedBy, nullMillis(d.Review.Deadline),
		nullMillis(d.Review.RespondedAt), d.Review.RespondedBy, d.Review.Reason,
		toMillis(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("update domain %s: %w", d.Domain, err)
	}
	return nil
}

// insertDomainEvent ignores automatic entries whose source_ref was already stored.
func insertDomainEvent(ctx context.Context, q queryer, ev model.DomainEvent) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode domain event metadata: %w", err)
	}
	_, err = q.ExecContext(ctx, `
INSERT OR IGNORE INTO domain_events (id, attributed_domain_id, source, event_time, email, source_ref, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.AttributedDomainID, string(ev.Source), toMillis(ev.EventTime),
		ev.Email, ev.SourceRef, string(raw), toMillis(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert domain event: %w", err)
	}
	return nil
}

func scanDomain(row rowScanner) (*model.AttributedDomain, error) {
	var (
		d                                             model.AttributedDomain
		firstSent, firstEvent, lastEvent              sql.NullInt64
		reviewRequested, reviewDeadline, reviewAnswer sql.NullInt64
		hasReply, hasSignUp, hasMeeting, hasPaying    int
		withinWindow                                  int
		matchType, status, emails                     string
		createdAt, updatedAt                          int64
	)
	if err := row.Scan(
		&d.ID, &d.ClientID, &d.Domain, &firstSent, &firstEvent, &lastEvent,
		&hasReply, &hasSignUp, &hasMeeting, &hasPaying, &withinWindow,
		&matchType, &status, &emails,
		&reviewRequested, &d.Review.RequestedBy, &reviewDeadline, &reviewAnswer, &d.Review.RespondedBy, &d.Review.Reason,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	mt, err := model.ParseMatchType(matchType)
	if err != nil {
		return nil, err
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(emails), &d.MatchedEmails); err != nil {
		return nil, fmt.Errorf("decode matched emails: %w", err)
	}
	if len(d.MatchedEmails) == 0 {
		d.MatchedEmails = nil
	}

	d.MatchType = mt
	d.Status = st
	d.FirstEmailSentAt = fromNullMillis(firstSent)
	d.FirstEventAt = fromNullMillis(firstEvent)
	d.LastEventAt = fromNullMillis(lastEvent)
	d.HasPositiveReply = hasReply == 1
	d.HasSignUp = hasSignUp == 1
	d.HasMeetingBooked = hasMeeting == 1
	d.HasPayingCustomer = hasPaying == 1
	d.IsWithinWindow = withinWindow == 1
	d.Review.RequestedAt = fromNullMillis(reviewRequested)
	d.Review.Deadline = fromNullMillis(reviewDeadline)
	d.Review.RespondedAt = fromNullMillis(reviewAnswer)
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return &d, nil
}

func encodeEmails(emails []string) (string, error) {
	if emails == nil {
		emails = []string{}
	}
	raw, err := json.Marshal(emails)
	if err != nil {
		return "", fmt.Errorf("encode matched emails: %w", err)
	}
	return string(raw), nil
}
