package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/okian/attribution/internal/domain/model"
)

// sentType marks outbound messages in email_conversations.
const sentType = "Sent"

// ListClients returns active clients ordered by id.
func (s *Store) ListClients(ctx context.Context) ([]model.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, active FROM clients WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		var (
			c      model.Client
			active int
		)
		if err := rows.Scan(&c.ID, &c.Name, &active); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		c.Active = active == 1
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return out, nil
}

// CountIntegrations returns the number of outbound integrations of a client.
func (s *Store) CountIntegrations(ctx context.Context, clientID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM client_integrations WHERE client_id = ?`, clientID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count integrations: %w", err)
	}
	return n, nil
}

// CountConversionEvents returns how many events of a client have an id above afterID.
func (s *Store) CountConversionEvents(ctx context.Context, clientID string, afterID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversion_events WHERE client_id = ? AND id > ?`, clientID, afterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conversion events: %w", err)
	}
	return n, nil
}

// ListConversionEvents returns up to limit events of a client with an id
// above afterID, in id order. Event types are returned as stored; a missing
// event time reads as the zero time.
func (s *Store) ListConversionEvents(ctx context.Context, clientID string, afterID int64, limit int) ([]model.ConversionEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be greater than zero", ErrInvalidInput)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, client_id, event_type, email, domain, event_time
FROM conversion_events
WHERE client_id = ? AND id > ?
ORDER BY id
LIMIT ?`, clientID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversion events: %w", err)
	}
	defer rows.Close()

	out := make([]model.ConversionEvent, 0, limit)
	for rows.Next() {
		var (
			ev            model.ConversionEvent
			eventType     string
			email, domain sql.NullString
			eventTime     sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.ClientID, &eventType, &email, &domain, &eventTime); err != nil {
			return nil, fmt.Errorf("scan conversion event: %w", err)
		}
		ev.Type = model.EventType(eventType)
		ev.Email = email.String
		ev.Domain = domain.String
		if eventTime.Valid {
			ev.EventTime = time.UnixMilli(eventTime.Int64).UTC()
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversion events: %w", err)
	}
	return out, nil
}

// EarliestSendByEmail returns the first outbound send per lead email.
// emails must be normalized (trimmed, lowercase).
func (s *Store) EarliestSendByEmail(ctx context.Context, clientID string, emails []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(emails))
	if len(emails) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(emails)+2)
	args = append(args, clientID, sentType)
	for _, e := range emails {
		args = append(args, e)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT lower(trim(p.lead_email)), MIN(ec.timestamp)
FROM email_conversations ec
JOIN prospects p ON p.id = ec.prospect_id
WHERE p.client_id = ? AND ec.type = ? AND lower(trim(p.lead_email)) IN (`+placeholders(len(emails))+`)
GROUP BY lower(trim(p.lead_email))`, args...)
	if err != nil {
		return nil, fmt.Errorf("earliest send by email: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			email string
			ts    int64
		)
		if err := rows.Scan(&email, &ts); err != nil {
			return nil, fmt.Errorf("scan earliest send: %w", err)
		}
		out[email] = time.UnixMilli(ts).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate earliest sends: %w", err)
	}
	return out, nil
}

// EarliestSendByDomain returns the first outbound send per registrable
// domain. A prospect counts for a domain when its company domain or the
// domain of its lead email normalizes to it. Candidates are narrowed in SQL
// by substring and resolved with the store's normalizer.
func (s *Store) EarliestSendByDomain(ctx context.Context, clientID string, domains []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(domains))
	if len(domains) == 0 {
		return out, nil
	}
	wanted := make(map[string]struct{}, len(domains))
	conds := make([]string, 0, len(domains))
	args := make([]any, 0, 2+2*len(domains))
	args = append(args, clientID, sentType)
	for _, d := range domains {
		wanted[d] = struct{}{}
		conds = append(conds, `instr(lower(coalesce(p.company_domain, '')), ?) > 0 OR instr(lower(coalesce(p.lead_email, '')), ?) > 0`)
		args = append(args, d, d)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT coalesce(p.company_domain, ''), coalesce(p.lead_email, ''), MIN(ec.timestamp)
FROM email_conversations ec
JOIN prospects p ON p.id = ec.prospect_id
WHERE p.client_id = ? AND ec.type = ? AND (`+strings.Join(conds, " OR ")+`)
GROUP BY 1, 2`, args...)
	if err != nil {
		return nil, fmt.Errorf("earliest send by domain: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			company, leadEmail string
			ts                 int64
		)
		if err := rows.Scan(&company, &leadEmail, &ts); err != nil {
			return nil, fmt.Errorf("scan earliest send: %w", err)
		}
		sent := time.UnixMilli(ts).UTC()
		companyDomain, _ := s.norm.Domain(company)
		emailDomain, _ := s.norm.EmailDomain(leadEmail)
		for _, d := range []string{companyDomain, emailDomain} {
			if _, ok := wanted[d]; !ok {
				continue
			}
			if cur, ok := out[d]; !ok || sent.Before(cur) {
				out[d] = sent
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate earliest sends: %w", err)
	}
	return out, nil
}
