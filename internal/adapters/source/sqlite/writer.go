package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/attribution/internal/domain/model"
)

// InsertClient adds or replaces a client and registers its outbound integration.
func (s *Store) InsertClient(ctx context.Context, c model.Client, provider, workspaceID string) error {
	if c.ID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidInput)
	}
	active := 0
	if c.Active {
		active = 1
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO clients (id, name, active) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		c.ID, c.Name, active); err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	if provider == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO client_integrations (client_id, provider, workspace_id) VALUES (?, ?, ?)
ON CONFLICT (client_id, provider) DO UPDATE SET workspace_id = excluded.workspace_id`,
		c.ID, provider, workspaceID); err != nil {
		return fmt.Errorf("insert client integration: %w", err)
	}
	return nil
}

// InsertProspect adds a prospect and returns its id.
func (s *Store) InsertProspect(ctx context.Context, clientID, leadEmail, companyDomain string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO prospects (client_id, lead_email, company_domain) VALUES (?, ?, ?)`,
		clientID, leadEmail, companyDomain)
	if err != nil {
		return 0, fmt.Errorf("insert prospect: %w", err)
	}
	return res.LastInsertId()
}

// InsertConversation records one message exchanged with a prospect.
// typ is "Sent" for outbound messages or "Received" for replies.
func (s *Store) InsertConversation(ctx context.Context, prospectID int64, typ string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO email_conversations (prospect_id, type, timestamp) VALUES (?, ?, ?)`,
		prospectID, typ, at.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// InsertConversionEvent adds a CRM conversion event and returns its id.
func (s *Store) InsertConversionEvent(ctx context.Context, ev model.ConversionEvent) (int64, error) {
	var eventTime any
	if !ev.EventTime.IsZero() {
		eventTime = ev.EventTime.UTC().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO conversion_events (client_id, event_type, email, domain, event_time)
VALUES (?, ?, ?, ?, ?)`,
		ev.ClientID, string(ev.Type), nullString(ev.Email), nullString(ev.Domain), eventTime)
	if err != nil {
		return 0, fmt.Errorf("insert conversion event: %w", err)
	}
	return res.LastInsertId()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
