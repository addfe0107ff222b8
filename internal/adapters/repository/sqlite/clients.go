package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/okian/attribution/internal/adapters/repository"
	"github.com/okian/attribution/internal/domain/model"
)

const clientConfigColumns = `client_id, name, attribution_window_days, billing_cycle,
	contract_start_date, review_window_days, created_at, updated_at`

// GetClientConfig returns the configuration of one client.
func (s *Store) GetClientConfig(ctx context.Context, clientID string) (model.ClientConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientConfigColumns+` FROM client_configs WHERE client_id = ?`, clientID)
	cfg, err := scanClientConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ClientConfig{}, fmt.Errorf("%w: client config %s", repository.ErrNotFound, clientID)
	}
	if err != nil {
		return model.ClientConfig{}, fmt.Errorf("get client config: %w", err)
	}
	return cfg, nil
}

// ListClientConfigs returns every configured client ordered by id.
func (s *Store) ListClientConfigs(ctx context.Context) ([]model.ClientConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientConfigColumns+` FROM client_configs ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("list client configs: %w", err)
	}
	defer rows.Close()

	var out []model.ClientConfig
	for rows.Next() {
		cfg, err := scanClientConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client config: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client configs: %w", err)
	}
	return out, nil
}

// PutClientConfig creates or replaces a client configuration.
func (s *Store) PutClientConfig(ctx context.Context, cfg model.ClientConfig) error {
	if err := validateClientConfig(cfg); err != nil {
		return err
	}
	now := toMillis(s.now())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO client_configs (`+clientConfigColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (client_id) DO UPDATE SET
	name = excluded.name,
	attribution_window_days = excluded.attribution_window_days,
	billing_cycle = excluded.billing_cycle,
	contract_start_date = excluded.contract_start_date,
	review_window_days = excluded.review_window_days,
	updated_at = excluded.updated_at
`,
		cfg.ClientID, cfg.Name, cfg.AttributionWindowDays, string(cfg.BillingCycle),
		nullMillis(cfg.ContractStartDate), cfg.ReviewWindowDays, now, now,
	)
	if err != nil {
		return fmt.Errorf("put client config: %w", err)
	}
	return nil
}

// EnsureClientConfig inserts cfg unless the client already has a configuration.
func (s *Store) EnsureClientConfig(ctx context.Context, cfg model.ClientConfig) (bool, error) {
	if err := validateClientConfig(cfg); err != nil {
		return false, err
	}
	now := toMillis(s.now())
	res, err := s.db.ExecContext(ctx, `
INSERT INTO client_configs (`+clientConfigColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (client_id) DO NOTHING
`,
		cfg.ClientID, cfg.Name, cfg.AttributionWindowDays, string(cfg.BillingCycle),
		nullMillis(cfg.ContractStartDate), cfg.ReviewWindowDays, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("ensure client config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure client config: %w", err)
	}
	return n == 1, nil
}

// ResetCounters clears the running totals of a client.
func (s *Store) ResetCounters(ctx context.Context, clientID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_counters WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	return nil
}

// AddCounters increments running totals atomically.
func (s *Store) AddCounters(ctx context.Context, deltas []model.Counters) error {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add counters: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := addCounters(ctx, tx, deltas); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add counters: %w", err)
	}
	return nil
}

func addCounters(ctx context.Context, q queryer, deltas []model.Counters) error {
	for _, d := range deltas {
		_, err := q.ExecContext(ctx, `
INSERT INTO client_counters (client_id, event_type, total, hard, soft, outside_window, not_matched)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (client_id, event_type) DO UPDATE SET
	total = total + excluded.total,
	hard = hard + excluded.hard,
	soft = soft + excluded.soft,
	outside_window = outside_window + excluded.outside_window,
	not_matched = not_matched + excluded.not_matched
`, d.ClientID, string(d.EventType), d.Total, d.Hard, d.Soft, d.OutsideWindow, d.NotMatched)
		if err != nil {
			return fmt.Errorf("add counters %s/%s: %w", d.ClientID, d.EventType, err)
		}
	}
	return nil
}

// GetCounters returns the running totals of a client per event type.
func (s *Store) GetCounters(ctx context.Context, clientID string) ([]model.Counters, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT client_id, event_type, total, hard, soft, outside_window, not_matched
FROM client_counters WHERE client_id = ? ORDER BY event_type`, clientID)
	if err != nil {
		return nil, fmt.Errorf("get counters: %w", err)
	}
	defer rows.Close()

	var out []model.Counters
	for rows.Next() {
		var c model.Counters
		var eventType string
		if err := rows.Scan(&c.ClientID, &eventType, &c.Total, &c.Hard, &c.Soft, &c.OutsideWindow, &c.NotMatched); err != nil {
			return nil, fmt.Errorf("scan counters: %w", err)
		}
		c.EventType = model.EventType(eventType)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counters: %w", err)
	}
	return out, nil
}

func validateClientConfig(cfg model.ClientConfig) error {
	switch {
	case cfg.ClientID == "":
		return fmt.Errorf("%w: client id is required", repository.ErrInvalidInput)
	case cfg.AttributionWindowDays < 0 || cfg.ReviewWindowDays < 0:
		return fmt.Errorf("%w: window days must not be negative", repository.ErrInvalidInput)
	}
	if _, err := model.ParseBillingCycle(string(cfg.BillingCycle)); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrInvalidInput, err)
	}
	return nil
}

func scanClientConfig(row rowScanner) (model.ClientConfig, error) {
	var (
		cfg                  model.ClientConfig
		cycle                string
		contractStart        sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&cfg.ClientID, &cfg.Name, &cfg.AttributionWindowDays, &cycle,
		&contractStart, &cfg.ReviewWindowDays, &createdAt, &updatedAt); err != nil {
		return model.ClientConfig{}, err
	}
	parsed, err := model.ParseBillingCycle(cycle)
	if err != nil {
		return model.ClientConfig{}, err
	}
	cfg.BillingCycle = parsed
	cfg.ContractStartDate = fromNullMillis(contractStart)
	cfg.CreatedAt = fromMillis(createdAt)
	cfg.UpdatedAt = fromMillis(updatedAt)
	return cfg, nil
}
