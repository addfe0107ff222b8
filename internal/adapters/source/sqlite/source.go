// Package sqlite reads CRM and outbound email history from a SQLite or
// libsql (Turso) database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql" // remote libsql driver
	_ "modernc.org/sqlite"                               // local SQLite driver

	"github.com/okian/attribution/internal/adapters/source/sqlite/migrations"
	"github.com/okian/attribution/internal/adapters/sqlitemigrate"
	"github.com/okian/attribution/internal/domain/normalize"
	"github.com/okian/attribution/pkg/logger"
)

const localParams = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// Store is the source of clients, conversion events and send history.
type Store struct {
	db     *sql.DB
	driver string
	schema bool
	norm   *normalize.Normalizer
	log    logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSchema creates the source tables when missing. Used for local and
// seeded databases; production sources own their schema.
func WithSchema() Option {
	return func(s *Store) {
		s.schema = true
	}
}

// WithNormalizer sets the normalizer applied to prospect domains in send
// lookups. It must be the one the matcher uses so both sides share keys.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(s *Store) {
		if n != nil {
			s.norm = n
		}
	}
}

// DriverFor picks the database/sql driver for a DSN: libsql for remote
// Turso URLs, the pure Go SQLite driver otherwise.
func DriverFor(dsn string) string {
	if strings.Contains(dsn, "libsql://") || strings.Contains(dsn, "wss://") {
		return "libsql"
	}
	return "sqlite"
}

// Open connects to the source store at dsn.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty dsn", ErrInvalidDSN)
	}
	s := &Store{driver: DriverFor(dsn), log: logger.Named("source")}
	for _, opt := range opts {
		opt(s)
	}
	if s.norm == nil {
		s.norm = normalize.New()
	}

	target := dsn
	if s.driver == "sqlite" && !strings.Contains(dsn, "?") {
		target = dsn + "?" + localParams
	}
	db, err := sql.Open(s.driver, target)
	if err != nil {
		return nil, fmt.Errorf("open source db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping source db: %w", err)
	}
	s.db = db

	if s.schema {
		applied, err := sqlitemigrate.Apply(ctx, db, migrations.FS)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply source schema: %w", err)
		}
		for _, name := range applied {
			s.log.Info(ctx, "applied source migration", logger.String("name", name))
		}
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the source is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database/sql driver in use.
func (s *Store) Driver() string {
	return s.driver
}

// lookupIndexes back the send-history and event scans.
var lookupIndexes = []struct {
	name string
	ddl  string
}{
	{"idx_prospects_client_email", `CREATE INDEX IF NOT EXISTS idx_prospects_client_email ON prospects (client_id, lead_email)`},
	{"idx_prospects_client_domain", `CREATE INDEX IF NOT EXISTS idx_prospects_client_domain ON prospects (client_id, company_domain)`},
	{"idx_email_conversations_prospect", `CREATE INDEX IF NOT EXISTS idx_email_conversations_prospect ON email_conversations (prospect_id, type, timestamp)`},
	{"idx_conversion_events_client", `CREATE INDEX IF NOT EXISTS idx_conversion_events_client ON conversion_events (client_id, id)`},
}

// CreateIndexes creates the indexes used by the engine's lookups and returns their names.
func (s *Store) CreateIndexes(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(lookupIndexes))
	for _, idx := range lookupIndexes {
		if _, err := s.db.ExecContext(ctx, idx.ddl); err != nil {
			return names, fmt.Errorf("create index %s: %w", idx.name, err)
		}
		names = append(names, idx.name)
	}
	return names, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
