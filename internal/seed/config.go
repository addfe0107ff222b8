package seed

import "time"

// Config holds the shape of a seeded dataset.
type Config struct {
	Clients            int       // number of clients to create
	ProspectsPerClient int       // emailed contacts per client
	EventsPerClient    int       // CRM conversion events per client
	Start              time.Time // first day sends may happen on
	Days               int       // span of the send and event dates
	Seed               uint64    // random source seed; equal seeds give equal data
}

// DefaultConfig returns a small demo dataset starting 90 days before now.
func DefaultConfig(now time.Time) Config {
	return Config{
		Clients:            3,
		ProspectsPerClient: 200,
		EventsPerClient:    500,
		Start:              now.UTC().AddDate(0, 0, -90),
		Days:               90,
		Seed:               1,
	}
}

// Stats counts what a seed run wrote.
type Stats struct {
	Clients       int   `json:"clients"`
	Prospects     int   `json:"prospects"`
	Conversations int   `json:"conversations"`
	Events        int   `json:"events"`
	FirstEventID  int64 `json:"first_event_id"`
	LastEventID   int64 `json:"last_event_id"`
	// ClientIDs lists the created clients in creation order.
	ClientIDs []string      `json:"client_ids"`
	Duration  time.Duration `json:"duration"`
}
