package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/pkg/logger"
)

const sentType = "Sent"

// Writer is the source-store write surface used for seeding.
type Writer interface {
	InsertClient(ctx context.Context, c model.Client, provider, workspaceID string) error
	InsertProspect(ctx context.Context, clientID, leadEmail, companyDomain string) (int64, error)
	InsertConversation(ctx context.Context, prospectID int64, typ string, at time.Time) error
	InsertConversionEvent(ctx context.Context, ev model.ConversionEvent) (int64, error)
}

// Run writes a generated dataset through w.
func Run(ctx context.Context, w Writer, cfg Config) (Stats, error) {
	if cfg.Clients <= 0 || cfg.ProspectsPerClient <= 0 || cfg.EventsPerClient < 0 || cfg.Days <= 0 {
		return Stats{}, fmt.Errorf("%w: clients, prospects and days must be positive", ErrInvalidConfig)
	}
	if cfg.Start.IsZero() {
		return Stats{}, fmt.Errorf("%w: start date is required", ErrInvalidConfig)
	}
	cfg.Start = cfg.Start.UTC()

	log := logger.Named("seed")
	started := time.Now()
	stats := Stats{}
	g := newGenerator(cfg)

	for n := 0; n < cfg.Clients; n++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		plan := g.client(n)
		if err := writeClient(ctx, w, plan, &stats); err != nil {
			return stats, fmt.Errorf("seed client %s: %w", plan.client.ID, err)
		}
		log.Info(ctx, "seeded client",
			logger.String("client_id", plan.client.ID),
			logger.Int("prospects", len(plan.prospects)),
			logger.Int("events", len(plan.events)),
		)
	}

	stats.Duration = time.Since(started)
	return stats, nil
}

func writeClient(ctx context.Context, w Writer, plan clientPlan, stats *Stats) error {
	c := plan.client
	if err := w.InsertClient(ctx, c, "smartlead", "seed-"+c.ID[:8]); err != nil {
		return err
	}
	stats.Clients++
	stats.ClientIDs = append(stats.ClientIDs, c.ID)

	for _, p := range plan.prospects {
		id, err := w.InsertProspect(ctx, c.ID, p.email, p.domain)
		if err != nil {
			return err
		}
		stats.Prospects++
		for _, at := range p.sends {
			if err := w.InsertConversation(ctx, id, sentType, at); err != nil {
				return err
			}
			stats.Conversations++
		}
	}

	for _, ev := range plan.events {
		id, err := w.InsertConversionEvent(ctx, ev)
		if err != nil {
			return err
		}
		if stats.FirstEventID == 0 {
			stats.FirstEventID = id
		}
		stats.LastEventID = id
		stats.Events++
	}
	return nil
}
