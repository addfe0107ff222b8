package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	service "github.com/okian/attribution/internal/app"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/internal/seed"
)

const dateLayout = time.DateOnly

func newSyncClientsCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-clients",
		Short: "Create default configs for source clients that have none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.runJob(cmd, model.JobSyncClients, "")
		},
	}
}

func newProcessClientCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "process-client CLIENT_ID",
		Short: "Match and aggregate the conversion events of one client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.runJob(cmd, model.JobProcessClient, args[0])
		},
	}
}

func newProcessAllCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "process-all",
		Short: "Process every active client in turn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.runJob(cmd, model.JobProcessAll, "")
		},
	}
}

func newCreateIndexCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create-index",
		Short: "Create the source indexes used by send lookups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.runJob(cmd, model.JobCreateIndex, "")
		},
	}
}

func (f *rootFlags) runJob(cmd *cobra.Command, kind model.JobKind, clientID string) error {
	return f.withEnv(cmd, func(ctx context.Context, env *Env) error {
		job, err := env.Service.RunJob(ctx, kind, clientID)
		if job.ID != "" {
			printJob(cmd.OutOrStdout(), job)
		}
		return err
	})
}

func newJobStatusCmd(f *rootFlags) *cobra.Command {
	var errLimit int
	cmd := &cobra.Command{
		Use:   "job-status JOB_ID",
		Short: "Show a job, its checkpoint and the errors it logged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withEnv(cmd, func(ctx context.Context, env *Env) error {
				job, err := env.Service.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printJob(out, job)
				if errLimit <= 0 || job.Checkpoint.ErrorCount == 0 {
					return nil
				}
				errs, err := env.Service.ListJobErrors(ctx, job.ID, errLimit)
				if err != nil {
					return err
				}
				printJobErrors(out, errs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&errLimit, "errors", 20, "number of logged errors to print, 0 to skip")
	return cmd
}

func newHealthCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping the engine store and the CRM source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.withEnv(cmd, func(ctx context.Context, env *Env) error {
				h, err := env.Service.Health(ctx)
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "store\t%s\n", h.Store)
				fmt.Fprintf(tw, "source\t%s\n", h.Source)
				_ = tw.Flush()
				return err
			})
		},
	}
}

func newPeriodsCmd(f *rootFlags) *cobra.Command {
	var summary bool
	cmd := &cobra.Command{
		Use:   "periods CLIENT_ID",
		Short: "List billing periods from contract start up to today",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withEnv(cmd, func(ctx context.Context, env *Env) error {
				periods, err := env.Service.Periods(ctx, args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "PERIOD\tSTART\tEND\tREVIEW DEADLINE\tSTATUS")
				for _, p := range periods {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name,
						p.Start.Format(dateLayout), p.End.Format(dateLayout),
						p.ReviewDeadline.Format(dateLayout), p.Status)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if !summary {
					return nil
				}
				s, err := env.Service.BillingSummary(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s: billable=%d pending_review=%d rejected=%d not_billable=%d\n",
					s.Period.Name, s.Billable, s.PendingReview, s.Rejected, s.NotBillable)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "also print the current period's billing summary")
	return cmd
}

func newSeedCmd(f *rootFlags) *cobra.Command {
	def := seed.DefaultConfig(time.Now())
	cfg := def
	var start string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a synthetic dataset into the source store",
		Long: `seed creates the CRM tables in the source store if needed and writes
generated clients, prospects, sends and conversion events. The same --seed
produces the same clients, so a rerun upserts them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if start != "" {
				t, err := time.Parse(dateLayout, start)
				if err != nil {
					return fmt.Errorf("%w: --start: %w", seed.ErrInvalidConfig, err)
				}
				cfg.Start = t
			}
			return f.withEnv(cmd, func(ctx context.Context, env *Env) error {
				stats, err := seed.Run(ctx, env.Source, cfg)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "seeded %d clients, %d prospects, %d sends, %d events (ids %d-%d) in %s\n",
					stats.Clients, stats.Prospects, stats.Conversations, stats.Events,
					stats.FirstEventID, stats.LastEventID, stats.Duration.Round(time.Millisecond))
				for _, id := range stats.ClientIDs {
					fmt.Fprintln(out, id)
				}
				return nil
			}, WithSourceSchema())
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&cfg.Clients, "clients", def.Clients, "number of clients")
	fl.IntVar(&cfg.ProspectsPerClient, "prospects", def.ProspectsPerClient, "prospects per client")
	fl.IntVar(&cfg.EventsPerClient, "events", def.EventsPerClient, "conversion events per client")
	fl.IntVar(&cfg.Days, "days", def.Days, "days covered by sends and events")
	fl.Uint64Var(&cfg.Seed, "seed", def.Seed, "random seed")
	fl.StringVar(&start, "start", "", "first day of the dataset, YYYY-MM-DD (default 90 days ago)")
	return cmd
}

func printJob(w io.Writer, job model.ProcessingJob) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	cp := job.Checkpoint
	fmt.Fprintf(tw, "job\t%s\n", job.ID)
	fmt.Fprintf(tw, "kind\t%s\n", job.Kind)
	if job.ClientID != "" {
		fmt.Fprintf(tw, "client\t%s\n", job.ClientID)
	}
	fmt.Fprintf(tw, "status\t%s\n", job.Status)
	fmt.Fprintf(tw, "processed\t%d/%d\n", cp.Processed, cp.TotalEvents)
	fmt.Fprintf(tw, "matches\thard=%d soft=%d outside_window=%d no_match=%d\n",
		cp.MatchedHard, cp.MatchedSoft, cp.OutsideWindow, cp.NoMatch)
	fmt.Fprintf(tw, "errors\t%d\n", cp.ErrorCount)
	if job.Kind == model.JobProcessAll {
		fmt.Fprintf(tw, "clients done\t%d\n", cp.ClientsDone)
	}
	if job.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", job.Error)
	}
	if job.StartedAt != nil && job.FinishedAt != nil {
		fmt.Fprintf(tw, "took\t%s\n", job.FinishedAt.Sub(*job.StartedAt).Round(time.Millisecond))
	}
	_ = tw.Flush()
}

func printJobErrors(w io.Writer, errs []model.ProcessingError) {
	if len(errs) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSTAGE\tEVENT\tDOMAIN\tMESSAGE")
	for _, e := range errs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Stage, e.EventID, e.Domain, e.Message)
	}
	_ = tw.Flush()
}

// IsJobInFlight reports whether err means the same work is already running.
func IsJobInFlight(err error) bool {
	return errors.Is(err, service.ErrJobInFlight)
}
