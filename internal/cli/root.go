// Package cli implements the attributionctl command tree. Job commands run
// in-process and return once the job has finished.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/attribution/internal/config"
	"github.com/okian/attribution/pkg/logger"
)

const envConfigFile = "ATTRIBUTION_CONFIG"

type rootFlags struct {
	configPath   string
	storeDSN     string
	sourceDSN    string
	sourceSchema bool
	logLevel     string
}

// NewRootCommand builds the attributionctl command tree.
func NewRootCommand() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "attributionctl",
		Short: "Operate the attribution engine from the command line",
		Long: `attributionctl runs attribution jobs against the configured stores
without going through the HTTP API. Configuration is read the same way as the
server: defaults, then the YAML file in ATTRIBUTION_CONFIG, then ATTRIBUTION_*
environment variables. Flags override all of them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&f.storeDSN, "store", "", "engine SQLite database")
	pf.StringVar(&f.sourceDSN, "source", "", "CRM source DSN (file path or libsql:// URL)")
	pf.BoolVar(&f.sourceSchema, "init-source", false, "create the CRM tables in the source store if missing")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newSyncClientsCmd(f),
		newProcessClientCmd(f),
		newProcessAllCmd(f),
		newCreateIndexCmd(f),
		newJobStatusCmd(f),
		newHealthCmd(f),
		newPeriodsCmd(f),
		newSeedCmd(f),
	)
	return root
}

// Exit codes returned by Execute.
const (
	ExitOK       = 0
	ExitFailed   = 1
	ExitInFlight = 2
)

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		if IsJobInFlight(err) {
			return ExitInFlight
		}
		return ExitFailed
	}
	return ExitOK
}

func (f *rootFlags) load(ctx context.Context) (*config.Config, error) {
	if f.configPath != "" {
		if err := os.Setenv(envConfigFile, f.configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if f.storeDSN != "" {
		cfg.StoreDSN = f.storeDSN
	}
	if f.sourceDSN != "" {
		cfg.SourceDSN = f.sourceDSN
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("%w: log level: %w", config.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// withEnv loads the config, opens the environment for the duration of fn
// and closes it afterwards.
func (f *rootFlags) withEnv(cmd *cobra.Command, fn func(ctx context.Context, env *Env) error, opts ...EnvOption) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := f.load(ctx)
	if err != nil {
		return err
	}
	if f.sourceSchema {
		opts = append(opts, WithSourceSchema())
	}
	env, err := OpenEnv(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.Close(); cerr != nil {
			logger.Get().Warn(ctx, "close stores", logger.Error(cerr))
		}
	}()
	return fn(ctx, env)
}
