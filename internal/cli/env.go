package cli

import (
	"context"
	"errors"
	"fmt"

	enginestore "github.com/okian/attribution/internal/adapters/repository/sqlite"
	sourcestore "github.com/okian/attribution/internal/adapters/source/sqlite"
	service "github.com/okian/attribution/internal/app"
	"github.com/okian/attribution/internal/config"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/internal/domain/normalize"
	"github.com/okian/attribution/internal/domain/sendindex"
	"github.com/okian/attribution/pkg/logger"
)

// Env holds the stores and the service built from a Config.
type Env struct {
	Config  *config.Config
	Store   *enginestore.Store
	Source  *sourcestore.Store
	Service *service.Service
}

// EnvOption tunes how OpenEnv builds the environment.
type EnvOption func(*envOptions)

type envOptions struct {
	sourceSchema bool
	serviceOpts  []service.Option
}

// WithSourceSchema creates the CRM tables in the source store if missing.
// Used for local databases and seeding.
func WithSourceSchema() EnvOption {
	return func(o *envOptions) { o.sourceSchema = true }
}

// WithServiceOptions appends options after the ones derived from the config.
func WithServiceOptions(opts ...service.Option) EnvOption {
	return func(o *envOptions) { o.serviceOpts = append(o.serviceOpts, opts...) }
}

// OpenEnv opens both stores and builds the service. The caller owns Close.
func OpenEnv(ctx context.Context, cfg *config.Config, opts ...EnvOption) (*Env, error) {
	o := envOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	norm, err := buildNormalizer(cfg)
	if err != nil {
		return nil, err
	}
	cycle, err := model.ParseBillingCycle(cfg.DefaultBillingCycle)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	store, err := enginestore.Open(ctx, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open engine store: %w", err)
	}
	srcOpts := []sourcestore.Option{sourcestore.WithNormalizer(norm)}
	if o.sourceSchema {
		srcOpts = append(srcOpts, sourcestore.WithSchema())
	}
	source, err := sourcestore.Open(ctx, cfg.SourceDSN, srcOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open source store: %w", err)
	}

	logger.Get().Debug(ctx, "stores opened",
		logger.String("store", cfg.StoreDSN),
		logger.String("source_driver", source.Driver()),
	)

	svcOpts := []service.Option{
		service.WithLogger(logger.Named("engine")),
		service.WithQueueSize(cfg.JobQueueSize),
		service.WithBatchSize(cfg.BatchSize),
		service.WithDefaults(service.Defaults{
			AttributionWindowDays: cfg.DefaultAttributionWindowDays,
			ReviewWindowDays:      cfg.DefaultReviewWindowDays,
			BillingCycle:          cycle,
		}),
		service.WithIndexOptions(
			sendindex.WithChunkSize(cfg.ChunkSize),
			sendindex.WithParallelism(cfg.ChunkParallelism),
			sendindex.WithMaxRetries(cfg.ChunkMaxRetries),
		),
	}
	svcOpts = append(svcOpts, o.serviceOpts...)

	return &Env{
		Config:  cfg,
		Store:   store,
		Source:  source,
		Service: service.New(store, source, norm, svcOpts...),
	}, nil
}

// Close releases both stores. The service must be stopped first.
func (e *Env) Close() error {
	return errors.Join(e.Source.Close(), e.Store.Close())
}

func buildNormalizer(cfg *config.Config) (*normalize.Normalizer, error) {
	var opts []normalize.Option
	if cfg.SuffixFile != "" {
		fileOpts, err := normalize.LoadSuffixFile(cfg.SuffixFile)
		if err != nil {
			return nil, fmt.Errorf("%w: suffix_file: %w", config.ErrInvalidConfig, err)
		}
		opts = append(opts, fileOpts...)
	}
	if len(cfg.ExtraSuffixes) > 0 {
		opts = append(opts, normalize.WithSuffixes(cfg.ExtraSuffixes...))
	}
	return normalize.New(opts...), nil
}
