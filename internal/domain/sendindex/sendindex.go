// Package sendindex builds per-client indexes of the earliest outbound send
// per email address and per domain.
package sendindex

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/okian/attribution/internal/domain/matching"
	"github.com/okian/attribution/pkg/logger"
	"github.com/okian/attribution/pkg/metrics"
)

const (
	kindEmail  = "email"
	kindDomain = "domain"
)

// Source answers earliest-send lookups for a bounded set of keys. Each
// returned map holds at most one entry per requested key.
type Source interface {
	EarliestSendByEmail(ctx context.Context, clientID string, emails []string) (map[string]time.Time, error)
	EarliestSendByDomain(ctx context.Context, clientID string, domains []string) (map[string]time.Time, error)
}

// Builder turns distinct keys into a matching.Index with chunked lookups.
type Builder struct {
	src         Source
	chunkSize   int
	parallelism int
	maxRetries  int
	newBackOff  func() backoff.BackOff
	log         logger.Logger
}

// New creates a Builder with chunks of 100 keys, 4 concurrent lookups and 3 attempts.
func New(src Source, opts ...Option) *Builder {
	b := &Builder{
		src:         src,
		chunkSize:   100,
		parallelism: 4,
		maxRetries:  3,
		newBackOff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		log:         logger.Named("sendindex"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build looks up the earliest send for every email and domain. Keys must be
// distinct and normalized. Any chunk that still fails after its retries
// fails the whole build with ErrSourceUnavailable.
func (b *Builder) Build(ctx context.Context, clientID string, emails, domains []string) (matching.Index, error) {
	metrics.RecordIndexKeys(kindEmail, len(emails))
	metrics.RecordIndexKeys(kindDomain, len(domains))

	byEmail, err := b.lookup(ctx, clientID, kindEmail, emails, b.src.EarliestSendByEmail)
	if err != nil {
		return matching.Index{}, err
	}
	byDomain, err := b.lookup(ctx, clientID, kindDomain, domains, b.src.EarliestSendByDomain)
	if err != nil {
		return matching.Index{}, err
	}
	return matching.Index{ByEmail: byEmail, ByDomain: byDomain}, nil
}

type lookupFunc func(ctx context.Context, clientID string, keys []string) (map[string]time.Time, error)

func (b *Builder) lookup(ctx context.Context, clientID, kind string, keys []string, fn lookupFunc) (map[string]time.Time, error) {
	chunks := Chunk(keys, b.chunkSize)
	results := make([]map[string]time.Time, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)
	for i, chunk := range chunks {
		g.Go(func() error {
			res, err := b.fetch(gctx, clientID, kind, chunk, fn)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]time.Time, len(keys))
	for _, res := range results {
		MergeEarliest(out, res)
	}
	return out, nil
}

func (b *Builder) fetch(ctx context.Context, clientID, kind string, chunk []string, fn lookupFunc) (map[string]time.Time, error) {
	attempt := 0
	op := func() (map[string]time.Time, error) {
		attempt++
		start := time.Now()
		res, err := fn(ctx, clientID, chunk)
		latency := float64(time.Since(start).Milliseconds())
		if err != nil {
			metrics.RecordIndexChunk(kind, "error", latency)
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		metrics.RecordIndexChunk(kind, "ok", latency)
		return res, nil
	}
	notify := func(err error, next time.Duration) {
		metrics.RecordIndexRetry()
		b.log.Warn(ctx, "send index chunk lookup failed, retrying",
			logger.String("client_id", clientID),
			logger.String("kind", kind),
			logger.Int("keys", len(chunk)),
			logger.Int("attempt", attempt),
			logger.Duration("next", next),
			logger.Error(err),
		)
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b.newBackOff()),
		backoff.WithMaxTries(uint(b.maxRetries)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s lookup for client %s after %d attempts: %w",
			ErrSourceUnavailable, kind, clientID, attempt, err)
	}
	return res, nil
}

// Chunk splits keys into consecutive slices of at most size keys.
func Chunk(keys []string, size int) [][]string {
	if size <= 0 {
		size = len(keys)
	}
	var out [][]string
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		out = append(out, keys[start:end])
	}
	return out
}

// MergeEarliest folds src into dst keeping the earliest time per key.
func MergeEarliest(dst, src map[string]time.Time) {
	for k, t := range src {
		if cur, ok := dst[k]; !ok || t.Before(cur) {
			dst[k] = t
		}
	}
}
