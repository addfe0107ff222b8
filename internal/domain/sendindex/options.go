package sendindex

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithChunkSize sets the maximum number of keys per lookup.
func WithChunkSize(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// WithParallelism sets how many chunk lookups may run at once.
func WithParallelism(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.parallelism = n
		}
	}
}

// WithMaxRetries sets the number of attempts per chunk.
func WithMaxRetries(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxRetries = n
		}
	}
}

// WithInitialBackoff sets the first retry delay; later delays grow exponentially.
func WithInitialBackoff(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.newBackOff = func() backoff.BackOff {
				eb := backoff.NewExponentialBackOff()
				eb.InitialInterval = d
				return eb
			}
		}
	}
}
