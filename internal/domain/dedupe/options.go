package dedupe

// Option applies a configuration option to the InMemoryDeduper.
type Option func(*inMemoryDeduper)

// WithMaxSize caps the number of simultaneously claimed keys.
// If maxSize <= 0 there is no limit.
func WithMaxSize(maxSize int) Option {
	return func(d *inMemoryDeduper) {
		d.maxSize = maxSize
	}
}

// WithObserver replaces the in-flight gauge callback, which receives the
// number of claimed keys after every change.
func WithObserver(fn func(n int)) Option {
	return func(d *inMemoryDeduper) {
		if fn != nil {
			d.onChange = fn
		}
	}
}
