package sendindex_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/attribution/internal/domain/sendindex"
	"github.com/okian/attribution/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

// fakeSource serves lookups from fixed send histories.
type fakeSource struct {
	sends    map[string][]time.Time
	failures atomic.Int32 // calls left to fail
	calls    atomic.Int32
	active   atomic.Int32
	mu       sync.Mutex
	peak     int32
	chunkMax int
}

func (f *fakeSource) lookup(keys []string) (map[string]time.Time, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	f.mu.Lock()
	if n > f.peak {
		f.peak = n
	}
	if len(keys) > f.chunkMax {
		f.chunkMax = len(keys)
	}
	f.mu.Unlock()
	time.Sleep(time.Millisecond)

	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return nil, errors.New("connection reset")
	}
	out := make(map[string]time.Time)
	for _, k := range keys {
		for _, t := range f.sends[k] {
			if cur, ok := out[k]; !ok || t.Before(cur) {
				out[k] = t
			}
		}
	}
	return out, nil
}

func (f *fakeSource) EarliestSendByEmail(_ context.Context, _ string, emails []string) (map[string]time.Time, error) {
	return f.lookup(emails)
}

func (f *fakeSource) EarliestSendByDomain(_ context.Context, _ string, domains []string) (map[string]time.Time, error) {
	return f.lookup(domains)
}

func history(n int) (*fakeSource, []string) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{sends: make(map[string][]time.Time)}
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("user%03d@acme.com", i)
		keys = append(keys, k)
		// Keys divisible by 7 were never emailed.
		if i%7 == 0 {
			continue
		}
		src.sends[k] = []time.Time{
			base.Add(time.Duration(i+5) * time.Hour),
			base.Add(time.Duration(i) * time.Hour),
			base.Add(time.Duration(i+1) * time.Hour),
		}
	}
	return src, keys
}

func TestBuild(t *testing.T) {
	convey.Convey("Given a send history with 250 distinct keys", t, func() {
		ctx := context.Background()
		src, keys := history(250)

		convey.Convey("When the index is built in chunks of 100 and in one lookup", func() {
			chunked, err1 := sendindex.New(src, sendindex.WithChunkSize(100)).Build(ctx, "c1", keys, nil)
			chunkedCalls := src.calls.Load()
			whole, err2 := sendindex.New(src, sendindex.WithChunkSize(1000)).Build(ctx, "c1", keys, nil)

			convey.Convey("Then both indexes are identical", func() {
				convey.So(err1, convey.ShouldBeNil)
				convey.So(err2, convey.ShouldBeNil)
				convey.So(chunkedCalls, convey.ShouldEqual, 3)
				convey.So(src.chunkMax, convey.ShouldEqual, 250)
				convey.So(chunked.ByEmail, convey.ShouldResemble, whole.ByEmail)
				convey.So(len(chunked.ByEmail), convey.ShouldEqual, 250-36)
				convey.So(chunked.ByEmail["user010@acme.com"], convey.ShouldEqual,
					time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))
				convey.So(chunked.ByDomain, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When parallelism is limited to 2", func() {
			_, err := sendindex.New(src, sendindex.WithChunkSize(10), sendindex.WithParallelism(2)).
				Build(ctx, "c1", keys, keys)

			convey.Convey("Then no more than 2 lookups run at once", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(src.calls.Load(), convey.ShouldEqual, 50)
				convey.So(src.peak, convey.ShouldBeLessThanOrEqualTo, 2)
				convey.So(src.chunkMax, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When the source fails transiently", func() {
			src.failures.Store(2)
			idx, err := sendindex.New(src,
				sendindex.WithChunkSize(1000),
				sendindex.WithMaxRetries(3),
				sendindex.WithInitialBackoff(time.Millisecond),
			).Build(ctx, "c1", keys, nil)

			convey.Convey("Then the lookup is retried and succeeds", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(src.calls.Load(), convey.ShouldEqual, 3)
				convey.So(len(idx.ByEmail), convey.ShouldEqual, 250-36)
			})
		})

		convey.Convey("When the source keeps failing", func() {
			src.failures.Store(100)
			_, err := sendindex.New(src,
				sendindex.WithChunkSize(1000),
				sendindex.WithMaxRetries(2),
				sendindex.WithInitialBackoff(time.Millisecond),
			).Build(ctx, "c1", keys, nil)

			convey.Convey("Then the build fails with ErrSourceUnavailable", func() {
				convey.So(errors.Is(err, sendindex.ErrSourceUnavailable), convey.ShouldBeTrue)
				convey.So(src.calls.Load(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When there are no keys", func() {
			idx, err := sendindex.New(src).Build(ctx, "c1", nil, nil)

			convey.So(err, convey.ShouldBeNil)
			convey.So(idx.ByEmail, convey.ShouldBeEmpty)
			convey.So(src.calls.Load(), convey.ShouldEqual, 0)
		})
	})
}

func TestChunkAndMerge(t *testing.T) {
	convey.Convey("Given keys to chunk", t, func() {
		keys := []string{"a", "b", "c", "d", "e"}

		convey.So(sendindex.Chunk(keys, 2), convey.ShouldResemble, [][]string{{"a", "b"}, {"c", "d"}, {"e"}})
		convey.So(sendindex.Chunk(keys, 0), convey.ShouldResemble, [][]string{keys})
		convey.So(sendindex.Chunk(nil, 3), convey.ShouldBeEmpty)
	})

	convey.Convey("Given overlapping partial results", t, func() {
		early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		late := early.Add(time.Hour)
		dst := map[string]time.Time{"a": late, "b": early}

		sendindex.MergeEarliest(dst, map[string]time.Time{"a": early, "b": late, "c": late})

		convey.So(dst, convey.ShouldResemble, map[string]time.Time{"a": early, "b": early, "c": late})
	})
}
