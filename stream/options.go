package stream

import (
	"time"

	"github.com/zoobzio/clockz"
)

// DefaultChunkSize is the chunk_size used when NewSink is not given
// WithChunkSize, matching the specification's documented default.
const DefaultChunkSize = 200

// DefaultDoneTimeout is the done_timeout quiescence window used when NewSink
// is not given WithDoneTimeout, matching the specification's documented
// default.
const DefaultDoneTimeout = 200 * time.Millisecond

// Option configures a Sink at construction time.
type Option func(*Sink)

// WithChunkSize sets chunk_size: the number of per-element tasks admitted
// per Next call, and the number of completed elements Next waits for before
// replying. Must be >= 1.
func WithChunkSize(n int) Option {
	return func(s *Sink) {
		if n >= 1 {
			s.chunkSize = n
		}
	}
}

// WithDoneTimeout sets the quiescence window a Sink waits, after its last
// emitter drains, for a late Emit call before committing to HALT.
func WithDoneTimeout(d time.Duration) Option {
	return func(s *Sink) { s.doneTimeout = d }
}

// WithClock overrides the clock used for the done_timeout timer. Tests use
// clockz.NewFakeClock() to make quiescence deterministic.
func WithClock(clock clockz.Clock) Option {
	return func(s *Sink) { s.clock = clock }
}
