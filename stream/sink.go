package stream

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"

	"github.com/zoobzio/augmentor/element"
)

// Sink aggregates completed elements into chunks, multiplexes many active
// Emitters, accepts dynamic registration of new emitters produced mid-flight
// by running EmitFns, and terminates cleanly once no emitter can ever
// produce another element.
//
// A pipeline run owns exactly one Sink for its entire duration. All mutable
// Sink state is owned by a single mutex - there is no actor goroutine - and
// a "wake" channel is closed and replaced on every state change so Next can
// block efficiently without polling.
type Sink struct {
	mu sync.Mutex

	emitters []*Emitter
	buffer   []element.Element
	halted   bool
	haltedCh chan struct{}
	wake     chan struct{}

	chunkSize   int
	doneTimeout time.Duration
	clock       clockz.Clock

	emitFn  EmitFn
	rootCtx context.Context

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[ChunkEvent]

	closeOnce sync.Once
}

// NewSink constructs a Sink bound to emitFn, ready for Start. ctx is used as
// the value-carrying (not cancellation-carrying) context passed to every
// EmitFn invocation: fire-and-forget element work is detached from the
// caller's cancellation but keeps its values, since element tasks are not
// individually cancellable per the specification.
func NewSink(ctx context.Context, emitFn EmitFn, opts ...Option) *Sink {
	s := &Sink{
		chunkSize:   DefaultChunkSize,
		doneTimeout: DefaultDoneTimeout,
		clock:       clockz.RealClock,
		emitFn:      emitFn,
		haltedCh:    make(chan struct{}),
		wake:        make(chan struct{}),
		tracer:      tracez.New(),
		hooks:       hookz.New[ChunkEvent](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rootCtx = context.WithoutCancel(ctx)

	metrics := metricz.New()
	metrics.Counter(SinkElementsCompletedTotal)
	metrics.Counter(SinkChunksDeliveredTotal)
	metrics.Counter(SinkEmittersRegisteredTotal)
	metrics.Gauge(SinkActiveEmitters)
	metrics.Gauge(SinkBufferedElements)
	s.metrics = metrics

	return s
}

// Start launches one initial Emitter over source. Call it once, before the
// first Next.
func (s *Sink) Start(source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(source)
}

func (s *Sink) registerLocked(source Source) *Emitter {
	e := newEmitter(source, s.emitFn, s)
	s.emitters = append(s.emitters, e)
	s.metrics.Counter(SinkEmittersRegisteredTotal).Inc()
	s.metrics.Gauge(SinkActiveEmitters).Set(float64(len(s.emitters)))
	s.wakeLocked()
	return e
}

// wakeLocked notifies every goroutine blocked in Next that sink state
// changed. Callers must hold s.mu.
func (s *Sink) wakeLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// Emit injects additional work into the stream, as described by the
// specification's emit(sink, elems_or_sequence) contract: a plain slice of
// elements is wrapped into a new Emitter; callers needing a custom pull
// Source should call EmitSource instead. Emit is safe to call from any
// goroutine, including from inside an EmitFn running on any node.
//
// If Emit is called after the Sink has already committed to HALT, the
// emitted elements are lost - this is the specification's documented
// best-effort quiescence race (see Open Question "emit during quiescence");
// no fence is implemented.
func (s *Sink) Emit(elems ...element.Element) {
	s.EmitSource(FromSlice(elems))
}

// EmitSource registers source as a new, independent Emitter.
func (s *Sink) EmitSource(source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.registerLocked(source)
}

// Done delivers one completed element into the Sink's buffer. Safe to call
// from any goroutine.
func (s *Sink) Done(e element.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.buffer = append(s.buffer, e)
	s.metrics.Counter(SinkElementsCompletedTotal).Inc()
	s.metrics.Gauge(SinkBufferedElements).Set(float64(len(s.buffer)))
	s.wakeLocked()
}

// Next blocks until chunk_size elements have completed (returned as a
// chunk), or every emitter has drained and at least one element is buffered
// (returned as a chunk shorter than chunk_size, without waiting for tasks
// still in flight), or every emitter has drained with nothing buffered and
// no late arrivals within the done_timeout quiescence window (returned as
// HALT, ok=false).
func (s *Sink) Next(ctx context.Context) (chunk []element.Element, ok bool) {
	ctx, span := s.tracer.StartSpan(ctx, sinkNextSpan)
	defer span.Finish()

	for {
		s.mu.Lock()

		if s.halted {
			s.mu.Unlock()
			span.SetTag(sinkTagHalted, "true")
			return nil, false
		}

		if len(s.emitters) == 0 && len(s.buffer) == 0 {
			wake := s.wake
			timeout := s.clock.After(s.doneTimeout)
			s.mu.Unlock()

			select {
			case <-wake:
				continue
			case <-timeout:
				s.mu.Lock()
				if len(s.emitters) == 0 && len(s.buffer) == 0 {
					s.halted = true
					close(s.haltedCh)
					s.mu.Unlock()
					s.emitHalted(ctx)
					span.SetTag(sinkTagHalted, "true")
					return nil, false
				}
				s.mu.Unlock()
				continue
			case <-ctx.Done():
				return nil, false
			}
		}

		s.driveEmittersLocked()
		wake := s.wake
		s.mu.Unlock()

		for {
			s.mu.Lock()
			if len(s.buffer) >= s.chunkSize || len(s.emitters) == 0 {
				break
			}
			s.mu.Unlock()
			select {
			case <-wake:
				s.mu.Lock()
				wake = s.wake
				s.mu.Unlock()
			case <-ctx.Done():
				return nil, false
			}
		}
		// s.mu is held here.

		if len(s.buffer) == 0 {
			s.mu.Unlock()
			continue // emitters drained with nothing to deliver; re-evaluate quiescence
		}

		n := s.chunkSize
		if len(s.buffer) < n {
			n = len(s.buffer)
		}
		chunk = s.buffer[:n]
		s.buffer = s.buffer[n:]
		s.metrics.Gauge(SinkBufferedElements).Set(float64(len(s.buffer)))
		s.mu.Unlock()

		s.metrics.Counter(SinkChunksDeliveredTotal).Inc()
		span.SetTag(sinkTagChunkLen, itoa(len(chunk)))
		s.emitChunkDelivered(ctx, chunk)
		return chunk, true
	}
}

// driveEmittersLocked admits up to chunkSize new element tasks across the
// active emitters, head-first, removing any that exhaust. Callers must hold
// s.mu.
func (s *Sink) driveEmittersLocked() {
	remaining := s.chunkSize
	i := 0
	for i < len(s.emitters) && remaining > 0 {
		launched := s.emitters[i].Next(s.rootCtx, remaining)
		remaining -= launched
		if s.emitters[i].Exhausted() {
			s.emitters = append(s.emitters[:i], s.emitters[i+1:]...)
			capitan.Info(s.rootCtx, SignalEmitterExhausted)
			continue
		}
		i++
	}
	s.metrics.Gauge(SinkActiveEmitters).Set(float64(len(s.emitters)))
}

func (s *Sink) emitChunkDelivered(ctx context.Context, chunk []element.Element) {
	capitan.Info(ctx, SignalChunkDelivered, FieldChunkLen.Field(len(chunk)))
	_ = s.hooks.Emit(ctx, EventChunkDelivered, ChunkEvent{Chunk: chunk, Timestamp: time.Now()}) //nolint:errcheck
}

func (s *Sink) emitHalted(ctx context.Context) {
	capitan.Info(ctx, SignalSinkHalted)
	_ = s.hooks.Emit(ctx, EventSinkHalted, ChunkEvent{Halted: true, Timestamp: time.Now()}) //nolint:errcheck
}

// OnChunkDelivered registers a handler invoked whenever Next returns a
// chunk to the consumer.
func (s *Sink) OnChunkDelivered(handler func(context.Context, ChunkEvent) error) error {
	_, err := s.hooks.Hook(EventChunkDelivered, handler)
	return err
}

// OnHalted registers a handler invoked once, when the Sink commits to HALT.
func (s *Sink) OnHalted(handler func(context.Context, ChunkEvent) error) error {
	_, err := s.hooks.Hook(EventSinkHalted, handler)
	return err
}

// Metrics returns the metrics registry for this Sink.
func (s *Sink) Metrics() *metricz.Registry {
	return s.metrics
}

// Halted reports a channel that closes once the Sink has committed to HALT.
func (s *Sink) Halted() <-chan struct{} {
	return s.haltedCh
}

// Close tears down this Sink: it forces HALT (future Next calls return
// immediately) and releases observability resources. It does not cancel
// in-flight element tasks, matching the specification's "element tasks are
// not individually cancellable" rule - they run to completion or crash into
// a now-dead Sink, whose Done/Emit calls become silent no-ops.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if !s.halted {
			s.halted = true
			close(s.haltedCh)
		}
		s.emitters = nil
		s.wakeLocked()
		s.mu.Unlock()

		s.tracer.Close()
		s.hooks.Close()
	})
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
