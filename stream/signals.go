package stream

import (
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"

	"github.com/zoobzio/augmentor/element"
)

// Metric keys for Sink observability.
const (
	SinkElementsCompletedTotal  = metricz.Key("stream.sink.elements.completed.total")
	SinkChunksDeliveredTotal    = metricz.Key("stream.sink.chunks.delivered.total")
	SinkEmittersRegisteredTotal = metricz.Key("stream.sink.emitters.registered.total")
	SinkActiveEmitters          = metricz.Key("stream.sink.active_emitters")
	SinkBufferedElements        = metricz.Key("stream.sink.buffered_elements")
)

// Span name for a single Next() pull.
const sinkNextSpan = tracez.Key("stream.sink.next")

// Span tags.
const (
	sinkTagChunkLen = tracez.Tag("stream.sink.chunk_len")
	sinkTagHalted   = tracez.Tag("stream.sink.halted")
)

// Signal constants, following the root pipz package's <domain>.<event>
// naming for structural completion events.
const (
	SignalChunkDelivered   capitan.Signal = "stream.chunk_delivered"
	SignalSinkHalted       capitan.Signal = "stream.sink_halted"
	SignalEmitterExhausted capitan.Signal = "stream.emitter_exhausted"
)

// Field keys used with the signals above.
var (
	FieldChunkLen    = capitan.NewIntKey("chunk_len")
	FieldBufferedLen = capitan.NewIntKey("buffered_len")
)

// Hook event keys for async, optional observers.
const (
	EventChunkDelivered hookz.Key = "stream.chunk_delivered"
	EventSinkHalted     hookz.Key = "stream.sink_halted"
)

// ChunkEvent is delivered to hookz listeners when a chunk is handed to the
// consumer or when the Sink halts.
type ChunkEvent struct {
	Chunk     []element.Element
	Halted    bool
	Timestamp time.Time
}
