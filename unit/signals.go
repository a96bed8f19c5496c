package unit

import (
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
)

// Worker lifecycle signals, emitted via capitan following the same
// "<domain>.<event>" naming the root pipz package uses for its own
// structural completion signals.
const (
	SignalWorkerStarted  capitan.Signal = "unit.worker_started"
	SignalWorkerExpired  capitan.Signal = "unit.worker_expired"
	SignalWorkerStopped  capitan.Signal = "unit.worker_stopped"
	SignalCastDispatched capitan.Signal = "unit.cast_dispatched"
)

// Field keys used with the signals above.
var (
	FieldNode     = capitan.NewStringKey("node")
	FieldSpecKind = capitan.NewStringKey("spec_kind")
	FieldSpecArg  = capitan.NewStringKey("spec_arg")
	FieldHandler  = capitan.NewStringKey("handler")
)

// Hook event keys for async, optional observers registered through
// Router.OnWorkerStarted / OnWorkerExpired, mirroring the hookz.Key-per-event
// pattern of the root package's Backoff, Fallback and Timeout connectors.
const (
	EventWorkerStarted hookz.Key = "unit.worker_started"
	EventWorkerExpired hookz.Key = "unit.worker_expired"
)

// WorkerEvent is the payload delivered to hookz listeners for worker
// lifecycle events.
type WorkerEvent struct {
	Node string
	Spec Spec
}
