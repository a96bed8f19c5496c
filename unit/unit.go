// Package unit implements the on-demand, node-aware, self-healing worker
// process layer: a Router per node lazily starts and addresses Worker
// instances that hold locally-loaded state, and restarts them transparently
// after a crash or idle expiry.
package unit

import "errors"

// Sentinel errors surfaced by Router.Cast.
var (
	// ErrWorkerStartFailed is returned when a unit Kind's Start hook fails.
	ErrWorkerStartFailed = errors.New("unit: worker start failed")
	// ErrNodeUnreachable is returned when the target node's router cannot be
	// reached through the configured Transport.
	ErrNodeUnreachable = errors.New("unit: node unreachable")
	// ErrHandlerNotRegistered is returned when a CastRequest names a handler
	// the target router has no registration for.
	ErrHandlerNotRegistered = errors.New("unit: handler not registered")
	// ErrRouterClosed is returned by Cast once the router has been stopped.
	ErrRouterClosed = errors.New("unit: router closed")
)

// Spec identifies a worker: a unit kind plus the argument selecting one
// instance of it. Two specs are equal iff both components are equal, which
// Go's struct comparability gives for free as long as the Kind
// implementation itself is comparable (true of the stateless, pointer- or
// string-backed kinds this package expects).
type Spec struct {
	Kind Kind
	Arg  string
}

// Kind is the capability contract a worker kind must satisfy.
type Kind interface {
	// Start constructs a worker for arg. It may load local data; the
	// returned Handle owns that state for as long as it lives.
	Start(arg string) (Handle, error)
	// HomeNode returns the stable node that owns arg. Pure: calling it twice
	// with the same arg must return the same node.
	HomeNode(arg string) string
}

// Handle is a live worker instance as seen by its Router.
type Handle interface {
	// Deliver enqueues closure for execution against the worker's state.
	// Deliver must not block on the closure's own execution.
	Deliver(closure Closure) error
}

// Closure runs against a worker's privately-held state. It communicates any
// result back to its caller through whatever channel it closes over -
// Router.Cast supplies one built around a HandlerFunc's return value.
type Closure func(state any)

// HandlerFunc is a named continuation a Router invokes against a worker's
// state on the worker's home node. Request/response travel as plain values
// so a Cast can cross a real network boundary without serializing a Go
// closure - the recommended design in the face of "remote closure passing"
// portability concerns.
type HandlerFunc func(state any, req any) (any, error)

// CastRequest names the handler to invoke and the payload to invoke it with.
type CastRequest struct {
	Handler string
	Payload any
}
