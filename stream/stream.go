// Package stream implements the chunked-pull Sink/Emitter engine: a
// demand-driven output sequence built from an arbitrary source sequence plus
// a per-element "emit" routine, where that routine may itself spawn new
// emitters mid-stream.
package stream

import (
	"context"
	"errors"

	"github.com/zoobzio/augmentor/element"
)

// Sentinel errors.
var (
	// ErrSinkClosed names the closed/halted Sink condition. No Sink method
	// returns it: once the Sink has been closed or has reached HALT, Emit,
	// EmitSource and Done silently drop their input and Next reports HALT
	// through its ok result.
	ErrSinkClosed = errors.New("stream: sink closed")
)

// Source is a pull iterator over elements: each call returns the next
// element and true, or the zero Element and false once exhausted. A finite
// slice or an infinite generator both satisfy this signature.
type Source func() (element.Element, bool)

// FromSlice adapts a fixed slice of elements into a Source.
func FromSlice(elems []element.Element) Source {
	i := 0
	return func() (element.Element, bool) {
		if i >= len(elems) {
			return element.Element{}, false
		}
		e := elems[i]
		i++
		return e, true
	}
}

// EmitFn is the per-element work a Sink drives. It runs in its own
// goroutine, decoupled from the Emitter that launched it, and is expected to
// eventually call exactly one of Sink.Done (deliver this element, possibly
// after emitting more) or Sink.Emit (inject more work without delivering
// this element itself). The Rule Engine package builds one EmitFn per
// pipeline; callers may also hand-write one directly.
type EmitFn func(ctx context.Context, sink *Sink, e element.Element)
