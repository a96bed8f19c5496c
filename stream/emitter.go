package stream

import (
	"context"
	"sync"

	"github.com/zoobzio/augmentor/element"
)

// Emitter is a lazy producer bound to a Source. It drives the source
// synchronously in its own call to Next but launches each EmitFn
// asynchronously, decoupling source pacing from work completion.
//
// Emitter holds its owning Sink as a non-owning back-reference - the two
// form a supervised tree, not a reference cycle in ownership.
type Emitter struct {
	mu        sync.Mutex
	source    Source
	emitFn    EmitFn
	sink      *Sink
	exhausted bool
}

func newEmitter(source Source, emitFn EmitFn, sink *Sink) *Emitter {
	return &Emitter{source: source, emitFn: emitFn, sink: sink}
}

// Next pulls up to n items from the source; for each, it spawns an
// independent goroutine running EmitFn(ctx, sink, item). It returns the
// number actually launched, which is less than n only once the source is
// exhausted. Once Next returns less than requested, the Emitter is
// exhausted and must not be called again.
//
// Element tasks launched in the same Next call have no relative ordering
// guarantee; completions may arrive in any order.
func (e *Emitter) Next(ctx context.Context, n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exhausted {
		return 0
	}

	launched := 0
	for launched < n {
		item, ok := e.source()
		if !ok {
			e.exhausted = true
			break
		}
		launched++
		go func(it element.Element) {
			e.emitFn(ctx, e.sink, it)
		}(item)
	}
	return launched
}

// Exhausted reports whether this Emitter's source has run dry.
func (e *Emitter) Exhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exhausted
}
