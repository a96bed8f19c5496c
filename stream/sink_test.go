package stream

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/zoobzio/augmentor/element"
)

func passthroughEmit(_ context.Context, sink *Sink, e element.Element) {
	sink.Done(e)
}

func TestSinkDeliversChunkAtChunkSize(t *testing.T) {
	elems := make([]element.Element, 5)
	for i := range elems {
		elems[i] = element.New(element.Tag("t"), element.Payload{"i": i})
	}

	sink := NewSink(context.Background(), passthroughEmit, WithChunkSize(5))
	sink.Start(FromSlice(elems))

	chunk, ok := sink.Next(context.Background())
	if !ok {
		t.Fatalf("expected a chunk, got HALT")
	}
	if len(chunk) != 5 {
		t.Fatalf("expected chunk of 5, got %d", len(chunk))
	}

	_, ok = sink.Next(context.Background())
	if ok {
		t.Fatalf("expected HALT after single exhausted emitter")
	}
}

// Once the only emitter drains, a chunk smaller than chunk_size is flushed
// immediately - the Sink does not wait for chunk_size when no producer
// remains that could ever fill it further.
func TestSinkDeliversPartialChunkWhenEmittersDrain(t *testing.T) {
	elems := []element.Element{
		element.New(element.Tag("t"), nil),
		element.New(element.Tag("t"), nil),
	}

	sink := NewSink(context.Background(), passthroughEmit, WithChunkSize(10))
	sink.Start(FromSlice(elems))

	chunk, ok := sink.Next(context.Background())
	if !ok {
		t.Fatalf("expected a partial chunk, got HALT")
	}
	if len(chunk) != 2 {
		t.Fatalf("expected partial chunk of 2, got %d", len(chunk))
	}

	_, ok = sink.Next(context.Background())
	if ok {
		t.Fatalf("expected HALT on second Next")
	}
}

// A late Emit, arriving within done_timeout after the last emitter drains,
// must still be picked up rather than lost to a premature HALT.
func TestSinkQuiescenceWindowCatchesLateEmit(t *testing.T) {
	clock := clockz.NewFakeClock()
	sink := NewSink(context.Background(), passthroughEmit,
		WithClock(clock), WithDoneTimeout(50*time.Millisecond))
	sink.Start(FromSlice(nil))

	go func() {
		sink.Emit(element.New(element.Tag("late"), nil))
	}()

	type result struct {
		chunk []element.Element
		ok    bool
	}
	resultCh := make(chan result, 1)
	go func() {
		chunk, ok := sink.Next(context.Background())
		resultCh <- result{chunk, ok}
	}()

	select {
	case r := <-resultCh:
		if !r.ok || len(r.chunk) != 1 {
			t.Fatalf("expected the late-emitted element to be delivered, got ok=%v chunk=%v", r.ok, r.chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for late-emitted chunk")
	}
}

func TestSinkHaltsWithNoElements(t *testing.T) {
	clock := clockz.NewFakeClock()
	sink := NewSink(context.Background(), passthroughEmit,
		WithClock(clock), WithDoneTimeout(10*time.Millisecond))
	sink.Start(FromSlice(nil))

	resultCh := make(chan bool, 1)
	go func() {
		_, ok := sink.Next(context.Background())
		resultCh <- ok
	}()

	time.Sleep(10 * time.Millisecond) // let Next register its quiescence timer
	clock.Advance(10 * time.Millisecond)
	clock.BlockUntilReady()

	select {
	case ok := <-resultCh:
		if ok {
			t.Fatalf("expected HALT on an empty source")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HALT")
	}
}

// mid-stream fanout: an EmitFn that, for one element, emits two more and
// does not deliver the original - an EmitFn may call Sink.Emit without
// Sink.Done for the element it was handed (see EmitFn).
func TestSinkSupportsMidStreamFanout(t *testing.T) {
	fanoutDone := false
	var mu sync.Mutex

	emitFn := func(ctx context.Context, sink *Sink, e element.Element) {
		tag, _ := e.Payload["fan"].(bool)
		if tag {
			mu.Lock()
			fanoutDone = true
			mu.Unlock()
			sink.Emit(
				element.New(element.Tag("child"), element.Payload{"from": "fan"}),
				element.New(element.Tag("child"), element.Payload{"from": "fan"}),
			)
			return
		}
		sink.Done(e)
	}

	sink := NewSink(context.Background(), emitFn, WithChunkSize(10))
	sink.Start(FromSlice([]element.Element{
		element.New(element.Tag("root"), element.Payload{"fan": true}),
		element.New(element.Tag("root"), element.Payload{"fan": false}),
	}))

	var all []element.Element
	for {
		chunk, ok := sink.Next(context.Background())
		if !ok {
			break
		}
		all = append(all, chunk...)
	}

	if len(all) != 3 {
		t.Fatalf("expected 3 delivered elements (1 original + 2 fanned out), got %d", len(all))
	}
	mu.Lock()
	defer mu.Unlock()
	if !fanoutDone {
		t.Fatalf("expected fanout branch to run")
	}

	tags := make([]string, 0, len(all))
	for _, e := range all {
		tags = append(tags, string(e.Tag))
	}
	sort.Strings(tags)
	if tags[0] != "child" || tags[1] != "child" || tags[2] != "root" {
		t.Fatalf("unexpected tags delivered: %v", tags)
	}
}

func TestSinkCloseForcesHalt(t *testing.T) {
	sink := NewSink(context.Background(), passthroughEmit)
	sink.Start(FromSlice(nil))
	if err := sink.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case <-sink.Halted():
	default:
		t.Fatalf("expected Halted() channel closed after Close")
	}

	_, ok := sink.Next(context.Background())
	if ok {
		t.Fatalf("expected Next to report HALT after Close")
	}
}
