package unit

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

// countingKind is a Kind whose Start records how many times it has been
// invoked, for exercising worker-singleton and idle-TTL behavior (mirrors
// the specification's S5/S6 scenarios).
type countingKind struct {
	node  string
	ttl   time.Duration
	clock clockz.Clock

	starts   int32
	failNext int32 // when >0, the next Start fails and decrements this
}

func (k *countingKind) HomeNode(string) string { return k.node }

func (k *countingKind) Start(arg string) (Handle, error) {
	if atomic.LoadInt32(&k.failNext) > 0 {
		atomic.AddInt32(&k.failNext, -1)
		return nil, fmt.Errorf("start failed for %s", arg)
	}
	atomic.AddInt32(&k.starts, 1)
	opts := []WorkerOption{}
	if k.clock != nil {
		opts = append(opts, WithWorkerClock(k.clock))
	}
	return NewWorker(map[string]int{"deliveries": 0}, k.ttl, opts...), nil
}

func echoHandler(state any, req any) (any, error) {
	m, _ := state.(map[string]int)
	if m != nil {
		m["deliveries"]++
	}
	return req, nil
}

func TestCastLocalRoundTrip(t *testing.T) {
	transport := NewLocalTransport()
	router := NewRouter("node-a", transport)
	transport.Register("node-a", router)
	router.RegisterHandler("echo", echoHandler)

	kind := &countingKind{node: "node-a"}
	spec := Spec{Kind: kind, Arg: "d1"}

	value, err := router.Cast(context.Background(), spec, CastRequest{Handler: "echo", Payload: "d1"})
	if err != nil {
		t.Fatalf("Cast returned error: %v", err)
	}
	if value != "d1" {
		t.Errorf("Cast reply = %v, want d1", value)
	}
	if got := atomic.LoadInt32(&kind.starts); got != 1 {
		t.Errorf("Start called %d times, want 1", got)
	}
}

func TestCastReusesExistingWorker(t *testing.T) {
	transport := NewLocalTransport()
	router := NewRouter("node-a", transport)
	transport.Register("node-a", router)
	router.RegisterHandler("echo", echoHandler)

	kind := &countingKind{node: "node-a"}
	spec := Spec{Kind: kind, Arg: "d1"}

	for i := 0; i < 5; i++ {
		if _, err := router.Cast(context.Background(), spec, CastRequest{Handler: "echo", Payload: i}); err != nil {
			t.Fatalf("cast %d failed: %v", i, err)
		}
	}

	if got := atomic.LoadInt32(&kind.starts); got != 1 {
		t.Errorf("worker singleton violated: Start called %d times", got)
	}
}

func TestCastRemoteForwardsThroughTransport(t *testing.T) {
	transport := NewLocalTransport()
	routerA := NewRouter("node-a", transport)
	routerB := NewRouter("node-b", transport)
	transport.Register("node-a", routerA)
	transport.Register("node-b", routerB)
	routerB.RegisterHandler("echo", echoHandler)

	kind := &countingKind{node: "node-b"}
	spec := Spec{Kind: kind, Arg: "remote-arg"}

	value, err := routerA.Cast(context.Background(), spec, CastRequest{Handler: "echo", Payload: "hi"})
	if err != nil {
		t.Fatalf("remote cast failed: %v", err)
	}
	if value != "hi" {
		t.Errorf("remote cast reply = %v, want hi", value)
	}
	if routerB.ActiveWorkers() != 1 {
		t.Errorf("node-b should own the worker, ActiveWorkers=%d", routerB.ActiveWorkers())
	}
	if routerA.ActiveWorkers() != 0 {
		t.Errorf("node-a should not own any worker, ActiveWorkers=%d", routerA.ActiveWorkers())
	}
}

func TestCastUnreachableNode(t *testing.T) {
	transport := NewLocalTransport()
	routerA := NewRouter("node-a", transport, WithNodeRetry(1, time.Millisecond), WithNodeBreaker(10, time.Second))
	transport.Register("node-a", routerA)

	kind := &countingKind{node: "node-ghost"}
	spec := Spec{Kind: kind, Arg: "x"}

	_, err := routerA.Cast(context.Background(), spec, CastRequest{Handler: "echo", Payload: "x"})
	if err == nil {
		t.Fatal("expected error dispatching to unreachable node")
	}
}

func TestWorkerIdleTTLExpiry(t *testing.T) {
	// Mirrors specification scenario S5: a worker with ttl expires after
	// idle, and the next cast for the same spec observes a fresh start.
	clock := clockz.NewFakeClock()
	transport := NewLocalTransport()
	router := NewRouter("node-a", transport)
	transport.Register("node-a", router)
	router.RegisterHandler("echo", echoHandler)

	kind := &countingKind{node: "node-a", ttl: 100 * time.Millisecond, clock: clock}
	spec := Spec{Kind: kind, Arg: "d1"}

	if _, err := router.Cast(context.Background(), spec, CastRequest{Handler: "echo", Payload: 1}); err != nil {
		t.Fatalf("first cast failed: %v", err)
	}

	h, _ := lookupWorker(router, spec)
	clock.Advance(200 * time.Millisecond)
	clock.BlockUntilReady()
	if w, ok := h.(*Worker); ok {
		<-w.Done()
	}

	if _, err := router.Cast(context.Background(), spec, CastRequest{Handler: "echo", Payload: 2}); err != nil {
		t.Fatalf("second cast failed: %v", err)
	}

	if got := atomic.LoadInt32(&kind.starts); got != 2 {
		t.Errorf("Start called %d times after TTL expiry, want 2", got)
	}
}

func lookupWorker(r *Router, spec Spec) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.workers[spec]
	return h, ok
}
