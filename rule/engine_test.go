package rule

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/augmentor/element"
	"github.com/zoobzio/augmentor/stream"
	"github.com/zoobzio/augmentor/unit"
)

// lookupKind is a trivial unit.Kind backed by an in-memory table, letting
// remote rules enrich against per-arg state that only the target node holds
// - mirroring specification scenario S2 (remote enrichment).
type lookupKind struct {
	node string
	data map[string]map[string]any
}

func (k *lookupKind) HomeNode(string) string { return k.node }

func (k *lookupKind) Start(arg string) (unit.Handle, error) {
	row, ok := k.data[arg]
	if !ok {
		row = map[string]any{}
	}
	return unit.NewWorker(row, 0), nil
}

func remoteEnrichGroup(handler string) Group {
	return Group{
		Tag: "raw",
		Rules: []Rule{{
			Name: "enrich-remote",
			Match: func(_ context.Context, e element.Element, _ element.RuleState) bool {
				return e.Payload["enriched"] != true
			},
			Do: RemoteAction{
				SpecFn: func(e element.Element, _ element.RuleState) unit.Spec {
					return unit.Spec{Kind: e.Payload["kind"].(unit.Kind), Arg: idOf(e)}
				},
				Handler: handler,
				Continuation: func(workerState any, e element.Element, _ element.RuleState) (element.Result, error) {
					row, _ := workerState.(map[string]any)
					next := e.Clone()
					next.Payload["enriched"] = true
					next.Payload["value"] = row["value"]
					return element.Replace(next), nil
				},
			},
		}},
	}
}

func TestEngineRemoteRuleEnrichesFromWorkerState(t *testing.T) {
	kind := &lookupKind{node: "node-b", data: map[string]map[string]any{
		"e1": {"value": 99},
	}}

	group := remoteEnrichGroup("enrich")
	pipeline := NewPipeline(group)

	transport := unit.NewLocalTransport()
	routerA := unit.NewRouter("node-a", transport)
	routerB := unit.NewRouter("node-b", transport)
	transport.Register("node-a", routerA)
	transport.Register("node-b", routerB)

	for name, fn := range pipeline.RemoteHandlers() {
		routerA.RegisterHandler(name, fn)
		routerB.RegisterHandler(name, fn)
	}

	engine := NewEngine(pipeline, routerA)
	defer engine.Close()

	sink := stream.NewSink(context.Background(), engine.EmitFn())
	sink.Start(stream.FromSlice([]element.Element{
		element.New("raw", element.Payload{"id": "e1", "kind": kind}),
	}))

	got := drain(t, sink)
	if len(got) != 1 {
		t.Fatalf("got %d elements, want 1", len(got))
	}
	if got[0].Payload["value"] != 99 {
		t.Errorf("remote continuation did not see worker state: %+v", got[0].Payload)
	}
	if routerB.ActiveWorkers() != 1 {
		t.Errorf("worker should have started on its home node, ActiveWorkers=%d", routerB.ActiveWorkers())
	}
}

func TestEngineRemoteRuleFallbackOnUnreachableNode(t *testing.T) {
	kind := &lookupKind{node: "node-ghost"}
	group := Group{
		Tag: "raw",
		Rules: []Rule{{
			Name: "enrich-remote",
			Match: func(_ context.Context, e element.Element, _ element.RuleState) bool {
				return e.Payload["enriched"] != true
			},
			Do: RemoteAction{
				SpecFn: func(e element.Element, _ element.RuleState) unit.Spec {
					return unit.Spec{Kind: e.Payload["kind"].(unit.Kind), Arg: idOf(e)}
				},
				Handler:      "enrich",
				Continuation: func(_ any, e element.Element, _ element.RuleState) (element.Result, error) { return element.Replace(e), nil },
				Fallback: func(e element.Element, _ element.RuleState) (element.Result, error) {
					next := e.Clone()
					next.Payload["enriched"] = true
					next.Payload["fallback"] = true
					return element.Replace(next), nil
				},
			},
		}},
	}

	pipeline := NewPipeline(group)
	transport := unit.NewLocalTransport()
	routerA := unit.NewRouter("node-a", transport, unit.WithNodeRetry(1, time.Millisecond), unit.WithNodeBreaker(10, time.Second))
	transport.Register("node-a", routerA)

	engine := NewEngine(pipeline, routerA)
	defer engine.Close()

	sink := stream.NewSink(context.Background(), engine.EmitFn())
	sink.Start(stream.FromSlice([]element.Element{
		element.New("raw", element.Payload{"id": "e1", "kind": kind}),
	}))

	got := drain(t, sink)
	if len(got) != 1 {
		t.Fatalf("got %d elements, want 1 (fallback keeps the element alive)", len(got))
	}
	if got[0].Payload["fallback"] != true {
		t.Errorf("fallback did not run: %+v", got[0].Payload)
	}
}

func TestEngineRemoteRuleWithoutFallbackCrashesTaskOnUnreachableNode(t *testing.T) {
	kind := &lookupKind{node: "node-ghost"}
	group := Group{
		Tag: "raw",
		Rules: []Rule{{
			Name: "enrich-remote",
			Match: func(_ context.Context, _ element.Element, _ element.RuleState) bool { return true },
			Do: RemoteAction{
				SpecFn: func(e element.Element, _ element.RuleState) unit.Spec {
					return unit.Spec{Kind: e.Payload["kind"].(unit.Kind), Arg: idOf(e)}
				},
				Handler:      "enrich",
				Continuation: func(_ any, e element.Element, _ element.RuleState) (element.Result, error) { return element.Replace(e), nil },
			},
		}},
	}

	pipeline := NewPipeline(group)
	transport := unit.NewLocalTransport()
	routerA := unit.NewRouter("node-a", transport, unit.WithNodeRetry(1, time.Millisecond), unit.WithNodeBreaker(10, time.Second))
	transport.Register("node-a", routerA)

	engine := NewEngine(pipeline, routerA)
	defer engine.Close()

	sink := stream.NewSink(context.Background(), engine.EmitFn(), stream.WithDoneTimeout(20*time.Millisecond))
	sink.Start(stream.FromSlice([]element.Element{
		element.New("raw", element.Payload{"id": "e1", "kind": kind}),
	}))

	got := drain(t, sink)
	if len(got) != 0 {
		t.Fatalf("expected task crash with no fallback configured, got %d elements", len(got))
	}
}

func TestEngineRemoteCastRespectsTimeout(t *testing.T) {
	// A continuation that never returns (simulated via a worker whose
	// handler blocks past the engine's remote timeout) must surface as a
	// task crash rather than hang the element's task forever.
	blockKind := &blockingKind{node: "node-a"}
	group := Group{
		Tag: "raw",
		Rules: []Rule{{
			Name:  "hang",
			Match: func(_ context.Context, _ element.Element, _ element.RuleState) bool { return true },
			Do: RemoteAction{
				SpecFn: func(e element.Element, _ element.RuleState) unit.Spec {
					return unit.Spec{Kind: blockKind, Arg: idOf(e)}
				},
				Handler:      "hang",
				Continuation: func(_ any, e element.Element, _ element.RuleState) (element.Result, error) { return element.Replace(e), nil },
			},
		}},
	}

	pipeline := NewPipeline(group)
	transport := unit.NewLocalTransport()
	router := unit.NewRouter("node-a", transport)
	transport.Register("node-a", router)
	router.RegisterHandler("hang", func(_ any, _ any) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	})

	engine := NewEngine(pipeline, router, WithRemoteTimeout(20*time.Millisecond))
	defer engine.Close()

	sink := stream.NewSink(context.Background(), engine.EmitFn(), stream.WithDoneTimeout(50*time.Millisecond))
	sink.Start(stream.FromSlice([]element.Element{
		element.New("raw", element.Payload{"id": "e1"}),
	}))

	got := drain(t, sink)
	if len(got) != 0 {
		t.Fatalf("expected timeout-induced task crash, got %d elements", len(got))
	}
}

type blockingKind struct{ node string }

func (k *blockingKind) HomeNode(string) string            { return k.node }
func (k *blockingKind) Start(string) (unit.Handle, error) { return unit.NewWorker(nil, 0), nil }
