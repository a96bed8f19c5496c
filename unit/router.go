package unit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"

	pipz "github.com/zoobzio/augmentor"
)

// Metric keys for Router observability.
const (
	RouterCastsTotal         = metricz.Key("unit.router.casts.total")
	RouterCastsFailedTotal   = metricz.Key("unit.router.casts.failed.total")
	RouterWorkersStarted     = metricz.Key("unit.router.workers.started.total")
	RouterWorkersActive      = metricz.Key("unit.router.workers.active")
	RouterCastDurationMs     = metricz.Key("unit.router.cast.duration.ms")
)

const (
	routerCastSpan = tracez.Key("unit.cast")
)

// startRequest flows through the rate-limited start pipeline: Process
// mutates Handle in place, matching the root package's "T carries its own
// result" idiom for connectors like RateLimiter that gate rather than
// transform.
type startRequest struct {
	spec   Spec
	handle Handle
}

// castEnvelope flows through the per-remote-node circuit-breaker/backoff
// pipeline wrapping Transport.Send.
type castEnvelope struct {
	node  string
	spec  Spec
	req   CastRequest
	reply any
}

// Waiter is implemented by Handles that can report their own termination.
// Worker satisfies it; Router uses this to know when to drop a dead entry
// from its table without polling.
type Waiter interface {
	Done() <-chan struct{}
}

// Router is the per-node component that resolves a cast's home node, lazily
// starts (or reuses) the worker for a spec, and delivers the closure to it.
// One Router runs per node, started once at boot, per the specification.
type Router struct {
	nodeID    string
	transport Transport

	mu      sync.Mutex
	workers map[Spec]Handle

	hmu      sync.RWMutex
	handlers map[string]HandlerFunc

	startRate  float64
	startBurst int
	defaultTTL time.Duration

	breakerFailureThreshold int
	breakerResetTimeout     time.Duration
	retryMaxAttempts        int
	retryBaseDelay          time.Duration

	startPipeline pipz.Chainable[startRequest]

	npMu          sync.Mutex
	nodePipelines map[string]pipz.Chainable[castEnvelope]

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[WorkerEvent]

	closed bool
}

// NewRouter constructs a Router for nodeID, forwarding remote casts through
// transport. Register it with transport (if transport supports it, as
// LocalTransport does) so other nodes' routers can reach it.
func NewRouter(nodeID string, transport Transport, opts ...Option) *Router {
	r := &Router{
		nodeID:                  nodeID,
		transport:               transport,
		workers:                 make(map[Spec]Handle),
		handlers:                make(map[string]HandlerFunc),
		startRate:               50,
		startBurst:              10,
		defaultTTL:              5 * time.Minute,
		breakerFailureThreshold: 5,
		breakerResetTimeout:     30 * time.Second,
		retryMaxAttempts:        3,
		retryBaseDelay:          100 * time.Millisecond,
		nodePipelines:           make(map[string]pipz.Chainable[castEnvelope]),
		tracer:                  tracez.New(),
		hooks:                   hookz.New[WorkerEvent](),
	}
	for _, opt := range opts {
		opt(r)
	}

	metrics := metricz.New()
	metrics.Counter(RouterCastsTotal)
	metrics.Counter(RouterCastsFailedTotal)
	metrics.Counter(RouterWorkersStarted)
	metrics.Gauge(RouterWorkersActive)
	metrics.Gauge(RouterCastDurationMs)
	r.metrics = metrics

	rateLimiter := pipz.NewRateLimiter[startRequest]("unit-start-limit", r.startRate, r.startBurst)
	starter := pipz.Apply("unit-start-exec", func(_ context.Context, sr startRequest) (startRequest, error) {
		h, err := sr.spec.Kind.Start(sr.spec.Arg)
		if err != nil {
			return sr, err
		}
		sr.handle = h
		return sr, nil
	})
	r.startPipeline = pipz.NewSequence[startRequest]("unit-start", rateLimiter, starter)

	return r
}

// RegisterHandler makes a named continuation invokable by casts arriving at
// this router for any spec, implementing the DESIGN NOTES' recommendation of
// a named-handler registry in place of serialized closures.
func (r *Router) RegisterHandler(name string, fn HandlerFunc) {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	r.handlers[name] = fn
}

func (r *Router) handler(name string) (HandlerFunc, bool) {
	r.hmu.RLock()
	defer r.hmu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Cast resolves spec's home node and dispatches req there, returning
// whatever the handler's continuation returned.
func (r *Router) Cast(ctx context.Context, spec Spec, req CastRequest) (any, error) {
	start := time.Now()
	ctx, span := r.tracer.StartSpan(ctx, routerCastSpan)
	defer span.Finish()

	r.metrics.Counter(RouterCastsTotal).Inc()
	capitan.Info(ctx, SignalCastDispatched,
		FieldNode.Field(r.nodeID),
		FieldSpecKind.Field(fmt.Sprintf("%T", spec.Kind)),
		FieldSpecArg.Field(spec.Arg),
		FieldHandler.Field(req.Handler),
	)

	target := spec.Kind.HomeNode(spec.Arg)

	var (
		value any
		err   error
	)
	if target == r.nodeID {
		value, err = r.dispatchLocal(ctx, spec, req)
	} else {
		value, err = r.dispatchRemote(ctx, target, spec, req)
	}

	r.metrics.Gauge(RouterCastDurationMs).Set(float64(time.Since(start).Milliseconds()))
	if err != nil {
		r.metrics.Counter(RouterCastsFailedTotal).Inc()
	}
	return value, err
}

// dispatchLocal implements §4.4 steps 3-5: look up or lazily start the
// worker for spec on this node, then deliver the closure.
func (r *Router) dispatchLocal(ctx context.Context, spec Spec, req CastRequest) (any, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRouterClosed
	}
	h, ok := r.workers[spec]
	if ok {
		// A worker that already terminated may still be in the table until
		// superviseTermination removes it; treat it as absent.
		if w, isWaiter := h.(Waiter); isWaiter {
			select {
			case <-w.Done():
				delete(r.workers, spec)
				ok = false
			default:
			}
		}
	}
	if !ok {
		started, err := r.startWorker(ctx, spec)
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrWorkerStartFailed, err)
		}
		r.workers[spec] = started
		h = started
	}
	r.mu.Unlock()

	fn, ok := r.handler(req.Handler)
	if !ok {
		return nil, ErrHandlerNotRegistered
	}

	type outcome struct {
		value any
		err   error
	}
	out := make(chan outcome, 1)
	closure := Closure(func(state any) {
		v, err := fn(state, req.Payload)
		out <- outcome{value: v, err: err}
	})

	if err := h.Deliver(closure); err != nil {
		r.mu.Lock()
		if r.workers[spec] == h {
			delete(r.workers, spec)
		}
		r.mu.Unlock()
		return nil, err
	}

	select {
	case o := <-out:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// startWorker runs spec.Kind.Start through the rate-limited start pipeline,
// registers termination supervision, and emits the started signal/hook.
// Callers must hold r.mu.
func (r *Router) startWorker(ctx context.Context, spec Spec) (Handle, error) {
	sr, err := r.startPipeline.Process(ctx, startRequest{spec: spec})
	if err != nil {
		return nil, err
	}

	r.metrics.Counter(RouterWorkersStarted).Inc()
	r.metrics.Gauge(RouterWorkersActive).Set(float64(len(r.workers) + 1))

	capitan.Info(ctx, SignalWorkerStarted,
		FieldNode.Field(r.nodeID),
		FieldSpecKind.Field(fmt.Sprintf("%T", spec.Kind)),
		FieldSpecArg.Field(spec.Arg),
	)
	_ = r.hooks.Emit(ctx, EventWorkerStarted, WorkerEvent{Node: r.nodeID, Spec: spec}) //nolint:errcheck

	if w, ok := sr.handle.(Waiter); ok {
		go r.superviseTermination(spec, sr.handle, w)
	}

	return sr.handle, nil
}

func (r *Router) superviseTermination(spec Spec, h Handle, w Waiter) {
	<-w.Done()

	r.mu.Lock()
	if r.workers[spec] == h {
		delete(r.workers, spec)
		r.metrics.Gauge(RouterWorkersActive).Set(float64(len(r.workers)))
	}
	r.mu.Unlock()

	capitan.Info(context.Background(), SignalWorkerExpired,
		FieldNode.Field(r.nodeID),
		FieldSpecKind.Field(fmt.Sprintf("%T", spec.Kind)),
		FieldSpecArg.Field(spec.Arg),
	)
	_ = r.hooks.Emit(context.Background(), EventWorkerExpired, WorkerEvent{Node: r.nodeID, Spec: spec}) //nolint:errcheck
}

// dispatchRemote forwards to target's router through r.transport, guarded by
// a per-node circuit breaker and retry/backoff so a flaky or down node fails
// fast after repeated failures instead of paying a full timeout every cast.
func (r *Router) dispatchRemote(ctx context.Context, target string, spec Spec, req CastRequest) (any, error) {
	pipeline := r.pipelineFor(target)
	env, err := pipeline.Process(ctx, castEnvelope{node: target, spec: spec, req: req})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNodeUnreachable, err)
	}
	return env.reply, nil
}

func (r *Router) pipelineFor(node string) pipz.Chainable[castEnvelope] {
	r.npMu.Lock()
	defer r.npMu.Unlock()

	if p, ok := r.nodePipelines[node]; ok {
		return p
	}

	send := pipz.Apply("unit-transport-send", func(ctx context.Context, e castEnvelope) (castEnvelope, error) {
		reply, err := r.transport.Send(ctx, e.node, e.spec, e.req)
		if err != nil {
			return e, err
		}
		e.reply = reply
		return e, nil
	})
	breaker := pipz.NewCircuitBreaker[castEnvelope]("unit-node-breaker-"+node, send, r.breakerFailureThreshold, r.breakerResetTimeout)
	withRetry := pipz.NewBackoff[castEnvelope]("unit-node-retry-"+node, breaker, r.retryMaxAttempts, r.retryBaseDelay)

	r.nodePipelines[node] = withRetry
	return withRetry
}

// OnWorkerStarted registers a handler invoked whenever this router starts a
// new worker.
func (r *Router) OnWorkerStarted(handler func(context.Context, WorkerEvent) error) error {
	_, err := r.hooks.Hook(EventWorkerStarted, handler)
	return err
}

// OnWorkerExpired registers a handler invoked whenever a worker owned by
// this router terminates (idle TTL or crash).
func (r *Router) OnWorkerExpired(handler func(context.Context, WorkerEvent) error) error {
	_, err := r.hooks.Hook(EventWorkerExpired, handler)
	return err
}

// ActiveWorkers returns the number of workers currently registered in this
// router's table.
func (r *Router) ActiveWorkers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Metrics returns the metrics registry for this router.
func (r *Router) Metrics() *metricz.Registry {
	return r.metrics
}

// Close signals every worker this router owns to stop, matching the
// specification's router-shutdown termination contract.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for spec, h := range r.workers {
		if stopper, ok := h.(interface{ Stop() }); ok {
			stopper.Stop()
		}
		delete(r.workers, spec)
	}

	r.tracer.Close()
	r.hooks.Close()
	return nil
}
