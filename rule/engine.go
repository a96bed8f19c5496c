package rule

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"

	pipz "github.com/zoobzio/augmentor"
	"github.com/zoobzio/augmentor/element"
	"github.com/zoobzio/augmentor/stream"
	"github.com/zoobzio/augmentor/unit"
)

// remoteCall flows through the remote-dispatch pipelines (the shared cast
// pipeline, or a per-Handler fallback pipeline): the cast step fills in
// result on the value it returns, following the same
// "T carries its own outcome" idiom as unit.Router's internal envelopes.
type remoteCall struct {
	spec   unit.Spec
	req    unit.CastRequest
	elem   element.Element
	state  element.RuleState
	result element.Result
}

// Engine walks a Pipeline's groups, firing rules at most once per element
// per group traversal, and produces the stream.EmitFn a Sink drives.
type Engine struct {
	pipeline *Pipeline
	router   *unit.Router

	remoteTimeout time.Duration
	remotePipe    pipz.Chainable[remoteCall]
	// fallbackPipes caches one pipz.Fallback per RemoteAction.Handler that
	// configured a Fallback, built once at construction since every
	// RemoteAction in a pipeline is static configuration.
	fallbackPipes map[string]pipz.Chainable[remoteCall]

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[RuleEvent]
}

// NewEngine builds an Engine for pipeline, dispatching RemoteActions
// through router. Callers must also register pipeline.RemoteHandlers() on
// every Router instance that may be asked to run one of this pipeline's
// continuations (including router itself, for specs whose home node is
// this node).
func NewEngine(pipeline *Pipeline, router *unit.Router, opts ...Option) *Engine {
	e := &Engine{
		pipeline:      pipeline,
		router:        router,
		remoteTimeout: DefaultRemoteTimeout,
		tracer:        tracez.New(),
		hooks:         hookz.New[RuleEvent](),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.remotePipe = e.buildCastPipeline()
	e.fallbackPipes = e.buildFallbackPipelines()

	metrics := metricz.New()
	metrics.Counter(EngineElementsStartedTotal)
	metrics.Counter(EngineElementsDoneTotal)
	metrics.Counter(EngineRulesFiredTotal)
	metrics.Counter(EngineGroupsAdvancedTotal)
	metrics.Counter(EngineRemoteCastsTotal)
	e.metrics = metrics

	return e
}

// EmitFn returns the stream.EmitFn this Engine implements: the callable a
// stream.Sink drives for every per-element task.
func (e *Engine) EmitFn() stream.EmitFn {
	return func(ctx context.Context, sink *stream.Sink, elem element.Element) {
		e.run(ctx, sink, elem)
	}
}

// run implements spec.md §4.3 steps 1-5 for one element: walk the
// pipeline's groups left to right, skipping any whose tag doesn't match
// the element's current tag, scan-restarting a matching group's rules
// after every fire, and delivering the element to sink once every group
// has been visited.
func (e *Engine) run(ctx context.Context, sink *stream.Sink, elem element.Element) {
	e.metrics.Counter(EngineElementsStartedTotal).Inc()
	ctx, span := e.tracer.StartSpan(ctx, engineRunSpan)
	defer span.Finish()

	for _, group := range e.pipeline.Groups {
		if group.Tag != elem.Tag {
			continue
		}
		span.SetTag(engineTagGroupTag, string(group.Tag))

		var state element.RuleState
		if group.Init != nil {
			elem, state = group.Init(elem, group.Args)
		}

		updated, crashed := e.runGroup(ctx, span, sink, group, elem, state)
		if crashed {
			return // task crash: sink never receives done for this element
		}
		elem = updated
		e.metrics.Counter(EngineGroupsAdvancedTotal).Inc()
		capitan.Info(ctx, SignalGroupAdvanced, FieldGroupTag.Field(string(group.Tag)))
	}

	e.metrics.Counter(EngineElementsDoneTotal).Inc()
	sink.Done(elem)
}

// runGroup scans group's rules in declaration order, firing the first
// whose apply-map entry is false and whose matcher succeeds, restarting
// the scan from the top after every fire, until no rule matches. It
// returns the element as left by the group and whether the element's task
// crashed (an action error or panic), in which case the caller must not
// deliver the element. span is the caller's already-open rule.run span,
// tagged here with the firing rule's name as the traversal progresses.
func (e *Engine) runGroup(ctx context.Context, span interface {
	SetTag(key tracez.Tag, value string)
}, sink *stream.Sink, group Group, elem element.Element, state element.RuleState) (element.Element, bool) {
	applied := make(map[string]bool, len(group.Rules))

	for {
		fired := false

		for _, r := range group.Rules {
			if applied[r.Name] {
				continue
			}
			if !e.matches(ctx, r, elem, state) {
				continue
			}

			remote := isRemote(r.Do)
			span.SetTag(engineTagRuleName, r.Name)
			span.SetTag(engineTagRemote, fmt.Sprintf("%v", remote))

			result, err := e.fire(ctx, r, elem, state)
			if err != nil {
				span.SetTag(engineTagCrashedAt, r.Name)
				capitan.Info(ctx, SignalRuleCrashed, FieldRuleName.Field(r.Name))
				return elem, true
			}

			elem, state = applyResult(result, elem, state)
			applied[r.Name] = true
			fired = true

			e.metrics.Counter(EngineRulesFiredTotal).Inc()
			capitan.Info(ctx, SignalRuleFired,
				FieldRuleName.Field(r.Name),
				FieldGroupTag.Field(string(group.Tag)),
				FieldRemote.Field(fmt.Sprintf("%v", remote)),
			)
			_ = e.hooks.Emit(ctx, EventRuleFired, RuleEvent{ //nolint:errcheck
				RuleName:  r.Name,
				GroupTag:  group.Tag,
				Remote:    remote,
				Timestamp: time.Now(),
			})

			for _, emitted := range result.Emit {
				sink.Emit(emitted)
			}

			break // restart the scan from the top of this group
		}

		if !fired {
			return elem, false
		}
	}
}

// matches evaluates r.Match, treating a panic as a non-match rather than a
// task failure - the specification's error policy for matcher panics.
func (e *Engine) matches(ctx context.Context, r Rule, elem element.Element, state element.RuleState) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return r.Match(ctx, elem, state)
}

// fire runs r.Do's action, local or remote, and returns its result. A
// returned error (including a recovered panic) is the task-crash path.
func (e *Engine) fire(ctx context.Context, r Rule, elem element.Element, state element.RuleState) (result element.Result, err error) {
	switch action := r.Do.(type) {
	case LocalAction:
		return e.fireLocal(ctx, action, elem, state)
	case RemoteAction:
		return e.fireRemote(ctx, action, elem, state)
	default:
		return element.Result{}, fmt.Errorf("rule: unknown action type %T for rule %q", r.Do, r.Name)
	}
}

func (e *Engine) fireLocal(ctx context.Context, action LocalAction, elem element.Element, state element.RuleState) (result element.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rule: local action panic: %v", p)
		}
	}()
	return action.Fn(ctx, elem, state)
}

// fireRemote suspends the scan, submits the continuation through the Unit
// Router bounded by remoteTimeout, and returns the interpreted result once
// the reply arrives - or runs action.Fallback if a fallback was configured
// and the cast failed for any reason (unreachable node, timeout, worker
// start failure, or continuation error).
func (e *Engine) fireRemote(ctx context.Context, action RemoteAction, elem element.Element, state element.RuleState) (result element.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rule: remote action panic: %v", p)
		}
	}()

	spec := action.SpecFn(elem, state)
	e.metrics.Counter(EngineRemoteCastsTotal).Inc()

	pipeline := e.remotePipe
	if fb, ok := e.fallbackPipes[action.Handler]; ok {
		pipeline = fb
	}

	call, castErr := pipeline.Process(ctx, remoteCall{
		spec:  spec,
		req:   unit.CastRequest{Handler: action.Handler, Payload: remotePayload{Elem: elem, State: state}},
		elem:  elem,
		state: state,
	})
	if castErr != nil {
		return element.Result{}, castErr
	}
	return call.result, nil
}

// castProcessor is the shared pipz.Apply step underlying every remote
// dispatch: submit rc through the Unit Router and unpack the continuation's
// reply into rc.result.
func (e *Engine) castProcessor() pipz.Chainable[remoteCall] {
	return pipz.Apply("rule-remote-cast", func(ctx context.Context, rc remoteCall) (remoteCall, error) {
		reply, err := e.router.Cast(ctx, rc.spec, rc.req)
		if err != nil {
			return rc, err
		}
		result, ok := reply.(element.Result)
		if !ok {
			return rc, ErrRemoteReplyShape
		}
		rc.result = result
		return rc, nil
	})
}

// buildCastPipeline wraps the Router.Cast call in a pipz.Timeout so a
// suspended rule can never block an element's task forever waiting on a
// remote reply. Used for every RemoteAction that configures no Fallback.
func (e *Engine) buildCastPipeline() pipz.Chainable[remoteCall] {
	return pipz.NewTimeout[remoteCall]("rule-remote-timeout", e.castProcessor(), e.remoteTimeout)
}

// buildFallbackPipelines builds, once per RemoteAction.Handler that
// configures a Fallback, a pipz.Fallback trying the timeout-bounded cast
// first and the action's Fallback second. pipz.Fallback moves on after any
// error, so the action's Fallback runs whenever the cast fails - not only
// for an unreachable node - and the element's traversal continues instead
// of crashing its task.
func (e *Engine) buildFallbackPipelines() map[string]pipz.Chainable[remoteCall] {
	pipes := make(map[string]pipz.Chainable[remoteCall])
	for _, group := range e.pipeline.Groups {
		for _, r := range group.Rules {
			ra, ok := r.Do.(RemoteAction)
			if !ok || ra.Fallback == nil {
				continue
			}
			fallback := ra.Fallback
			timeoutCast := pipz.NewTimeout[remoteCall]("rule-remote-timeout", e.castProcessor(), e.remoteTimeout)
			fallbackStep := pipz.Apply("rule-remote-fallback", func(_ context.Context, rc remoteCall) (remoteCall, error) {
				result, err := fallback(rc.elem, rc.state)
				if err != nil {
					return rc, err
				}
				rc.result = result
				return rc, nil
			})
			pipes[ra.Handler] = pipz.NewFallback[remoteCall]("rule-remote-fallback-"+ra.Handler, timeoutCast, fallbackStep)
		}
	}
	return pipes
}

// applyResult interprets a rule action's result per the specification's
// result taxonomy: Result.Element is always the element to continue
// traversal with (actions that only emit or update state still echo their
// input element back, by convention - see element.Replace/EmitAndKeep);
// Emit is handled by the caller (it needs the sink); StateUpdate, when
// non-nil, merges into the current rule state.
func applyResult(result element.Result, _ element.Element, state element.RuleState) (element.Element, element.RuleState) {
	next := result.Element
	if result.StateUpdate != nil {
		if state == nil {
			state = element.RuleState{}
		}
		for k, v := range result.StateUpdate {
			state[k] = v
		}
	}
	return next, state
}

func isRemote(a Action) bool {
	_, ok := a.(RemoteAction)
	return ok
}

// OnRuleFired registers a handler invoked whenever any rule in this
// Engine's pipeline fires.
func (e *Engine) OnRuleFired(handler func(context.Context, RuleEvent) error) error {
	_, err := e.hooks.Hook(EventRuleFired, handler)
	return err
}

// Metrics returns the metrics registry for this Engine.
func (e *Engine) Metrics() *metricz.Registry {
	return e.metrics
}

// Close releases this Engine's observability resources.
func (e *Engine) Close() error {
	e.tracer.Close()
	e.hooks.Close()
	return nil
}
