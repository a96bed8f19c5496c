// Package rule implements the matching-rule pipeline: an ordered set of rule
// groups applied to one element at a time, with per-rule "fires at most
// once" semantics and the ability to suspend a rule pending data that only
// exists on a remote node.
package rule

import (
	"context"

	"github.com/zoobzio/augmentor/element"
	"github.com/zoobzio/augmentor/unit"
)

// Matcher is a predicate on an element and its current rule state. A
// matcher that panics is treated as a non-match (see Engine.matches), not a
// task failure - only an action's panic crashes the element's task.
type Matcher func(ctx context.Context, e element.Element, s element.RuleState) bool

// Action is either a LocalAction or a RemoteAction. The unexported method
// keeps it a closed set, mirroring the teacher's own small closed
// interfaces (e.g. Closer) rather than reaching for reflection or a type
// switch over `any`.
type Action interface {
	isAction()
}

// LocalAction evaluates entirely on the node currently holding the
// element - no Unit Router involvement.
type LocalAction struct {
	Fn func(ctx context.Context, e element.Element, s element.RuleState) (element.Result, error)
}

func (LocalAction) isAction() {}

// RemoteAction suspends the rule walk, submits a closure to the Unit
// Router addressed by SpecFn, and resumes the scan once Continuation has
// run against the target worker's state on the worker's home node.
//
// Handler names this action's continuation in a Router's handler registry
// (see Pipeline.RemoteHandlers) - the named-handler indirection is what
// lets Continuation cross a real node boundary without serializing a Go
// closure.
type RemoteAction struct {
	SpecFn       func(e element.Element, s element.RuleState) unit.Spec
	Handler      string
	Continuation func(workerState any, e element.Element, s element.RuleState) (element.Result, error)

	// Fallback, if set, runs in place of Continuation's result when the
	// remote cast fails, keeping the element's traversal alive instead of
	// crashing its task. It runs for any cast error, not only
	// unit.ErrNodeUnreachable: a cast timeout, a worker start failure, or an
	// error returned by Continuation also triggers it.
	Fallback func(e element.Element, s element.RuleState) (element.Result, error)
}

func (RemoteAction) isAction() {}

// Rule pairs a matcher with the action to run when it succeeds.
type Rule struct {
	Name  string
	Match Matcher
	Do    Action
}

// Group is an ordered list of rules sharing a type_tag filter and an init
// hook that seeds the element and rule state for this group's traversal.
type Group struct {
	Tag   element.Tag
	Rules []Rule
	Init  func(e element.Element, args any) (element.Element, element.RuleState)
	// Args is passed to Init unchanged on every traversal entering this
	// group; groups that need no static configuration leave it nil.
	Args any
}

// Pipeline is the ordered list of rule groups an Engine walks left to
// right, per element.
type Pipeline struct {
	Groups []Group
}

// NewPipeline builds a Pipeline from groups in traversal order.
func NewPipeline(groups ...Group) *Pipeline {
	return &Pipeline{Groups: groups}
}

// RemoteHandlers collects the named continuations of every RemoteAction in
// this pipeline, wrapped as unit.HandlerFunc values ready to register on
// any node's Router via Router.RegisterHandler. A real multi-node
// deployment runs the same Pipeline (and therefore the same handler set)
// on every node at boot; this module's in-process LocalTransport tests do
// the equivalent by registering the same map on each simulated node's
// Router.
func (p *Pipeline) RemoteHandlers() map[string]unit.HandlerFunc {
	handlers := make(map[string]unit.HandlerFunc)
	for _, g := range p.Groups {
		for _, r := range g.Rules {
			ra, ok := r.Do.(RemoteAction)
			if !ok {
				continue
			}
			continuation := ra.Continuation
			handlers[ra.Handler] = func(state any, req any) (any, error) {
				payload, ok := req.(remotePayload)
				if !ok {
					return nil, ErrBadRemotePayload
				}
				return continuation(state, payload.Elem, payload.State)
			}
		}
	}
	return handlers
}

// remotePayload is what a RemoteAction's closure carries across
// Router.Cast as CastRequest.Payload.
type remotePayload struct {
	Elem  element.Element
	State element.RuleState
}
