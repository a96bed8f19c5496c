// Package pipz provides a lightweight, type-safe library for building composable data processing pipelines in Go.
//
// # Overview
//
// pipz enables developers to create clean, testable, and maintainable data processing workflows
// by composing small, focused functions into larger pipelines. It addresses common challenges
// in Go applications such as scattered business logic, repetitive error handling, and
// difficult-to-test code that mixes pure logic with external dependencies.
//
// Within augmentor, pipz backs the remote-dispatch paths: rule.Engine bounds
// every remote cast with a Timeout (inside a Fallback where a rule configures
// one), and unit.Router runs worker starts through a RateLimiter in a Sequence
// and forwards casts to other nodes through a Backoff around a CircuitBreaker.
// Rule actions themselves are plain functions, not connectors.
//
// # Core Concepts
//
// The library is built around a simple, uniform interface:
//
//   - Chainable[T]: The core interface with Process(context.Context, T) (T, error)
//   - Processors: Functions wrapped as Chainables using the Apply adapter
//   - Connectors: Functions that compose multiple Chainables into complex flows
//
// Everything implements the Chainable interface, enabling seamless composition while maintaining
// type safety through Go generics. Context support allows for timeout control and cancellation.
// Execution follows a fail-fast pattern where processing stops at the first error.
//
// # Adapter Functions
//
//   - Apply: Operations that transform data and might fail (parsing, remote calls)
//
// # Connectors
//
// Connectors compose Chainables into complex processing flows:
//
//   - Sequence: Process steps in order, stopping on first error
//   - Fallback: Try alternatives if the primary fails
//   - Backoff: Retry with exponential backoff
//   - Timeout: Enforce time limits on operations
//   - CircuitBreaker: Stop calling a failing processor until it recovers
//   - RateLimiter: Throttle or drop calls exceeding a configured rate
//
// # Usage Example
//
// augmentor's rule engine wires a remote augmentation call through a
// circuit breaker, a timeout, and a fallback in roughly this shape:
//
//	import (
//	    "context"
//	    "time"
//	)
//
//	type lookup struct {
//	    key string
//	}
//
//	// The remote call itself, wrapped as a Chainable.
//	call := pipz.Apply("enrich_via_remote", func(ctx context.Context, l lookup) (lookup, error) {
//	    return fetchFromRemote(ctx, l)
//	})
//
//	// Bound the call's latency.
//	bounded := pipz.NewTimeout("enrich_timeout", call, 2*time.Second)
//
//	// Stop hammering a remote that's failing, and fall back to a local default
//	// once the breaker trips.
//	guarded := pipz.NewCircuitBreaker("enrich_breaker", bounded, 5, 30*time.Second)
//	resilient := pipz.NewFallback("enrich_fallback", guarded,
//	    pipz.Apply("enrich_default", func(_ context.Context, l lookup) (lookup, error) {
//	        return localDefault(l), nil
//	    }),
//	)
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	result, err := resilient.Process(ctx, lookup{key: "example"})
//
// # Benefits
//
// Using pipz provides several advantages:
//
//   - Testability: Each processor can be tested in isolation
//   - Reusability: Common processors can be shared across pipelines
//   - Clarity: Business logic is clearly expressed as a sequence of steps
//   - Type Safety: Compile-time type checking prevents runtime errors
//   - Timeout Control: Context support enables reliable timeout handling
//   - Cancellation: Processors can be canceled mid-execution for security
//   - Performance: Minimal overhead with predictable execution patterns
//
// # Common Patterns
//
// pipz supports several powerful composition patterns:
//
//   - Sequential Processing: Chain operations that depend on previous results
//   - Error Recovery: Use Fallback for alternative processing paths
//   - Resilience: Add Backoff, CircuitBreaker, and Timeout for unreliable remote calls
//
// # Performance
//
// The library is designed for minimal overhead:
//
//   - Minimal per-processor overhead
//   - Context passing adds negligible cost
//   - Generic types instead of interface{} payloads
//   - Predictable performance characteristics
//   - Small per-call allocations: Sequence and Fallback copy their processor
//     list on each Process call, and errors are allocated only on failure
//
// # Best Practices
//
// When using pipz:
//
//  1. Keep processors small and focused on a single responsibility
//  2. Use descriptive names for processors to aid debugging
//  3. Check context.Err() in long-running processors for cancellation
//  4. Use appropriate timeouts with the Timeout connector
//  5. Compose pipelines from reusable processors using connectors
//  6. Test processors independently before composing
//  7. Handle errors at the pipeline level, not within processors
//
// # Integration
//
// pipz integrates well with existing Go code:
//
//   - Works with any data type through generics
//   - Compatible with standard Go error handling
//   - Can wrap existing functions with the Apply adapter
//   - Supports gradual adoption in existing codebases
//
// Connectors emit structured observability through metricz counters, tracez
// spans, hookz listeners, and capitan signals depending on the connector;
// callers that don't need a given signal can simply not subscribe to it.
package pipz
