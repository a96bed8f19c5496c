package pipz

import "context"

// Chainable defines the interface for any component that can process
// values of type T. This interface enables composition of different
// processing components that operate on the same type.
//
// Chainable is the foundation of pipz - every processor, pipeline,
// and connector implements this interface. The uniform interface
// enables seamless composition while maintaining type safety through
// Go generics.
//
// Key design principles:
//   - Context support for timeout and cancellation
//   - Type safety through generics (no interface{})
//   - Error propagation for fail-fast behavior
//   - Immutable by convention (return modified copies)
//   - Named components for debugging and monitoring
type Chainable[T any] interface {
	Process(context.Context, T) (T, error)
	Name() Name
}

// Closer is implemented by connectors that hold observability resources
// (tracers, hook registries) needing an explicit shutdown. Leaf Processors
// do not implement Closer; connectors that aggregate child Chainables close
// any child that implements it.
type Closer interface {
	Close() error
}

// Name is a type alias for processor and connector names.
// Using this type encourages storing names as constants rather than
// using inline strings throughout your code.
//
// Example:
//
//	const (
//	    ValidateElementName Name = "validate-element"
//	    EnrichRemoteName     Name = "enrich-remote"
//	)
//
//	validate := pipz.Apply(ValidateElementName, validateFunc)
type Name = string

// Processor defines a named processing stage that transforms a value of type T.
// It contains a descriptive name for debugging and a private function that processes the value.
// The function receives a context for cancellation and timeout control.
//
// Processor is the basic building block created by the Apply adapter. The
// name field is crucial for debugging, appearing in error messages and the
// Error[T].Path to identify exactly where failures occur.
//
// The fn field is intentionally private to ensure processors are only created through
// the provided adapter functions, maintaining consistent error handling and path tracking.
//
// Best practices for processor names:
//   - Use descriptive, action-oriented names ("validate_email", not "email")
//   - Include the operation type ("parse_json", "fetch_user", "log_event")
//   - Keep names concise but meaningful
//   - Use consistent naming conventions across your application
//   - Names appear in Error[T].Path for debugging (e.g., ["pipeline", "validate_email"])
type Processor[T any] struct {
	fn   func(context.Context, T) (T, error)
	name Name
}

// Process implements the Chainable interface, allowing individual processors
// to be used directly or composed in connectors.
//
// This means a single Processor can be used anywhere a Chainable is expected:
//
//	validator := pipz.Apply("validate", validateFunc)
//	// Can be used directly
//	result, err := validator.Process(ctx, data)
//	// Or in connectors
//	pipeline := pipz.NewSequence("validation", validator, transformer)
func (p Processor[T]) Process(ctx context.Context, data T) (T, error) {
	return p.fn(ctx, data)
}

// Name returns the name of the processor for debugging and error reporting.
func (p Processor[T]) Name() Name {
	return p.name
}
