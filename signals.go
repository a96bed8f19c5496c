package pipz

import "github.com/zoobzio/capitan"

// Signal constants for pipz connector events.
// Signals follow the pattern: <connector-type>.<event>.
const (
	// CircuitBreaker signals.
	SignalCircuitBreakerOpened   capitan.Signal = "circuitbreaker.opened"
	SignalCircuitBreakerClosed   capitan.Signal = "circuitbreaker.closed"
	SignalCircuitBreakerHalfOpen capitan.Signal = "circuitbreaker.half-open"
	SignalCircuitBreakerRejected capitan.Signal = "circuitbreaker.rejected"

	// RateLimiter signals.
	SignalRateLimiterThrottled capitan.Signal = "ratelimiter.throttled"
	SignalRateLimiterDropped   capitan.Signal = "ratelimiter.dropped"
	SignalRateLimiterAllowed   capitan.Signal = "ratelimiter.allowed"

	// Sequence signals.
	SignalSequenceCompleted capitan.Signal = "sequence.completed"
)

// Common field keys using capitan primitive types.
// All keys use primitive types to avoid custom struct serialization.
var (
	// Common fields.
	FieldName      = capitan.NewStringKey("name")       // Connector instance name
	FieldTimestamp = capitan.NewFloat64Key("timestamp") // Unix timestamp

	// CircuitBreaker fields.
	FieldState            = capitan.NewStringKey("state")          // Circuit state: closed/open/half-open
	FieldFailures         = capitan.NewIntKey("failures")          // Current failure count
	FieldSuccesses        = capitan.NewIntKey("successes")         // Current success count
	FieldFailureThreshold = capitan.NewIntKey("failure_threshold") // Threshold to open
	FieldSuccessThreshold = capitan.NewIntKey("success_threshold") // Threshold to close from half-open
	FieldGeneration       = capitan.NewIntKey("generation")        // Circuit generation number

	// RateLimiter fields.
	FieldRate     = capitan.NewFloat64Key("rate")      // Requests per second
	FieldBurst    = capitan.NewIntKey("burst")         // Burst capacity
	FieldTokens   = capitan.NewFloat64Key("tokens")    // Current tokens
	FieldMode     = capitan.NewStringKey("mode")       // Mode: wait/drop
	FieldWaitTime = capitan.NewFloat64Key("wait_time") // Wait time in seconds

	// Sequence fields.
	FieldProcessorCount = capitan.NewIntKey("processor_count") // Number of processors executed
	FieldDuration       = capitan.NewFloat64Key("duration")    // Elapsed duration in seconds
)
