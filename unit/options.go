package unit

import "time"

// Option configures a Router at construction time, in the spirit of the root
// pipz package's WithClock-style configuration methods.
type Option func(*Router)

// WithStartRateLimit bounds how often this router spins up new workers,
// preventing a burst of casts for a not-yet-running spec from starting a
// storm of worker processes on one node.
func WithStartRateLimit(ratePerSecond float64, burst int) Option {
	return func(r *Router) {
		r.startRate = ratePerSecond
		r.startBurst = burst
	}
}

// WithNodeBreaker configures the per-target-node circuit breaker guarding
// Cast's forwarding call, so a node that keeps failing trips the breaker
// instead of paying a full timeout on every cast.
func WithNodeBreaker(failureThreshold int, resetTimeout time.Duration) Option {
	return func(r *Router) {
		r.breakerFailureThreshold = failureThreshold
		r.breakerResetTimeout = resetTimeout
	}
}

// WithNodeRetry configures the retry/backoff wrapping the forwarding call
// before a cast gives up and surfaces ErrNodeUnreachable.
func WithNodeRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(r *Router) {
		r.retryMaxAttempts = maxAttempts
		r.retryBaseDelay = baseDelay
	}
}

// WithDefaultTTL records an idle TTL on the router. No Router method reads
// it: a worker's TTL is whatever its Kind's Start passes to NewWorker.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(r *Router) { r.defaultTTL = ttl }
}
