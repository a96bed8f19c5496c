package rule

import "time"

// DefaultRemoteTimeout bounds how long an element's task waits for a
// RemoteAction's Unit Router cast to reply before the task is treated as
// crashed, matching the specification's "element tasks may block waiting
// for a remote worker's reply" suspension point with a concrete bound.
const DefaultRemoteTimeout = 30 * time.Second

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithRemoteTimeout overrides DefaultRemoteTimeout.
func WithRemoteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.remoteTimeout = d }
}
