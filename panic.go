package pipz

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxPanicMessageLength = 200

var hexAddressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{4,}`)

// panicError wraps a recovered panic value so it satisfies the error
// interface without leaking raw panic data - stack traces, file paths,
// or memory addresses - into logs or downstream error handlers.
type panicError struct {
	processorName Name
	sanitized     string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic in processor %q: %s", e.processorName, e.sanitized)
}

// sanitizePanicMessage converts an arbitrary recovered panic value into a
// message safe to attach to an error path. Stack traces, file paths, and
// memory addresses are stripped rather than passed through, and overly
// long messages are truncated.
func sanitizePanicMessage(v interface{}) string {
	if v == nil {
		return "unknown panic (nil value)"
	}

	msg := fmt.Sprintf("%v", v)

	if strings.Contains(msg, "goroutine") || strings.Contains(msg, "runtime.") {
		return "panic occurred (stack trace sanitized)"
	}

	if strings.Contains(msg, ".go:") && (strings.Contains(msg, "/") || strings.Contains(msg, `\`)) {
		return "panic occurred (file path sanitized)"
	}

	if len(msg) > maxPanicMessageLength {
		return "panic occurred (message truncated for security)"
	}

	if hexAddressPattern.MatchString(msg) {
		msg = hexAddressPattern.ReplaceAllString(msg, "0x***")
	}

	return "panic occurred: " + msg
}

// recoverFromPanic converts a panic inside a Process method into a regular
// error return instead of crashing the calling goroutine. Every connector's
// Process method defers this as its first statement so that a misbehaving
// child processor cannot take down the element task that is driving it.
//
// result and err are the named return values of the caller; recoverFromPanic
// rewrites them only when a panic actually occurred, otherwise it leaves
// whatever the caller already set.
func recoverFromPanic[T any](result *T, err *error, name Name, input T) {
	if r := recover(); r != nil {
		var zero T
		*result = zero
		*err = &Error[T]{
			Timestamp: time.Now(),
			InputData: input,
			Err:       &panicError{processorName: name, sanitized: sanitizePanicMessage(r)},
			Path:      []Name{name},
		}
	}
}
