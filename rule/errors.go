package rule

import "errors"

// Sentinel errors surfaced by Engine's generated EmitFn.
var (
	// ErrBadRemotePayload is returned by a registered handler when a
	// CastRequest's payload isn't the remotePayload this package sent -
	// only reachable if a Router mixes handlers from unrelated pipelines
	// under the same name.
	ErrBadRemotePayload = errors.New("rule: cast request payload is not a rule remote payload")

	// ErrRemoteReplyShape is returned when a RemoteAction's continuation
	// result cannot be interpreted as an element.Result.
	ErrRemoteReplyShape = errors.New("rule: remote continuation reply is not an element.Result")
)
