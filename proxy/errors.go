package proxy

import (
	E "github.com/sagernet/sing/common/exceptions"
)

var (
	// ErrUpstreamUnreachable: the tracker host could not be connected or the
	// exchange failed before a response arrived. Mapped to 502.
	ErrUpstreamUnreachable = E.New("upstream tracker unreachable")

	// ErrUpstreamTimeout: connect or read exceeded the bounded timeout.
	// Mapped to 504. Never retried here; the client has its own retry logic.
	ErrUpstreamTimeout = E.New("upstream tracker timeout")

	// ErrCancelled: the request was still in flight when the proxy shut
	// down. Surfaced to the client as a closed connection.
	ErrCancelled = E.New("request cancelled during shutdown")
)

type upstreamError struct {
	kind  error
	cause error
}

func (e *upstreamError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *upstreamError) Is(target error) bool {
	return target == e.kind
}

func (e *upstreamError) Unwrap() error {
	return e.cause
}
