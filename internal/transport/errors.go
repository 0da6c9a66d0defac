package transport

import "errors"

// ErrTransportClosed is returned to every pending request and session
// when the backend connection closes (spec §4.A, §7).
var ErrTransportClosed = errors.New("transport: connection closed")

// ErrRouterStopped is returned by CreateSession once the demux has
// stopped — distinct from ErrTransportClosed so callers can tell "was
// mid-flight when it died" from "tried to start something after it died"
// (spec §4.A).
var ErrRouterStopped = errors.New("transport: router stopped, no new sessions")

// ErrSessionError wraps a backend refusal of session.create (an error
// reply or a malformed result), per spec §4.A. A caller's context
// expiring is returned as ctx.Err() instead.
type ErrSessionError struct {
	Reason string
}

func (e *ErrSessionError) Error() string { return "transport: session_error: " + e.Reason }
