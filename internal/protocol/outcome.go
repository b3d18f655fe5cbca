package protocol

import "errors"

var (
	// ErrUnreachable is reported for a context that is gone or never existed.
	ErrUnreachable = errors.New("context unreachable")
	// ErrTimeout is reported when a request got no reply within its bound.
	ErrTimeout = errors.New("request timed out")
)

// Outcome is the result of a fire-and-forget delivery. Callers never retry;
// they hand the outcome to a discard policy that logs and counts it.
type Outcome struct {
	To  string
	Err error
}

// Delivered reports whether the transport accepted the message.
func (o Outcome) Delivered() bool {
	return o.Err == nil
}
