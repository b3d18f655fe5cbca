package coordinator

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSessionActive rejects a start while another session occupies the
	// coordinator.
	ErrSessionActive = errors.New("coordinator: a session is already active")

	// ErrUserAborted means the user dismissed the source picker. It unwinds a
	// start like a failure but is not one.
	ErrUserAborted = errors.New("coordinator: source selection cancelled by user")

	// ErrConfigurationInvalid rejects a start that names no usable target.
	ErrConfigurationInvalid = errors.New("coordinator: invalid session configuration")

	// ErrNoActiveSession rejects events for a session that is not recording.
	ErrNoActiveSession = errors.New("coordinator: no such recording session")

	// ErrInvalidTransition is a state change the state machine does not allow.
	ErrInvalidTransition = errors.New("coordinator: invalid state transition")
)

// Start failure reasons.
const (
	ReasonNoTarget             = "no-target"
	ReasonSandboxUnavailable   = "sandbox-unavailable"
	ReasonStreamUnavailable    = "stream-unavailable"
	ReasonSandboxNotReady      = "sandbox-not-ready"
	ReasonViewportUnavailable  = "viewport-unavailable"
	ReasonPrepareFailed        = "prepare-failed"
	ReasonCountdownUnreachable = "countdown-unreachable"
	ReasonCountdownTimeout     = "countdown-timeout"
	ReasonControlSurface       = "control-surface-unavailable"
	ReasonSourcePicker         = "source-picker-failed"
	ReasonStartVideoFailed     = "start-video-failed"
	ReasonPersistFailed        = "persist-failed"
	ReasonUserAborted          = "user-aborted"
	ReasonCancelled            = "cancelled"
	ReasonInvalid              = "configuration-invalid"
	ReasonInternal             = "internal"
)

// StartError is a failed session start with a machine-readable reason.
type StartError struct {
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("coordinator: start failed (%s): %v", e.Reason, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

func startErr(reason string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &StartError{Reason: reason, Err: err}
}

// Reason classifies a start error.
func Reason(err error) string {
	var se *StartError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Reason
	case errors.Is(err, ErrUserAborted):
		return ReasonUserAborted
	case errors.Is(err, ErrConfigurationInvalid):
		return ReasonInvalid
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	}
	return ReasonInternal
}
