// Package protocol defines the message envelope exchanged between the
// coordinator, page agents, capture sandboxes, the control surface and the UI.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type names a message kind.
type Type string

// UI → coordinator
const (
	TypeStartSession Type = "START_SESSION"
	TypeStopSession  Type = "STOP_SESSION"
)

// Coordinator ↔ capture sandbox / control surface
const (
	TypeSandboxReady          Type = "SANDBOX_READY"
	TypePrepareRecordingVideo Type = "PREPARE_RECORDING_VIDEO"
	TypeStartRecordingVideo   Type = "START_RECORDING_VIDEO"
	TypeStopRecordingVideo    Type = "STOP_RECORDING_VIDEO"
)

// Coordinator ↔ page agent
const (
	TypeStartCountdown       Type = "START_COUNTDOWN"
	TypeCountdownDone        Type = "COUNTDOWN_DONE"
	TypeStartRecordingEvents Type = "START_RECORDING_EVENTS"
	TypeStopRecordingEvents  Type = "STOP_RECORDING_EVENTS"
	TypeGetViewportSize      Type = "GET_VIEWPORT_SIZE"
	TypeCaptureUserEvent     Type = "CAPTURE_USER_EVENT"
)

// Any context → coordinator
const (
	TypeGetRecordingState Type = "GET_RECORDING_STATE"
)

// UI → page agent
const (
	TypeEnableBlurMode  Type = "ENABLE_BLUR_MODE"
	TypeDisableBlurMode Type = "DISABLE_BLUR_MODE"
)

// Coordinator ↔ host platform shim
const (
	TypeHostActiveTab           Type = "HOST_ACTIVE_TAB"
	TypeHostCreateSandbox       Type = "HOST_CREATE_SANDBOX"
	TypeHostCloseSandbox        Type = "HOST_CLOSE_SANDBOX"
	TypeHostTabStream           Type = "HOST_TAB_STREAM"
	TypeHostOpenControlSurface  Type = "HOST_OPEN_CONTROL_SURFACE"
	TypeHostCloseControlSurface Type = "HOST_CLOSE_CONTROL_SURFACE"
	TypeHostChooseSource        Type = "HOST_CHOOSE_SOURCE"
	TypeHostFocus               Type = "HOST_FOCUS"
	TypeHostPageContexts        Type = "HOST_PAGE_CONTEXTS"
	TypeHostContextClosed       Type = "HOST_CONTEXT_CLOSED"
)

// Reply is the type of every response envelope.
const TypeReply Type = "REPLY"

// CoordinatorID is the well-known context id of the session coordinator.
const CoordinatorID = "coordinator"

// Envelope is the unit of delivery between contexts. RequestID correlates a
// reply with its request; Error is set on replies that failed.
type Envelope struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	From      string          `json:"from,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// New builds an envelope stamped with the current time. payload may be nil.
func New(t Type, sessionID string, payload any) (Envelope, error) {
	env := Envelope{Type: t, SessionID: sessionID, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// MustNew is New for payloads that cannot fail to marshal.
func MustNew(t Type, sessionID string, payload any) Envelope {
	env, err := New(t, sessionID, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Reply builds the response to req carrying payload.
func Reply(req Envelope, payload any) (Envelope, error) {
	env, err := New(TypeReply, req.SessionID, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.RequestID = req.RequestID
	return env, nil
}

// ErrorReply builds a failed response to req.
func ErrorReply(req Envelope, err error) Envelope {
	return Envelope{
		Type:      TypeReply,
		SessionID: req.SessionID,
		Timestamp: time.Now().UnixMilli(),
		RequestID: req.RequestID,
		Error:     err.Error(),
	}
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Err returns the remote error carried by a reply, if any.
func (e Envelope) Err() error {
	if e.Error == "" {
		return nil
	}
	return &RemoteError{Type: e.Type, Message: e.Error}
}

// RemoteError is a failure reported by the receiving context.
type RemoteError struct {
	Type    Type
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}
