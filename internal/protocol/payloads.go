package protocol

import "github.com/vincentbai/browsetrace-recorder/internal/models"

// StartSessionRequest is the START_SESSION payload.
type StartSessionRequest struct {
	Mode   models.Mode         `json:"mode"`
	TabID  string              `json:"tabId,omitempty"`
	Device models.DeviceConfig `json:"deviceConfig"`
}

// StartSessionResponse acknowledges a start. Aborted is set, with no session
// id, when the user dismissed the source picker.
type StartSessionResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	Aborted   bool   `json:"aborted,omitempty"`
}

// StopSessionResponse carries the artifact produced by the capture sandbox.
// Both fields are empty when there was nothing to stop.
type StopSessionResponse struct {
	SessionID   string `json:"sessionId,omitempty"`
	ArtifactRef string `json:"artifactRef,omitempty"`
}

// PrepareVideoRequest is sent to a capture sandbox or control surface.
type PrepareVideoRequest struct {
	Mode     models.Mode         `json:"mode"`
	StreamID string              `json:"streamId,omitempty"`
	SourceID string              `json:"sourceId,omitempty"`
	Device   models.DeviceConfig `json:"deviceConfig"`
	Viewport *ViewportSize       `json:"viewport,omitempty"`
}

// PrepareVideoResponse reports what the sandbox is about to capture.
type PrepareVideoResponse struct {
	// CapturesControlSurface is set when the chosen source is the control
	// surface itself.
	CapturesControlSurface bool `json:"capturesControlSurface"`
}

// StartVideoRequest tells the sandbox to begin encoding.
type StartVideoRequest struct {
	StartTime int64 `json:"startTime"`
}

// StopVideoResponse carries the finished artifact reference.
type StopVideoResponse struct {
	ArtifactRef string `json:"artifactRef"`
}

// ViewportSize is the page agent's viewport in device physical pixels.
type ViewportSize struct {
	Width            float64 `json:"width"`
	Height           float64 `json:"height"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
}

// CountdownRequest is the START_COUNTDOWN payload.
type CountdownRequest struct {
	Seconds int `json:"seconds"`
}

// StartEventsRequest is the START_RECORDING_EVENTS payload. StartTime is unix
// ms and anchors every emitted event time.
type StartEventsRequest struct {
	StartTime int64 `json:"startTime"`
}

// CaptureUserEvent is the CAPTURE_USER_EVENT payload.
type CaptureUserEvent struct {
	Event models.InteractionEvent `json:"event"`
}

// RecordingState answers GET_RECORDING_STATE.
type RecordingState struct {
	IsRecording bool         `json:"isRecording"`
	SessionID   string       `json:"sessionId,omitempty"`
	Mode        models.Mode  `json:"mode,omitempty"`
	State       models.State `json:"state"`
	StartTime   int64        `json:"startTime,omitempty"`
}

// ContextRef identifies a context in host replies.
type ContextRef struct {
	ContextID string `json:"contextId"`
}

// ContextList is the HOST_PAGE_CONTEXTS reply.
type ContextList struct {
	ContextIDs []string `json:"contextIds"`
}

// TabStreamRequest asks the host for a capture stream of a tab.
type TabStreamRequest struct {
	TabID string `json:"tabId"`
}

// TabStreamResponse carries the opaque stream handle.
type TabStreamResponse struct {
	StreamID string `json:"streamId"`
}

// ChooseSourceRequest opens the platform picker on a control surface.
type ChooseSourceRequest struct {
	ControlContextID string      `json:"controlContextId"`
	Mode             models.Mode `json:"mode"`
}

// ChooseSourceResponse is the picker result; Cancelled means the user
// dismissed it.
type ChooseSourceResponse struct {
	SourceID  string `json:"sourceId,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}
