package models

import "time"

// Mode selects the capture surface of a session.
type Mode string

const (
	ModeTab    Mode = "tab"
	ModeWindow Mode = "window"
	ModeScreen Mode = "screen"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeTab, ModeWindow, ModeScreen:
		return true
	}
	return false
}

// State is a coordinator finite-state-machine state.
type State string

const (
	StateIdle          State = "idle"
	StatePreparing     State = "preparing"
	StateAwaitingReady State = "awaiting_ready"
	StateCountdown     State = "countdown"
	StateRecording     State = "recording"
	StateStopping      State = "stopping"
)

// Session is the coordinator's canonical view of one recording attempt.
type Session struct {
	ID                string    `json:"id"`
	Mode              Mode      `json:"mode"`
	State             State     `json:"state"`
	StartTime         time.Time `json:"startTime"`
	RecordedContextID string    `json:"recordedContextId,omitempty"`
	ControlContextID  string    `json:"controlContextId,omitempty"`
	OriginContextID   string    `json:"originContextId,omitempty"`
}

// Active reports whether the session occupies the coordinator.
func (s Session) Active() bool {
	return s.State != StateIdle && s.State != ""
}

// Snapshot is the durable projection of a Session that survives restarts of
// the coordinator process.
type Snapshot struct {
	IsRecording       bool   `json:"isRecording"`
	RecordedContextID string `json:"recordedContextId,omitempty"`
	ControlContextID  string `json:"controlContextId,omitempty"`
	StartTime         int64  `json:"startTime"` // unix ms
	SessionID         string `json:"sessionId"`
	Mode              Mode   `json:"mode"`
	OriginContextID   string `json:"originContextId,omitempty"`
}

// Snapshot projects s into its persisted form.
func (s Session) Snapshot() Snapshot {
	return Snapshot{
		IsRecording:       s.State == StateRecording,
		RecordedContextID: s.RecordedContextID,
		ControlContextID:  s.ControlContextID,
		StartTime:         s.StartTime.UnixMilli(),
		SessionID:         s.ID,
		Mode:              s.Mode,
		OriginContextID:   s.OriginContextID,
	}
}

// Session rebuilds the in-memory session a snapshot describes. A snapshot
// that is not recording yields an idle session.
func (s Snapshot) Session() Session {
	if !s.IsRecording {
		return Session{State: StateIdle}
	}
	return Session{
		ID:                s.SessionID,
		Mode:              s.Mode,
		State:             StateRecording,
		StartTime:         time.UnixMilli(s.StartTime),
		RecordedContextID: s.RecordedContextID,
		ControlContextID:  s.ControlContextID,
		OriginContextID:   s.OriginContextID,
	}
}

// DeviceConfig carries capture preferences chosen in the UI. The coordinator
// forwards it to the capture sandbox untouched.
type DeviceConfig struct {
	MicrophoneID string `json:"microphoneId,omitempty"`
	CameraID     string `json:"cameraId,omitempty"`
	Audio        bool   `json:"audio,omitempty"`
	FrameRate    int    `json:"frameRate,omitempty"`
}

// Recording is the completion metadata stored once a session stops.
type Recording struct {
	SessionID   string    `json:"sessionId"`
	Mode        Mode      `json:"mode"`
	ArtifactRef string    `json:"artifactRef"`
	StartedAt   time.Time `json:"startedAt"`
	StoppedAt   time.Time `json:"stoppedAt"`
	EventCount  int       `json:"eventCount"`
}
