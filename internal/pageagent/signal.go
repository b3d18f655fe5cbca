package pageagent

import (
	"time"

	"github.com/vincentbai/browsetrace-recorder/internal/dom"
	"github.com/vincentbai/browsetrace-recorder/internal/hovercard"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

// SignalKind names a raw page signal.
type SignalKind int

const (
	PointerMove SignalKind = iota + 1
	PointerDown
	PointerUp
	KeyDown
	Scroll
	// Navigate covers history mutations and hash changes.
	Navigate
	VisibilityChange
	// MouseTick and FocusTick are the two polling loops.
	MouseTick
	FocusTick

	invalidate
	start
	stop
)

var signalNames = map[SignalKind]string{
	PointerMove:      "pointer_move",
	PointerDown:      "pointer_down",
	PointerUp:        "pointer_up",
	KeyDown:          "keydown",
	Scroll:           "scroll",
	Navigate:         "navigate",
	VisibilityChange: "visibility_change",
	MouseTick:        "mouse_tick",
	FocusTick:        "focus_tick",
	invalidate:       "invalidate",
	start:            "start",
	stop:             "stop",
}

func (k SignalKind) String() string {
	if name, ok := signalNames[k]; ok {
		return name
	}
	return "unknown"
}

// Signal is one raw page signal. Point is in CSS pixels.
type Signal struct {
	Kind      SignalKind
	At        time.Time
	Point     models.Point
	Target    dom.Element
	Key       string
	Modifiers models.Modifiers
	URL       string

	sessionID    string
	startTime    time.Time
	invalidation hovercard.Invalidation
}
