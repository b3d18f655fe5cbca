package models

// EventKind names one InteractionEvent variant.
type EventKind string

const (
	KindMousePosition EventKind = "mouse_position"
	KindClick         EventKind = "click"
	KindDrag          EventKind = "drag"
	KindScroll        EventKind = "scroll"
	KindTyping        EventKind = "typing"
	KindKeyDown       EventKind = "keydown"
	KindURLChange     EventKind = "url_change"
	KindHoveredCard   EventKind = "hovered_card"
)

// EventKinds lists every variant, in the order the events table CHECK uses.
var EventKinds = []EventKind{
	KindMousePosition,
	KindClick,
	KindDrag,
	KindScroll,
	KindTyping,
	KindKeyDown,
	KindURLChange,
	KindHoveredCard,
}

// Modifiers is the set of modifier keys held during a KeyDown.
type Modifiers struct {
	Ctrl  bool `json:"ctrl,omitempty"`
	Alt   bool `json:"alt,omitempty"`
	Shift bool `json:"shift,omitempty"`
	Meta  bool `json:"meta,omitempty"`
}

// Chorded reports whether a non-shift modifier is held.
func (m Modifiers) Chorded() bool {
	return m.Ctrl || m.Alt || m.Meta
}

// InteractionEvent is one classified user interaction. Coordinates are device
// physical pixels and Time/EndTime are milliseconds since session start. Only
// the fields belonging to Kind are set.
type InteractionEvent struct {
	Kind EventKind `json:"kind"`
	Time int64     `json:"time"`

	Pos          *Point      `json:"pos,omitempty"`          // mouse_position, click
	ElementSize  *Size       `json:"elementSize,omitempty"`  // click
	StartPos     *Point      `json:"startPos,omitempty"`     // drag
	Path         []Point     `json:"path,omitempty"`         // drag
	TargetRect   *Rect       `json:"targetRect,omitempty"`   // scroll, typing, hovered_card
	CornerRadius *[4]float64 `json:"cornerRadius,omitempty"` // hovered_card
	EndTime      int64       `json:"endTime,omitempty"`      // drag, scroll, typing, hovered_card
	Key          string      `json:"key,omitempty"`          // keydown
	Modifiers    *Modifiers  `json:"modifiers,omitempty"`    // keydown
	IsInput      bool        `json:"isInput,omitempty"`      // keydown
	URL          string      `json:"url,omitempty"`          // url_change
}

func MousePosition(t int64, pos Point) InteractionEvent {
	return InteractionEvent{Kind: KindMousePosition, Time: t, Pos: &pos}
}

func Click(t int64, pos Point, size Size) InteractionEvent {
	return InteractionEvent{Kind: KindClick, Time: t, Pos: &pos, ElementSize: &size}
}

func Drag(t int64, start Point, path []Point, end int64) InteractionEvent {
	return InteractionEvent{Kind: KindDrag, Time: t, StartPos: &start, Path: path, EndTime: end}
}

func Scroll(t int64, target Rect, end int64) InteractionEvent {
	return InteractionEvent{Kind: KindScroll, Time: t, TargetRect: &target, EndTime: end}
}

func Typing(t int64, target Rect, end int64) InteractionEvent {
	return InteractionEvent{Kind: KindTyping, Time: t, TargetRect: &target, EndTime: end}
}

func KeyDown(t int64, key string, mods Modifiers, isInput bool) InteractionEvent {
	return InteractionEvent{Kind: KindKeyDown, Time: t, Key: key, Modifiers: &mods, IsInput: isInput}
}

func URLChange(t int64, url string) InteractionEvent {
	return InteractionEvent{Kind: KindURLChange, Time: t, URL: url}
}

func HoveredCard(t int64, target Rect, radius [4]float64, end int64) InteractionEvent {
	return InteractionEvent{Kind: KindHoveredCard, Time: t, TargetRect: &target, CornerRadius: &radius, EndTime: end}
}

// Batch is the body accepted by the /events ingestion endpoint.
type Batch struct {
	SessionID string             `json:"sessionId"`
	Events    []InteractionEvent `json:"events"`
}
