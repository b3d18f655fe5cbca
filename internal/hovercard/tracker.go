package hovercard

import (
	"time"

	"github.com/vincentbai/browsetrace-recorder/internal/dom"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

// opaqueAlpha is the background alpha at which an inserted element counts as
// covering the card.
const opaqueAlpha = 0.999

// Config controls card tracking.
type Config struct {
	Criteria
	Dwell         time.Duration
	MoveThreshold float64
	ProbeDelay    time.Duration
}

// Report is a card the pointer dwelled on long enough. Geometry is in
// physical pixels.
type Report struct {
	Rect   models.Rect
	Radius [4]float64
	Start  time.Time
	End    time.Time
}

// InvalidationKind says which observer fired.
type InvalidationKind int

const (
	Resized InvalidationKind = iota + 1
	Inserted
)

// Invalidation is an observer callback turned into a message. Generation ties
// it to the session whose observers produced it; stale ones are ignored.
type Invalidation struct {
	Kind       InvalidationKind
	Generation uint64
	Added      []dom.Element
}

// Tracker runs the hovered-card session lifecycle. It is not safe for
// concurrent use; observer callbacks never call it directly but hand an
// Invalidation to post, and the owner feeds it back through Invalidate.
type Tracker struct {
	host   dom.Host
	cfg    Config
	post   func(Invalidation)
	report func(Report)

	gen  uint64
	open *session

	point     models.Point
	havePoint bool
	lastMove  time.Time
	probed    bool
}

type session struct {
	el     dom.Element
	rect   models.Rect
	radius [4]float64
	start  time.Time
	gen    uint64
	stop   []func()
}

// NewTracker creates a Tracker. post receives observer invalidations and
// report receives every card held for at least cfg.Dwell.
func NewTracker(host dom.Host, cfg Config, post func(Invalidation), report func(Report)) *Tracker {
	return &Tracker{host: host, cfg: cfg, post: post, report: report}
}

// Current returns the card of the open session.
func (t *Tracker) Current() (Match, bool) {
	if t.open == nil {
		return Match{}, false
	}
	return Match{Element: t.open.el, Rect: t.open.rect, Radius: t.open.radius}, true
}

// PointerMove handles a pointer position in CSS pixels.
func (t *Tracker) PointerMove(p models.Point, now time.Time) {
	t.point, t.havePoint = p, true
	t.lastMove, t.probed = now, false

	if s := t.open; s != nil {
		live := s.el.Rect()
		if live.Contains(p) && !live.Moved(s.rect, t.cfg.MoveThreshold) {
			return
		}
		t.end(now)
	}
	t.detect(p, now)
}

// Tick probes the last pointer position once the pointer has been silent for
// ProbeDelay. A silent pointer over a frame means the frame swallows its
// events, so the frame itself becomes the card.
func (t *Tracker) Tick(now time.Time) {
	if !t.havePoint || t.probed || now.Sub(t.lastMove) < t.cfg.ProbeDelay {
		return
	}
	t.probed = true

	frame := enclosingFrame(t.host.ElementFromPoint(t.point))
	if frame == nil {
		return
	}
	if t.open != nil && t.open.el == frame {
		return
	}
	t.end(now)
	if r := frame.Rect(); !r.Empty() {
		t.begin(frame, r, [4]float64{}, now)
	}
}

// Invalidate applies an observer invalidation.
func (t *Tracker) Invalidate(inv Invalidation, now time.Time) {
	s := t.open
	if s == nil || inv.Generation != s.gen {
		return
	}
	switch inv.Kind {
	case Resized:
		if !s.el.Rect().Moved(s.rect, t.cfg.MoveThreshold) {
			return
		}
	case Inserted:
		if !coversOutside(inv.Added, s.el.Rect()) {
			return
		}
	default:
		return
	}
	t.end(now)
	if t.havePoint {
		t.detect(t.point, now)
	}
}

// Close ends any open session and forgets the pointer.
func (t *Tracker) Close(now time.Time) {
	t.end(now)
	t.havePoint = false
}

func (t *Tracker) detect(p models.Point, now time.Time) {
	el := t.host.ElementFromPoint(p)
	if el == nil {
		return
	}
	if m, ok := Detect(t.host, el, t.cfg.Criteria); ok {
		t.begin(m.Element, m.Rect, m.Radius, now)
	}
}

func (t *Tracker) begin(el dom.Element, rect models.Rect, radius [4]float64, now time.Time) {
	t.gen++
	gen := t.gen
	s := &session{el: el, rect: rect, radius: radius, start: now, gen: gen}
	s.stop = append(s.stop,
		t.host.ObserveMutations(func(added []dom.Element) {
			t.post(Invalidation{Kind: Inserted, Generation: gen, Added: added})
		}),
		t.host.ObserveResize(el, func() {
			t.post(Invalidation{Kind: Resized, Generation: gen})
		}),
	)
	t.open = s
}

func (t *Tracker) end(now time.Time) {
	s := t.open
	if s == nil {
		return
	}
	t.open = nil
	for _, stop := range s.stop {
		stop()
	}
	if now.Sub(s.start) < t.cfg.Dwell {
		return
	}
	dpr := t.host.DevicePixelRatio()
	var radius [4]float64
	for i, r := range s.radius {
		radius[i] = r * dpr
	}
	t.report(Report{Rect: s.rect.Scale(dpr), Radius: radius, Start: s.start, End: now})
}

func enclosingFrame(el dom.Element) dom.Element {
	for cur := el; cur != nil; cur = dom.Ascend(cur) {
		if cur.Tag() == "iframe" {
			return cur
		}
	}
	return nil
}

// coversOutside reports whether any inserted element, or any of its
// descendants, paints an opaque background beyond bounds.
func coversOutside(added []dom.Element, bounds models.Rect) bool {
	for _, el := range added {
		r := el.Rect()
		if !r.Empty() && !r.Within(bounds) && dom.Alpha(el.Style().BackgroundColor) >= opaqueAlpha {
			return true
		}
		if coversOutside(el.Children(), bounds) {
			return true
		}
	}
	return false
}
