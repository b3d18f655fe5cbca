package pageagent

import (
	"time"

	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

// press is a buffered pointerdown waiting for its pointerup.
type press struct {
	at    time.Time
	start models.Point // physical
	path  []models.Point
}

func (a *Agent) pointerMove(sig Signal) {
	a.mouse, a.haveMouse = sig.Point, true
	if a.press != nil {
		a.press.path = append(a.press.path, a.physical(sig.Point))
	}
	if a.recording {
		a.cards.PointerMove(sig.Point, sig.At)
	}
}

func (a *Agent) pointerDown(sig Signal) {
	a.mouse, a.haveMouse = sig.Point, true
	if !a.recording {
		return
	}
	a.flushScroll()
	pos := a.physical(sig.Point)
	a.press = &press{at: sig.At, start: pos, path: []models.Point{pos}}
}

func (a *Agent) pointerUp(sig Signal) {
	a.mouse, a.haveMouse = sig.Point, true
	p := a.press
	a.press = nil
	if p == nil || !a.recording {
		return
	}

	end := a.physical(sig.Point)
	if last := p.path[len(p.path)-1]; last != end {
		p.path = append(p.path, end)
	}

	held := sig.At.Sub(p.at)
	moved := p.start.Distance(end)
	if held <= a.cfg.ClickMaxDuration && moved < a.cfg.ClickMaxDistance {
		var size models.Size
		if el := a.host.ElementFromPoint(sig.Point); el != nil {
			size = a.physicalRect(el.Rect()).Size()
		}
		a.emit(models.Click(a.rel(p.at), p.start, size), true)
		return
	}
	a.emit(models.Drag(a.rel(p.at), p.start, p.path, a.rel(sig.At)), true)
}

// mouseTick emits the pointer position when it changed since the last
// emission, and runs the time-based flushes.
func (a *Agent) mouseTick(at time.Time) {
	if !a.recording {
		return
	}
	if a.haveMouse {
		pos := a.physical(a.mouse)
		if a.lastSent == nil || *a.lastSent != pos {
			if a.emit(models.MousePosition(a.rel(at), pos), true) {
				a.lastSent = &pos
			}
		}
	}
	if a.scroll != nil && at.Sub(a.scroll.last) >= a.cfg.ScrollIdle {
		a.flushScroll()
	}
	a.cards.Tick(at)
}
