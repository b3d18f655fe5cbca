package pageagent

import (
	"time"

	"github.com/vincentbai/browsetrace-recorder/internal/dom"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

type typingSession struct {
	el    dom.Element
	start time.Time
	end   time.Time
	rect  models.Rect // CSS
}

type scrollSession struct {
	target dom.Element
	start  time.Time
	last   time.Time
	rect   models.Rect // CSS
}

// focusTick opens, extends or flushes the typing session from the deep-focused
// element and keystroke recency.
func (a *Agent) focusTick(at time.Time) {
	if !a.recording {
		return
	}
	el := a.host.ActiveElement()
	implicit := dom.ImplicitTyping(el)
	editable := implicit || dom.IsTextEntry(el)
	recent := implicit || (!a.lastKey.IsZero() && at.Sub(a.lastKey) <= a.cfg.TypingRecency)

	if s := a.typing; s != nil {
		if s.el == el && editable && recent {
			s.end = at
			s.rect = dom.TypingContainer(el)
			return
		}
		a.flushTyping()
	}
	if el != nil && editable && recent && !dom.IsPassword(el) {
		a.typing = &typingSession{el: el, start: at, end: at, rect: dom.TypingContainer(el)}
	}
}

func (a *Agent) flushTyping() {
	s := a.typing
	if s == nil {
		return
	}
	a.typing = nil
	if s.end.Sub(s.start) < a.cfg.TypingMinDuration {
		return
	}
	a.emit(models.Typing(a.rel(s.start), a.physicalRect(s.rect), a.rel(s.end)), true)
}

func (a *Agent) scrolled(sig Signal) {
	if !a.recording {
		return
	}
	if a.scroll != nil && a.scroll.target != sig.Target {
		a.flushScroll()
	}
	rect := models.Rect{Width: a.host.Viewport().Width, Height: a.host.Viewport().Height}
	if sig.Target != nil {
		rect = sig.Target.Rect()
	}
	if a.scroll == nil {
		a.scroll = &scrollSession{target: sig.Target, start: sig.At, last: sig.At, rect: rect}
		return
	}
	a.scroll.last = sig.At
	a.scroll.rect = rect
}

func (a *Agent) flushScroll() {
	s := a.scroll
	if s == nil {
		return
	}
	a.scroll = nil
	if s.last.Sub(s.start) < a.cfg.ScrollMinDuration {
		return
	}
	a.emit(models.Scroll(a.rel(s.start), a.physicalRect(s.rect), a.rel(s.last)), true)
}
