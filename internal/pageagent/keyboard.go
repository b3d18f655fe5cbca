package pageagent

import (
	"github.com/vincentbai/browsetrace-recorder/internal/dom"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

// specialKeys are captured even inside text fields.
var specialKeys = map[string]bool{
	"Enter":     true,
	"Tab":       true,
	"Escape":    true,
	"Backspace": true,
	"Delete":    true,
}

func (a *Agent) keyDown(sig Signal) {
	if !a.recording {
		return
	}
	a.flushScroll()
	a.lastKey = sig.At

	target := sig.Target
	if target == nil {
		target = a.host.ActiveElement()
	}
	if dom.IsPassword(target) {
		return
	}
	isInput := dom.IsTextEntry(target)
	if isInput && !sig.Modifiers.Chorded() && !specialKeys[sig.Key] {
		return
	}
	a.emit(models.KeyDown(a.rel(sig.At), sig.Key, sig.Modifiers, isInput), true)
}

func (a *Agent) navigated(sig Signal) {
	if !a.recording {
		return
	}
	a.flushScroll()
	url := sig.URL
	if url == "" {
		url = a.host.URL()
	}
	a.emit(models.URLChange(a.rel(sig.At), url), false)
}
