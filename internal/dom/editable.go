package dom

import (
	"strings"

	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

// textInputTypes are the <input> types that accept free text.
var textInputTypes = map[string]bool{
	"":         true,
	"text":     true,
	"search":   true,
	"email":    true,
	"url":      true,
	"tel":      true,
	"number":   true,
	"password": true,
}

var textRoles = map[string]bool{
	"textbox":    true,
	"searchbox":  true,
	"combobox":   true,
	"spinbutton": true,
}

// IsPassword reports a password input.
func IsPassword(el Element) bool {
	return el != nil && el.Tag() == "input" && strings.EqualFold(el.Attr("type"), "password")
}

// IsTextEntry reports elements that accept typed characters: text-capable
// inputs, textareas, content-editable regions and ARIA text roles.
func IsTextEntry(el Element) bool {
	if el == nil {
		return false
	}
	switch el.Tag() {
	case "input":
		return textInputTypes[strings.ToLower(el.Attr("type"))]
	case "textarea":
		return true
	}
	if el.IsContentEditable() {
		return true
	}
	return textRoles[strings.ToLower(el.Attr("role"))]
}

// ImplicitTyping reports focused elements whose keystrokes the agent cannot
// observe (canvases and frames), which count as typing whenever focused.
func ImplicitTyping(el Element) bool {
	if el == nil {
		return false
	}
	switch el.Tag() {
	case "canvas":
		return Alpha(el.Style().BackgroundColor) > 0 || el.Attr("tabindex") != ""
	case "iframe":
		return true
	}
	return false
}

// TypingContainer returns the rectangle to highlight while el is being typed
// into: the owning form when there is one, then the nearest ancestor with a
// visible size.
func TypingContainer(el Element) models.Rect {
	start := el
	for cur := el; cur != nil; cur = Ascend(cur) {
		if cur.Tag() == "form" {
			start = cur
			break
		}
	}
	for cur := start; cur != nil; cur = Ascend(cur) {
		if r := cur.Rect(); !r.Empty() && Rendered(cur.Style()) {
			return r
		}
	}
	return el.Rect()
}
