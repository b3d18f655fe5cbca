// Package hovercard finds the outermost card-like container under the
// pointer from DOM and style signals alone, and tracks how long the pointer
// dwells on it.
package hovercard

import (
	"math"

	"github.com/vincentbai/browsetrace-recorder/internal/dom"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

// sameSizeTolerance is how far (CSS px) two boxes may differ and still count
// as one visual box for radius bubbling.
const sameSizeTolerance = 2

// Criteria bound what counts as a card.
type Criteria struct {
	// MinSize is the minimum width and height in physical pixels. Zero
	// accepts any enclosing match.
	MinSize float64
	// MaxViewportFraction caps each dimension relative to the viewport.
	MaxViewportFraction float64
}

// Match is a detected card.
type Match struct {
	Element dom.Element
	// Rect is in CSS pixels.
	Rect models.Rect
	// Radius is per corner in CSS pixels: top-left, top-right,
	// bottom-right, bottom-left.
	Radius [4]float64
}

// Detect ascends from start to the document root and returns the farthest
// ancestor that looks like a card.
func Detect(host dom.Host, start dom.Element, c Criteria) (Match, bool) {
	var (
		best     Match
		found    bool
		prevRect models.Rect
		carry    [4]float64
		havePrev bool
	)
	viewport := host.Viewport()
	dpr := host.DevicePixelRatio()

	for el := start; el != nil; el = dom.Ascend(el) {
		rect := el.Rect()
		style := el.Style()

		radius := dom.CornerRadii(style, rect.Width)
		if havePrev && sameSize(rect, prevRect) {
			for i := range radius {
				radius[i] = math.Max(radius[i], carry[i])
			}
		}
		carry, prevRect, havePrev = radius, rect, true

		if !dom.Rendered(style) || !sized(rect, viewport, dpr, c) || !inViewport(rect, viewport) {
			continue
		}
		if !hasVisualSignal(el, style, viewport) {
			continue
		}
		best = Match{Element: el, Rect: rect, Radius: radius}
		found = true
	}
	return best, found
}

func sameSize(a, b models.Rect) bool {
	return math.Abs(a.Width-b.Width) <= sameSizeTolerance &&
		math.Abs(a.Height-b.Height) <= sameSizeTolerance
}

func sized(r models.Rect, viewport models.Size, dpr float64, c Criteria) bool {
	if r.Empty() {
		return false
	}
	if r.Width*dpr < c.MinSize || r.Height*dpr < c.MinSize {
		return false
	}
	frac := c.MaxViewportFraction
	if frac <= 0 {
		frac = 1
	}
	return r.Width <= viewport.Width*frac && r.Height <= viewport.Height*frac
}

func inViewport(r models.Rect, viewport models.Size) bool {
	return r.Within(models.Rect{Width: viewport.Width, Height: viewport.Height})
}

func hasVisualSignal(el dom.Element, style dom.Style, viewport models.Size) bool {
	if dom.HasShadow(style) || dom.HasVisibleBorder(style) {
		return true
	}
	if dom.Alpha(style.BackgroundColor) > 0 {
		return true
	}
	return inFrontOfBackdrop(el, viewport)
}

// inFrontOfBackdrop reports a full-viewport translucent layer on the parent
// or on a preceding sibling, the usual shape of a modal.
func inFrontOfBackdrop(el dom.Element, viewport models.Size) bool {
	if parent := dom.Ascend(el); parent != nil && isBackdrop(parent, viewport) {
		return true
	}
	for _, sib := range el.PreviousSiblings() {
		if isBackdrop(sib, viewport) {
			return true
		}
	}
	return false
}

func isBackdrop(el dom.Element, viewport models.Size) bool {
	style := el.Style()
	if !dom.Rendered(style) {
		return false
	}
	a := dom.Alpha(style.BackgroundColor)
	if a <= 0 || a >= 1 {
		return false
	}
	r := el.Rect()
	return r.X <= 0 && r.Y <= 0 && r.Right() >= viewport.Width && r.Bottom() >= viewport.Height
}
