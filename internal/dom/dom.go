// Package dom describes the slice of a browser page the page agent reads:
// elements with their computed style and geometry, and the page-level signals
// the host exposes. Implementations live with the host; the agent only reads.
package dom

import (
	"context"

	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

// Style holds the computed style values the heuristics consult, as the
// browser reports them (e.g. "rgba(0, 0, 0, 0.5)", "12px", "none").
type Style struct {
	Display         string
	Visibility      string
	BoxShadow       string
	Filter          string
	BackgroundColor string
	// Corner order: top-left, top-right, bottom-right, bottom-left.
	BorderRadius [4]string
	// Side order: top, right, bottom, left.
	BorderWidth [4]float64
	BorderStyle [4]string
	BorderColor [4]string
	ClipPath    string
}

// Element is one node of the rendered page. Implementations must be
// comparable so the agent can tell whether focus or hover stayed on the same
// element.
type Element interface {
	// Tag is the lower-case tag name.
	Tag() string
	// Attr returns the attribute value, or "" when absent.
	Attr(name string) string
	// Rect is the bounding client rectangle in CSS pixels.
	Rect() models.Rect
	Style() Style
	// Parent is nil at the document root and at the top of a shadow tree.
	Parent() Element
	// ShadowHost is the host element when this node sits at the top of a
	// shadow tree, nil otherwise.
	ShadowHost() Element
	Children() []Element
	// PreviousSiblings returns the siblings before this node in document
	// order.
	PreviousSiblings() []Element
	IsContentEditable() bool
}

// Host is the page environment the agent is embedded in.
type Host interface {
	DevicePixelRatio() float64
	// Viewport is the layout viewport in CSS pixels.
	Viewport() models.Size
	HasFocus() bool
	Visible() bool
	URL() string
	// ElementFromPoint hit-tests a CSS-pixel point. It returns nil when
	// nothing is there.
	ElementFromPoint(p models.Point) Element
	// ActiveElement returns the deep-focused element, descending through
	// shadow roots and same-origin frames. It returns nil when nothing has
	// focus.
	ActiveElement() Element
	// ObserveMutations calls fn with the root of every subtree inserted
	// anywhere in the document until cancel is called.
	ObserveMutations(fn func(added []Element)) (cancel func())
	// ObserveResize calls fn whenever el changes size until cancel is
	// called.
	ObserveResize(el Element, fn func()) (cancel func())
	// RunCountdown shows the in-page countdown overlay and returns once it
	// has finished or ctx ends.
	RunCountdown(ctx context.Context, seconds int) error
	SetBlur(enabled bool)
}

// Ascend returns the next element up the tree, hopping from the top of a
// shadow tree to its host.
func Ascend(el Element) Element {
	if parent := el.Parent(); parent != nil {
		return parent
	}
	return el.ShadowHost()
}
