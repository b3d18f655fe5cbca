// Package domtest provides an in-memory page for exercising code written
// against dom.Host and dom.Element.
package domtest

import (
	"context"
	"sync"

	"github.com/vincentbai/browsetrace-recorder/internal/dom"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

// Node is a fake element. Build trees with El and Shadow.
type Node struct {
	TagName  string
	Attrs    map[string]string
	Box      models.Rect
	Styles   dom.Style
	Editable bool

	parent   *Node
	host     *Node
	children []*Node
}

// El creates a node with the given children attached.
func El(tag string, box models.Rect, style dom.Style, children ...*Node) *Node {
	n := &Node{TagName: tag, Box: box, Styles: style, Attrs: map[string]string{}}
	n.Append(children...)
	return n
}

// With sets an attribute and returns n.
func (n *Node) With(name, value string) *Node {
	n.Attrs[name] = value
	return n
}

// Append attaches children to n.
func (n *Node) Append(children ...*Node) {
	for _, c := range children {
		c.parent = n
		n.children = append(n.children, c)
	}
}

// Shadow attaches children as the top of a shadow tree hosted by n.
func (n *Node) Shadow(children ...*Node) {
	for _, c := range children {
		c.host = n
		n.children = append(n.children, c)
	}
}

func (n *Node) Tag() string             { return n.TagName }
func (n *Node) Attr(name string) string { return n.Attrs[name] }
func (n *Node) Rect() models.Rect       { return n.Box }
func (n *Node) Style() dom.Style        { return n.Styles }
func (n *Node) IsContentEditable() bool { return n.Editable }

func (n *Node) Parent() dom.Element {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *Node) ShadowHost() dom.Element {
	if n.host == nil {
		return nil
	}
	return n.host
}

func (n *Node) Children() []dom.Element {
	out := make([]dom.Element, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

func (n *Node) PreviousSiblings() []dom.Element {
	owner := n.parent
	if owner == nil {
		owner = n.host
	}
	if owner == nil {
		return nil
	}
	var out []dom.Element
	for _, c := range owner.children {
		if c == n {
			break
		}
		out = append(out, c)
	}
	return out
}

// Host is a fake page. Zero values mean: DPR 1, focused, visible.
type Host struct {
	mu sync.Mutex

	DPR      float64
	Size     models.Size
	Blurred  bool
	Hidden   bool
	Location string
	Root     *Node
	Active   *Node

	// Hit overrides hit-testing when set.
	Hit func(p models.Point) *Node

	BlurMode   bool
	Countdowns []int

	nextID    int
	mutations map[int]func([]dom.Element)
	resizes   map[int]resizeWatch
}

type resizeWatch struct {
	node *Node
	fn   func()
}

// NewHost returns a host for root with a viewport of w x h CSS pixels.
func NewHost(root *Node, w, h float64) *Host {
	return &Host{
		DPR:       1,
		Size:      models.Size{Width: w, Height: h},
		Location:  "https://example.com/",
		Root:      root,
		mutations: map[int]func([]dom.Element){},
		resizes:   map[int]resizeWatch{},
	}
}

func (h *Host) DevicePixelRatio() float64 {
	if h.DPR == 0 {
		return 1
	}
	return h.DPR
}

func (h *Host) Viewport() models.Size { return h.Size }
func (h *Host) HasFocus() bool        { return !h.Blurred }
func (h *Host) Visible() bool         { return !h.Hidden }
func (h *Host) URL() string           { return h.Location }

func (h *Host) ElementFromPoint(p models.Point) dom.Element {
	var n *Node
	if h.Hit != nil {
		n = h.Hit(p)
	} else if h.Root != nil {
		n = deepest(h.Root, p)
	}
	if n == nil {
		return nil
	}
	return n
}

// deepest returns the last-painted node containing p.
func deepest(n *Node, p models.Point) *Node {
	if !n.Box.Contains(p) {
		return nil
	}
	for i := len(n.children) - 1; i >= 0; i-- {
		if hit := deepest(n.children[i], p); hit != nil {
			return hit
		}
	}
	return n
}

func (h *Host) ActiveElement() dom.Element {
	if h.Active == nil {
		return nil
	}
	return h.Active
}

func (h *Host) ObserveMutations(fn func(added []dom.Element)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.mutations[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.mutations, id)
	}
}

func (h *Host) ObserveResize(el dom.Element, fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	node, _ := el.(*Node)
	h.resizes[id] = resizeWatch{node: node, fn: fn}
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.resizes, id)
	}
}

func (h *Host) RunCountdown(ctx context.Context, seconds int) error {
	h.mu.Lock()
	h.Countdowns = append(h.Countdowns, seconds)
	h.mu.Unlock()
	return ctx.Err()
}

func (h *Host) SetBlur(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.BlurMode = enabled
}

// Insert appends child under parent and notifies mutation observers.
func (h *Host) Insert(parent, child *Node) {
	parent.Append(child)
	h.mu.Lock()
	fns := make([]func([]dom.Element), 0, len(h.mutations))
	for _, fn := range h.mutations {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn([]dom.Element{child})
	}
}

// Resize changes the node's box and notifies its resize observers.
func (h *Host) Resize(n *Node, box models.Rect) {
	n.Box = box
	h.mu.Lock()
	var fns []func()
	for _, w := range h.resizes {
		if w.node == n {
			fns = append(fns, w.fn)
		}
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Observers returns how many observers are still installed.
func (h *Host) Observers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.mutations) + len(h.resizes)
}
