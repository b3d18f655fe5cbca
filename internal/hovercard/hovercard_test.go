package hovercard_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace-recorder/internal/dom"
	"github.com/vincentbai/browsetrace-recorder/internal/dom/domtest"
	"github.com/vincentbai/browsetrace-recorder/internal/hovercard"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

var (
	white   = dom.Style{BackgroundColor: "rgb(255, 255, 255)"}
	plain   = dom.Style{}
	rounded = dom.Style{BorderRadius: [4]string{"16px", "16px", "16px", "16px"}}
	shadow  = dom.Style{BoxShadow: "rgba(0, 0, 0, 0.2) 0px 4px 12px 0px"}
)

func rect(x, y, w, h float64) models.Rect {
	return models.Rect{X: x, Y: y, Width: w, Height: h}
}

func criteria() hovercard.Criteria {
	return hovercard.Criteria{MinSize: 200, MaxViewportFraction: 0.8}
}

// page lays out a white card whose only child is a rounded wrapper of the
// same size holding a small label.
func page() (*domtest.Host, *domtest.Node, *domtest.Node) {
	label := domtest.El("span", rect(120, 120, 60, 20), plain)
	wrapper := domtest.El("div", rect(100, 100, 400, 300), rounded, label)
	card := domtest.El("div", rect(100, 100, 400, 300), white, wrapper)
	body := domtest.El("body", rect(0, 0, 1280, 800), white, card)
	return domtest.NewHost(body, 1280, 800), card, label
}

func TestDetectBubblesWrapperRadius(t *testing.T) {
	host, card, label := page()

	m, ok := hovercard.Detect(host, label, criteria())
	require.True(t, ok)
	assert.Equal(t, dom.Element(card), m.Element)
	assert.Equal(t, [4]float64{16, 16, 16, 16}, m.Radius)
}

func TestDetectFarthestQualifyingAncestorWins(t *testing.T) {
	inner := domtest.El("div", rect(150, 150, 250, 250), shadow)
	outer := domtest.El("section", rect(100, 100, 600, 500), white, inner)
	body := domtest.El("body", rect(0, 0, 1280, 800), plain, outer)
	host := domtest.NewHost(body, 1280, 800)

	m, ok := hovercard.Detect(host, inner, criteria())
	require.True(t, ok)
	assert.Equal(t, dom.Element(outer), m.Element)
}

func TestDetectRejections(t *testing.T) {
	small := domtest.El("div", rect(10, 10, 150, 150), white)
	offscreen := domtest.El("div", rect(1100, 600, 300, 300), white)
	unstyled := domtest.El("div", rect(100, 100, 300, 300), plain)
	body := domtest.El("body", rect(0, 0, 1280, 800), plain, small, offscreen, unstyled)
	host := domtest.NewHost(body, 1280, 800)

	for name, el := range map[string]*domtest.Node{"too small": small, "clipped": offscreen, "no signal": unstyled} {
		_, ok := hovercard.Detect(host, el, criteria())
		assert.False(t, ok, name)
	}

	// Physical size counts: 150 CSS px at DPR 2 is 300 physical px.
	host.DPR = 2
	_, ok := hovercard.Detect(host, small, criteria())
	assert.True(t, ok)
}

func TestDetectModalBackdrop(t *testing.T) {
	backdrop := domtest.El("div", rect(0, 0, 1280, 800), dom.Style{BackgroundColor: "rgba(0, 0, 0, 0.5)"})
	dialog := domtest.El("div", rect(340, 200, 600, 400), plain)
	body := domtest.El("body", rect(0, 0, 1280, 800), plain, backdrop, dialog)
	host := domtest.NewHost(body, 1280, 800)

	m, ok := hovercard.Detect(host, dialog, criteria())
	require.True(t, ok)
	assert.Equal(t, dom.Element(dialog), m.Element)
}

func TestDetectCrossesShadowRoot(t *testing.T) {
	inner := domtest.El("div", rect(100, 100, 300, 300), plain)
	hostEl := domtest.El("x-card", rect(100, 100, 300, 300), shadow)
	hostEl.Shadow(inner)
	body := domtest.El("body", rect(0, 0, 1280, 800), plain, hostEl)
	host := domtest.NewHost(body, 1280, 800)

	m, ok := hovercard.Detect(host, inner, criteria())
	require.True(t, ok)
	assert.Equal(t, dom.Element(hostEl), m.Element)
}

type recorder struct {
	invalidations []hovercard.Invalidation
	reports       []hovercard.Report
}

func newTracker(host dom.Host) (*hovercard.Tracker, *recorder) {
	rec := &recorder{}
	cfg := hovercard.Config{
		Criteria:      criteria(),
		Dwell:         2000 * time.Millisecond,
		MoveThreshold: 1,
		ProbeDelay:    100 * time.Millisecond,
	}
	tr := hovercard.NewTracker(host, cfg,
		func(inv hovercard.Invalidation) { rec.invalidations = append(rec.invalidations, inv) },
		func(r hovercard.Report) { rec.reports = append(rec.reports, r) })
	return tr, rec
}

func TestDwellThreshold(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	inside := models.Point{X: 200, Y: 200}
	outside := models.Point{X: 900, Y: 700}

	t.Run("1999ms then leave emits nothing", func(t *testing.T) {
		host, _, _ := page()
		tr, rec := newTracker(host)
		tr.PointerMove(inside, t0)
		tr.PointerMove(inside, t0.Add(1500*time.Millisecond))
		tr.PointerMove(outside, t0.Add(1999*time.Millisecond))
		assert.Empty(t, rec.reports)
	})

	t.Run("2000ms then leave emits once", func(t *testing.T) {
		host, _, _ := page()
		host.DPR = 2
		tr, rec := newTracker(host)
		tr.PointerMove(inside, t0)
		tr.PointerMove(outside, t0.Add(2000*time.Millisecond))
		require.Len(t, rec.reports, 1)
		r := rec.reports[0]
		assert.Equal(t, rect(200, 200, 800, 600), r.Rect)
		assert.Equal(t, [4]float64{32, 32, 32, 32}, r.Radius)
		assert.Equal(t, t0, r.Start)
		assert.Equal(t, t0.Add(2000*time.Millisecond), r.End)
	})
}

func TestObserversScopedToSession(t *testing.T) {
	host, _, _ := page()
	tr, _ := newTracker(host)
	t0 := time.Unix(1700000000, 0)

	tr.PointerMove(models.Point{X: 200, Y: 200}, t0)
	assert.Equal(t, 2, host.Observers())

	tr.PointerMove(models.Point{X: 900, Y: 700}, t0.Add(time.Second))
	assert.Equal(t, 0, host.Observers())

	tr.PointerMove(models.Point{X: 200, Y: 200}, t0.Add(2*time.Second))
	tr.Close(t0.Add(3 * time.Second))
	assert.Equal(t, 0, host.Observers())
}

func TestResizeInvalidates(t *testing.T) {
	host, card, _ := page()
	tr, rec := newTracker(host)
	t0 := time.Unix(1700000000, 0)
	tr.PointerMove(models.Point{X: 200, Y: 200}, t0)

	// Sub-pixel jitter keeps the session.
	host.Resize(card, rect(100, 100, 400.5, 300))
	require.Len(t, rec.invalidations, 1)
	tr.Invalidate(rec.invalidations[0], t0.Add(500*time.Millisecond))
	m, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, rect(100, 100, 400, 300), m.Rect)

	host.Resize(card, rect(100, 100, 420, 300))
	require.Len(t, rec.invalidations, 2)
	stale := rec.invalidations[1]
	tr.Invalidate(stale, t0.Add(2500*time.Millisecond))

	// Held past the dwell, so the invalidated session is reported and a new
	// one opens on the re-measured card.
	require.Len(t, rec.reports, 1)
	m, ok = tr.Current()
	require.True(t, ok)
	assert.Equal(t, rect(100, 100, 420, 300), m.Rect)

	// The old session's invalidation is now stale.
	tr.Invalidate(stale, t0.Add(2600*time.Millisecond))
	_, ok = tr.Current()
	assert.True(t, ok)
	assert.Len(t, rec.reports, 1)
}

func TestMutationInvalidatesOnlyOpaqueOverflow(t *testing.T) {
	host, card, _ := page()
	tr, rec := newTracker(host)
	t0 := time.Unix(1700000000, 0)
	tr.PointerMove(models.Point{X: 200, Y: 200}, t0)
	first, _ := tr.Current()

	// Inside the card: ignored.
	host.Insert(card, domtest.El("div", rect(110, 110, 50, 50), white))
	// Outside but translucent: ignored.
	host.Insert(card, domtest.El("div", rect(0, 0, 1280, 800), dom.Style{BackgroundColor: "rgba(0, 0, 0, 0.4)"}))
	for _, inv := range rec.invalidations {
		tr.Invalidate(inv, t0.Add(100*time.Millisecond))
	}
	current, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, first.Element, current.Element)
	assert.Len(t, rec.invalidations, 2)

	// An opaque descendant overflowing the card invalidates.
	overlay := domtest.El("div", rect(0, 0, 10, 10), plain,
		domtest.El("div", rect(50, 50, 700, 500), white))
	host.Insert(card, overlay)
	require.Len(t, rec.invalidations, 3)
	tr.Invalidate(rec.invalidations[2], t0.Add(200*time.Millisecond))
	assert.Empty(t, rec.reports)
	assert.Len(t, rec.invalidations, 3)
}

func TestIframeProbe(t *testing.T) {
	frame := domtest.El("iframe", rect(600, 100, 300, 300), plain)
	body := domtest.El("body", rect(0, 0, 1280, 800), plain, frame)
	host := domtest.NewHost(body, 1280, 800)
	tr, rec := newTracker(host)
	t0 := time.Unix(1700000000, 0)

	tr.PointerMove(models.Point{X: 700, Y: 200}, t0)
	_, ok := tr.Current()
	require.False(t, ok)

	tr.Tick(t0.Add(50 * time.Millisecond))
	_, ok = tr.Current()
	require.False(t, ok)

	tr.Tick(t0.Add(100 * time.Millisecond))
	m, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, dom.Element(frame), m.Element)
	assert.Equal(t, [4]float64{}, m.Radius)

	tr.PointerMove(models.Point{X: 10, Y: 10}, t0.Add(2200*time.Millisecond))
	require.Len(t, rec.reports, 1)
	assert.Equal(t, [4]float64{}, rec.reports[0].Radius)
}
