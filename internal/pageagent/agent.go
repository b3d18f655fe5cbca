// Package pageagent turns raw page signals into classified, timestamped
// interaction events and streams them to the coordinator. Nothing here may
// break the host page: handler panics are recovered and delivery failures
// are dropped.
package pageagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentbai/browsetrace-recorder/internal/config"
	"github.com/vincentbai/browsetrace-recorder/internal/dom"
	"github.com/vincentbai/browsetrace-recorder/internal/hovercard"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
	"github.com/vincentbai/browsetrace-recorder/internal/transport"
)

// Agent is the interaction pipeline of one page. Signals are processed one at
// a time; observer callbacks are queued with Post and drained after the
// signal being handled, so a superseding interaction always flushes the
// session it supersedes first.
type Agent struct {
	cfg    config.AgentConfig
	host   dom.Host
	out    transport.Sender
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	recording bool
	flushing  bool
	sessionID string
	start     time.Time

	mouse     models.Point
	haveMouse bool
	lastSent  *models.Point

	press   *press
	typing  *typingSession
	lastKey time.Time
	scroll  *scrollSession
	cards   *hovercard.Tracker

	qmu     sync.Mutex
	pending []Signal
	wake    chan struct{}
}

// Option customizes an Agent.
type Option func(*Agent)

// WithClock replaces time.Now for signals the agent timestamps itself.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an Agent for host that delivers events through out.
func New(cfg config.AgentConfig, host dom.Host, out transport.Sender, logger *slog.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		cfg:    cfg,
		host:   host,
		out:    out,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.cards = hovercard.NewTracker(host, hovercard.Config{
		Criteria: hovercard.Criteria{
			MinSize:             cfg.CardMinSize,
			MaxViewportFraction: cfg.CardMaxViewportFrac,
		},
		Dwell:         cfg.CardDwell,
		MoveThreshold: cfg.CardMoveThreshold,
		ProbeDelay:    cfg.IframeProbeDelay,
	}, a.postInvalidation, a.reportCard)
	return a
}

// Handle processes sig and then everything queued by Post.
func (a *Agent) Handle(sig Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.process(sig)
	a.drainLocked()
}

// Post queues sig for processing after the current signal. It never blocks
// and is safe to call from observer callbacks.
func (a *Agent) Post(sig Signal) {
	a.qmu.Lock()
	a.pending = append(a.pending, sig)
	a.qmu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Drain processes queued signals.
func (a *Agent) Drain() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drainLocked()
}

func (a *Agent) drainLocked() {
	for {
		a.qmu.Lock()
		if len(a.pending) == 0 {
			a.qmu.Unlock()
			return
		}
		next := a.pending[0]
		a.pending = a.pending[1:]
		a.qmu.Unlock()
		a.process(next)
	}
}

// Run drives the mouse and focus polling loops until ctx ends.
func (a *Agent) Run(ctx context.Context) {
	mouse := time.NewTicker(a.cfg.MousePollInterval)
	defer mouse.Stop()
	focus := time.NewTicker(a.cfg.FocusPollInterval)
	defer focus.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mouse.C:
			a.Handle(Signal{Kind: MouseTick, At: a.now()})
		case <-focus.C:
			a.Handle(Signal{Kind: FocusTick, At: a.now()})
		case <-a.wake:
			a.Drain()
		}
	}
}

// Start begins a recording session anchored at startTime.
func (a *Agent) Start(sessionID string, startTime time.Time) {
	a.Handle(Signal{Kind: start, At: a.now(), sessionID: sessionID, startTime: startTime})
}

// Stop flushes every open session and stops recording.
func (a *Agent) Stop(at time.Time) {
	a.Handle(Signal{Kind: stop, At: at})
}

// Recording reports whether the agent is capturing.
func (a *Agent) Recording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recording
}

func (a *Agent) process(sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("pageagent: signal handler panicked", "signal", sig.Kind.String(), "panic", r)
		}
	}()

	switch sig.Kind {
	case start:
		a.begin(sig)
		return
	case stop:
		a.teardown(sig.At)
		return
	case invalidate:
		if a.recording {
			a.cards.Invalidate(sig.invalidation, sig.At)
		}
		return
	}

	switch sig.Kind {
	case PointerMove:
		a.pointerMove(sig)
	case PointerDown:
		a.pointerDown(sig)
	case PointerUp:
		a.pointerUp(sig)
	case KeyDown:
		a.keyDown(sig)
	case Scroll:
		a.scrolled(sig)
	case Navigate, VisibilityChange:
		a.navigated(sig)
	case MouseTick:
		a.mouseTick(sig.At)
	case FocusTick:
		a.focusTick(sig.At)
	default:
		a.logger.Debug("pageagent: unknown signal", "signal", int(sig.Kind))
	}
}

func (a *Agent) begin(sig Signal) {
	if a.recording {
		a.teardown(sig.At)
	}
	a.recording = true
	a.sessionID = sig.sessionID
	a.start = sig.startTime
	a.lastSent = nil
	a.press = nil
	a.typing = nil
	a.scroll = nil
	a.lastKey = time.Time{}
	a.logger.Info("pageagent: recording events", "session_id", sig.sessionID)
}

func (a *Agent) teardown(at time.Time) {
	if !a.recording {
		return
	}
	a.flushing = true
	a.flushTyping()
	a.flushScroll()
	a.cards.Close(at)
	a.flushing = false

	a.recording = false
	a.press = nil
	a.logger.Info("pageagent: stopped recording events", "session_id", a.sessionID)
}

// active gates emission to pages the user is looking at.
func (a *Agent) active() bool {
	return a.host.HasFocus() && a.host.Visible()
}

// rel converts a wall time to milliseconds since session start.
func (a *Agent) rel(t time.Time) int64 {
	ms := t.Sub(a.start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func (a *Agent) physical(p models.Point) models.Point {
	return p.Scale(a.host.DevicePixelRatio())
}

func (a *Agent) physicalRect(r models.Rect) models.Rect {
	return r.Scale(a.host.DevicePixelRatio())
}

// emit sends ev to the coordinator. Gated events are dropped while the page
// is inactive; teardown flushes are never gated.
func (a *Agent) emit(ev models.InteractionEvent, gated bool) bool {
	if !a.recording {
		return false
	}
	if gated && !a.flushing && !a.active() {
		return false
	}
	env, err := protocol.New(protocol.TypeCaptureUserEvent, a.sessionID, protocol.CaptureUserEvent{Event: ev})
	if err != nil {
		a.logger.Warn("pageagent: encode event", "kind", ev.Kind, "error", err)
		return false
	}
	a.discard(a.out.Send(context.Background(), protocol.CoordinatorID, env), protocol.TypeCaptureUserEvent)
	return true
}

// discard is the delivery policy for fire-and-forget sends: failures are
// logged and dropped, never retried.
func (a *Agent) discard(out protocol.Outcome, t protocol.Type) {
	if out.Delivered() {
		return
	}
	a.logger.Debug("pageagent: delivery dropped", "type", t, "to", out.To, "error", out.Err)
}

func (a *Agent) postInvalidation(inv hovercard.Invalidation) {
	a.Post(Signal{Kind: invalidate, At: a.now(), invalidation: inv})
}

func (a *Agent) reportCard(r hovercard.Report) {
	a.emit(models.HoveredCard(a.rel(r.Start), r.Rect, r.Radius, a.rel(r.End)), true)
}

// HandleMessage serves the coordinator's and the UI's commands.
func (a *Agent) HandleMessage(ctx context.Context, from string, env protocol.Envelope) (protocol.Envelope, error) {
	switch env.Type {
	case protocol.TypeStartRecordingEvents:
		var req protocol.StartEventsRequest
		if err := env.Decode(&req); err != nil {
			return protocol.Envelope{}, err
		}
		a.Start(env.SessionID, time.UnixMilli(req.StartTime))
		return protocol.Envelope{}, nil

	case protocol.TypeStopRecordingEvents:
		a.Stop(a.now())
		return protocol.Envelope{}, nil

	case protocol.TypeStartCountdown:
		var req protocol.CountdownRequest
		if err := env.Decode(&req); err != nil {
			return protocol.Envelope{}, err
		}
		go a.countdown(env.SessionID, req.Seconds)
		return protocol.Envelope{}, nil

	case protocol.TypeGetViewportSize:
		dpr := a.host.DevicePixelRatio()
		vp := a.host.Viewport()
		return protocol.Reply(env, protocol.ViewportSize{
			Width:            vp.Width * dpr,
			Height:           vp.Height * dpr,
			DevicePixelRatio: dpr,
		})

	case protocol.TypeEnableBlurMode:
		a.host.SetBlur(true)
		return protocol.Envelope{}, nil

	case protocol.TypeDisableBlurMode:
		a.host.SetBlur(false)
		return protocol.Envelope{}, nil
	}
	return protocol.Envelope{}, fmt.Errorf("pageagent: unsupported message %s from %s", env.Type, from)
}

func (a *Agent) countdown(sessionID string, seconds int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(seconds+1)*time.Second)
	defer cancel()
	if err := a.host.RunCountdown(ctx, seconds); err != nil {
		a.logger.Warn("pageagent: countdown interrupted", "session_id", sessionID, "error", err)
		return
	}
	env, err := protocol.New(protocol.TypeCountdownDone, sessionID, nil)
	if err != nil {
		return
	}
	a.discard(a.out.Send(context.Background(), protocol.CoordinatorID, env), protocol.TypeCountdownDone)
}
