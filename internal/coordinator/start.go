package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vincentbai/browsetrace-recorder/internal/models"
	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
)

// StartSession starts a recording session and returns its id. origin is the
// context that asked for it; focus returns there in window and screen mode.
// A dismissed source picker returns ErrUserAborted after a clean unwind. A
// Stop arriving meanwhile waits until this call has returned.
func (c *Coordinator) StartSession(ctx context.Context, req protocol.StartSessionRequest, origin string) (string, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return "", err
	}
	if !req.Mode.Valid() {
		return "", fmt.Errorf("%w: unknown mode %q", ErrConfigurationInvalid, req.Mode)
	}

	c.mu.Lock()
	if c.session.Active() {
		c.mu.Unlock()
		return "", ErrSessionActive
	}
	id := c.newID()
	s, err := transition(models.Session{ID: id, Mode: req.Mode, OriginContextID: origin}, models.StatePreparing)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	startCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancelStart = cancel
	c.starting = done
	c.applyLocked(s)
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		if c.starting == done {
			c.starting = nil
			c.cancelStart = nil
		}
		c.mu.Unlock()
		close(done)
	}()

	c.logger.Info("coordinator: starting session", "session_id", id, "mode", req.Mode)
	if req.Mode == models.ModeTab {
		err = c.startTab(startCtx, id, req)
	} else {
		err = c.startWindow(startCtx, id, req)
	}
	if err != nil {
		c.unwind(id, err)
		return "", err
	}
	sessionsStarted.WithLabelValues(string(req.Mode)).Inc()
	sessionActive.Set(1)
	c.logger.Info("coordinator: recording", "session_id", id, "mode", req.Mode)
	return id, nil
}

func (c *Coordinator) startTab(ctx context.Context, id string, req protocol.StartSessionRequest) error {
	tabID := req.TabID
	if tabID == "" {
		active, err := c.platform.ActiveTab(ctx)
		if err != nil {
			return startErr(ReasonNoTarget, err)
		}
		tabID = active
	}
	if tabID == "" {
		return fmt.Errorf("%w: no tab to record", ErrConfigurationInvalid)
	}
	c.update(id, func(s *models.Session) {
		s.RecordedContextID = tabID
		if s.OriginContextID == "" {
			s.OriginContextID = tabID
		}
	})

	sandbox, err := c.platform.CreateSandbox(ctx)
	if err != nil {
		return startErr(ReasonSandboxUnavailable, err)
	}
	c.update(id, func(s *models.Session) { s.ControlContextID = sandbox })

	stream, err := c.platform.TabStream(ctx, tabID)
	if err != nil {
		return startErr(ReasonStreamUnavailable, err)
	}

	if err := c.advance(id, models.StateAwaitingReady, nil); err != nil {
		return err
	}
	if err := c.waitReady(ctx, id, sandbox); err != nil {
		return startErr(ReasonSandboxNotReady, err)
	}

	var viewport protocol.ViewportSize
	err = c.request(ctx, tabID, protocol.TypeGetViewportSize, id, nil, c.cfg.ViewportTimeout, &viewport)
	if err == nil && (viewport.Width <= 0 || viewport.Height <= 0) {
		err = fmt.Errorf("tab %s reported an empty viewport", tabID)
	}
	if err != nil {
		return startErr(ReasonViewportUnavailable, err)
	}

	prepare := protocol.PrepareVideoRequest{
		Mode:     models.ModeTab,
		StreamID: stream,
		Device:   req.Device,
		Viewport: &viewport,
	}
	if err := c.request(ctx, sandbox, protocol.TypePrepareRecordingVideo, id, prepare, c.cfg.RequestTimeout, nil); err != nil {
		return startErr(ReasonPrepareFailed, err)
	}

	if err := c.advance(id, models.StateCountdown, nil); err != nil {
		return err
	}
	if err := c.runCountdown(ctx, id, tabID); err != nil {
		return err
	}
	// Let the countdown overlay leave the frame before capture begins.
	if err := sleep(ctx, c.cfg.OverlayClearance); err != nil {
		return err
	}
	return c.beginRecording(ctx, id, sandbox, []string{tabID})
}

func (c *Coordinator) startWindow(ctx context.Context, id string, req protocol.StartSessionRequest) error {
	origin := c.current().OriginContextID
	if origin == "" {
		if tab, err := c.platform.ActiveTab(ctx); err == nil {
			origin = tab
			c.update(id, func(s *models.Session) { s.OriginContextID = tab })
		}
	}

	control, err := c.platform.OpenControlSurface(ctx)
	if err != nil {
		return startErr(ReasonControlSurface, err)
	}
	c.update(id, func(s *models.Session) { s.ControlContextID = control })

	source, err := c.platform.ChooseSource(ctx, control, req.Mode)
	if errors.Is(err, ErrUserAborted) {
		return err
	}
	if err == nil && source == "" {
		err = errors.New("picker returned no source")
	}
	if err != nil {
		return startErr(ReasonSourcePicker, err)
	}

	if err := c.advance(id, models.StateAwaitingReady, func(s *models.Session) { s.RecordedContextID = source }); err != nil {
		return err
	}

	var prepared protocol.PrepareVideoResponse
	prepare := protocol.PrepareVideoRequest{Mode: req.Mode, SourceID: source, Device: req.Device}
	if err := c.request(ctx, control, protocol.TypePrepareRecordingVideo, id, prepare, c.cfg.RequestTimeout, &prepared); err != nil {
		return startErr(ReasonPrepareFailed, err)
	}

	// Capture starts only once the originating surface is back in front.
	if origin != "" {
		if err := c.platform.Focus(ctx, origin); err != nil {
			c.logger.Warn("coordinator: restore focus", "session_id", id, "context", origin, "error", err)
		}
	}
	if err := sleep(ctx, c.cfg.CaptureWarmup); err != nil {
		return err
	}

	var agents []string
	if prepared.CapturesControlSurface {
		c.logger.Info("coordinator: capturing the control surface, page events disabled", "session_id", id)
	} else {
		agents, err = c.platform.PageContexts(ctx)
		if err != nil {
			c.logger.Warn("coordinator: list page contexts", "session_id", id, "error", err)
		}
	}
	return c.beginRecording(ctx, id, control, agents)
}

// beginRecording starts video on owner, starts events on agents and persists
// the snapshot.
func (c *Coordinator) beginRecording(ctx context.Context, id, owner string, agents []string) error {
	startTime := c.now()
	if err := c.advance(id, models.StateRecording, func(s *models.Session) { s.StartTime = startTime }); err != nil {
		return err
	}

	start := protocol.StartVideoRequest{StartTime: startTime.UnixMilli()}
	if err := c.request(ctx, owner, protocol.TypeStartRecordingVideo, id, start, c.cfg.RequestTimeout, nil); err != nil {
		return startErr(ReasonStartVideoFailed, err)
	}

	env, err := protocol.New(protocol.TypeStartRecordingEvents, id, protocol.StartEventsRequest{StartTime: startTime.UnixMilli()})
	if err != nil {
		return err
	}
	for _, agent := range agents {
		c.discard(c.transport.Send(ctx, agent, env), env.Type)
	}

	if err := c.store.SaveSnapshot(ctx, c.current().Snapshot()); err != nil {
		return startErr(ReasonPersistFailed, err)
	}
	return nil
}

// waitReady polls the sandbox until it acknowledges readiness or the retry
// budget runs out.
func (c *Coordinator) waitReady(ctx context.Context, id, sandbox string) error {
	var last error
	for attempt := 1; attempt <= c.cfg.ReadyAttempts; attempt++ {
		err := c.request(ctx, sandbox, protocol.TypeSandboxReady, id, nil, c.cfg.ReadyInterval, nil)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		last = err
		if err := sleep(ctx, c.cfg.ReadyInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("sandbox %s silent after %d attempts (last: %v): %w",
		sandbox, c.cfg.ReadyAttempts, last, protocol.ErrTimeout)
}

// runCountdown asks the tab to show the countdown and waits for its
// COUNTDOWN_DONE.
func (c *Coordinator) runCountdown(ctx context.Context, id, tabID string) error {
	wait := &countdownWait{sessionID: id, done: make(chan struct{})}
	c.mu.Lock()
	c.countdown = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.countdown == wait {
			c.countdown = nil
		}
		c.mu.Unlock()
	}()

	env, err := protocol.New(protocol.TypeStartCountdown, id, protocol.CountdownRequest{Seconds: c.cfg.CountdownSeconds})
	if err != nil {
		return err
	}
	if out := c.transport.Send(ctx, tabID, env); !out.Delivered() {
		return startErr(ReasonCountdownUnreachable, out.Err)
	}

	timer := time.NewTimer(c.cfg.CountdownTimeout)
	defer timer.Stop()
	select {
	case <-wait.done:
		return nil
	case <-timer.C:
		return startErr(ReasonCountdownTimeout,
			fmt.Errorf("no %s within %s: %w", protocol.TypeCountdownDone, c.cfg.CountdownTimeout, protocol.ErrTimeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) countdownDone(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w := c.countdown; w != nil && w.sessionID == sessionID {
		close(w.done)
		c.countdown = nil
	}
}

// unwind undoes a failed or aborted start and returns to idle.
func (c *Coordinator) unwind(id string, cause error) {
	s := c.current()
	if s.ID != id {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
	defer cancel()

	if s.State == models.StateRecording {
		c.broadcastStop(ctx, s)
	}
	c.teardown(ctx, s)
	if s.Mode != models.ModeTab && s.OriginContextID != "" {
		if err := c.platform.Focus(ctx, s.OriginContextID); err != nil {
			c.logger.Debug("coordinator: restore focus", "session_id", id, "error", err)
		}
	}

	c.mu.Lock()
	c.applyLocked(models.Session{State: models.StateIdle})
	c.mu.Unlock()

	reason := Reason(cause)
	sessionsFailed.WithLabelValues(reason).Inc()
	if reason == ReasonUserAborted {
		c.logger.Info("coordinator: session start aborted by user", "session_id", id)
		return
	}
	c.logger.Warn("coordinator: session start failed", "session_id", id, "reason", reason, "error", cause)
}
