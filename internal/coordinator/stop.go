package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/vincentbai/browsetrace-recorder/internal/models"
	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
)

// Stop ends the current session and returns the finished artifact. Stopping
// while idle is a successful no-op. A stop during start cancels the start and
// returns once it has unwound to idle; a start that already reached recording
// is allowed to finish and is then stopped. Concurrent stops share one
// teardown.
func (c *Coordinator) Stop(ctx context.Context) (protocol.StopSessionResponse, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return protocol.StopSessionResponse{}, err
	}

	var cancelled string
settle:
	for {
		c.mu.Lock()
		s := c.session
		switch {
		case !s.Active():
			c.mu.Unlock()
			return protocol.StopSessionResponse{SessionID: cancelled}, nil

		case s.State == models.StateStopping:
			done := c.stopDone
			c.mu.Unlock()
			if err := wait(ctx, done); err != nil {
				return protocol.StopSessionResponse{}, err
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.lastStop, nil

		case c.starting != nil:
			done := c.starting
			if s.State != models.StateRecording && c.cancelStart != nil {
				c.cancelStart()
				cancelled = s.ID
				c.logger.Info("coordinator: start cancelled by stop", "session_id", s.ID, "state", s.State)
			}
			c.mu.Unlock()
			if err := wait(ctx, done); err != nil {
				return protocol.StopSessionResponse{}, err
			}
			continue

		default:
			// Recording with no start in flight.
			break settle
		}
	}

	s := c.session
	next, err := transition(s, models.StateStopping)
	if err != nil {
		c.mu.Unlock()
		return protocol.StopSessionResponse{}, err
	}
	done := make(chan struct{})
	c.stopDone = done
	c.applyLocked(next)
	c.mu.Unlock()

	resp, err := c.finish(ctx, s)

	c.mu.Lock()
	c.lastStop = resp
	c.applyLocked(models.Session{State: models.StateIdle})
	close(done)
	c.mu.Unlock()
	return resp, err
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish runs the stop sequence for s. Every step runs even when an earlier
// one failed; the first hard failure is returned.
func (c *Coordinator) finish(ctx context.Context, s models.Session) (protocol.StopSessionResponse, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StopTimeout)
	defer cancel()

	resp := protocol.StopSessionResponse{SessionID: s.ID}
	c.broadcastStop(ctx, s)

	var errs []error
	var video protocol.StopVideoResponse
	if err := c.request(ctx, s.ControlContextID, protocol.TypeStopRecordingVideo, s.ID, nil, c.cfg.StopTimeout, &video); err != nil {
		c.logger.Warn("coordinator: stop video", "session_id", s.ID, "context", s.ControlContextID, "error", err)
		errs = append(errs, fmt.Errorf("coordinator: stop video: %w", err))
	}
	resp.ArtifactRef = video.ArtifactRef

	rec := models.Recording{
		SessionID:   s.ID,
		Mode:        s.Mode,
		ArtifactRef: video.ArtifactRef,
		StartedAt:   s.StartTime,
		StoppedAt:   c.now(),
	}
	if err := c.store.SaveRecording(ctx, rec); err != nil {
		errs = append(errs, fmt.Errorf("coordinator: save recording: %w", err))
	}

	c.teardown(ctx, s)
	if err := c.store.ClearSnapshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("coordinator: clear snapshot: %w", err))
	}

	sessionsCompleted.WithLabelValues(string(s.Mode)).Inc()
	sessionActive.Set(0)
	c.logger.Info("coordinator: session stopped",
		"session_id", s.ID, "artifact", resp.ArtifactRef, "duration", rec.StoppedAt.Sub(s.StartTime))
	return resp, errors.Join(errs...)
}

// broadcastStop tells every page agent that might be recording to stop.
// Delivery is best-effort.
func (c *Coordinator) broadcastStop(ctx context.Context, s models.Session) {
	targets, err := c.platform.PageContexts(ctx)
	if err != nil {
		c.logger.Debug("coordinator: list page contexts", "session_id", s.ID, "error", err)
	}
	if s.Mode == models.ModeTab && s.RecordedContextID != "" {
		targets = append(targets, s.RecordedContextID)
	}

	env, err := protocol.New(protocol.TypeStopRecordingEvents, s.ID, nil)
	if err != nil {
		return
	}
	seen := make(map[string]bool, len(targets))
	for _, id := range targets {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		c.discard(c.transport.Send(ctx, id, env), env.Type)
	}
}

// teardown closes whatever surface the session owned.
func (c *Coordinator) teardown(ctx context.Context, s models.Session) {
	if s.ControlContextID == "" {
		return
	}
	var err error
	if s.Mode == models.ModeTab {
		err = c.platform.CloseSandbox(ctx, s.ControlContextID)
	} else {
		err = c.platform.CloseControlSurface(ctx, s.ControlContextID)
	}
	if err != nil {
		c.logger.Warn("coordinator: teardown", "session_id", s.ID, "context", s.ControlContextID, "error", err)
	}
}

// ContextClosed reacts to the host reporting a closed context. Losing the
// recorded tab in tab mode, or the capture sandbox or control surface in any
// mode, stops the session.
func (c *Coordinator) ContextClosed(ctx context.Context, contextID string) {
	c.autoStop(ctx, contextID, true)
}

// ConnectionLost reacts to a context's transport connection ending. Page
// agents reconnect on every navigation, so only the loss of the capture
// sandbox or control surface stops the session.
func (c *Coordinator) ConnectionLost(ctx context.Context, contextID string) {
	c.autoStop(ctx, contextID, false)
}

func (c *Coordinator) autoStop(ctx context.Context, contextID string, tabClosed bool) {
	if err := c.ensureLoaded(ctx); err != nil {
		c.logger.Warn("coordinator: context closed", "context", contextID, "error", err)
		return
	}
	s := c.current()
	if !s.Active() || contextID == "" {
		return
	}
	owned := contextID == s.ControlContextID ||
		(tabClosed && s.Mode == models.ModeTab && contextID == s.RecordedContextID)
	if !owned {
		return
	}
	c.logger.Info("coordinator: session context closed, stopping", "session_id", s.ID, "context", contextID)
	if _, err := c.Stop(ctx); err != nil {
		c.logger.Warn("coordinator: auto-stop", "session_id", s.ID, "error", err)
	}
}
