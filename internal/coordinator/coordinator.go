// Package coordinator owns the canonical recording session. It drives the
// capture sandbox or control surface, commands page agents, forwards their
// interaction events and finalizes the recording. Its memory may be wiped at
// any time; state is rebuilt from the persisted snapshot on first use.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vincentbai/browsetrace-recorder/internal/config"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
	"github.com/vincentbai/browsetrace-recorder/internal/transport"
)

// Platform is the host browser the coordinator runs in.
type Platform interface {
	// ActiveTab returns the context id of the focused tab.
	ActiveTab(ctx context.Context) (string, error)
	CreateSandbox(ctx context.Context) (string, error)
	CloseSandbox(ctx context.Context, id string) error
	// TabStream returns an opaque capture stream handle for a tab.
	TabStream(ctx context.Context, tabID string) (string, error)
	OpenControlSurface(ctx context.Context) (string, error)
	CloseControlSurface(ctx context.Context, id string) error
	// ChooseSource shows the platform source picker on the control surface.
	// A dismissed picker returns ErrUserAborted.
	ChooseSource(ctx context.Context, controlID string, mode models.Mode) (string, error)
	// Focus brings a context to the foreground.
	Focus(ctx context.Context, contextID string) error
	// PageContexts lists every context that may host a page agent.
	PageContexts(ctx context.Context) ([]string, error)
}

// SnapshotRepository persists the durable projection of the session.
type SnapshotRepository interface {
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	SaveSnapshot(ctx context.Context, s models.Snapshot) error
	ClearSnapshot(ctx context.Context) error
}

// EventLog stores forwarded interaction events.
type EventLog interface {
	InsertEvents(ctx context.Context, sessionID string, events []models.InteractionEvent) error
}

// ProjectStore receives finished recordings.
type ProjectStore interface {
	SaveRecording(ctx context.Context, rec models.Recording) error
}

// Store is everything the coordinator persists.
type Store interface {
	SnapshotRepository
	EventLog
	ProjectStore
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSessionIDs replaces the random session id generator.
func WithSessionIDs(next func() string) Option {
	return func(c *Coordinator) { c.newID = next }
}

// WithTransitionHook observes every state change. fn runs with the
// coordinator locked and must not call back into it.
func WithTransitionHook(fn func(from, to models.State)) Option {
	return func(c *Coordinator) { c.onTransition = fn }
}

// Coordinator is the session state machine.
type Coordinator struct {
	cfg          config.CoordinatorConfig
	transport    transport.Transport
	platform     Platform
	store        Store
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
	onTransition func(from, to models.State)

	hydrate singleflight.Group

	mu          sync.Mutex
	loaded      bool
	session     models.Session
	cancelStart context.CancelFunc
	starting    chan struct{}
	countdown   *countdownWait
	stopDone    chan struct{}
	lastStop    protocol.StopSessionResponse
}

type countdownWait struct {
	sessionID string
	done      chan struct{}
}

// New creates a Coordinator. Nothing is loaded until the first call.
func New(cfg config.CoordinatorConfig, t transport.Transport, platform Platform, store Store, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		cfg:       cfg,
		transport: t,
		platform:  platform,
		store:     store,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ensureLoaded rehydrates the session from the snapshot once per process.
// Concurrent callers share a single load.
func (c *Coordinator) ensureLoaded(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded {
		return nil
	}

	_, err, _ := c.hydrate.Do("snapshot", func() (any, error) {
		c.mu.Lock()
		if c.loaded {
			c.mu.Unlock()
			return nil, nil
		}
		c.mu.Unlock()

		// Every waiter shares this load, so it must not die with the first
		// caller's request.
		snap, err := c.store.LoadSnapshot(context.WithoutCancel(ctx))
		if err != nil {
			return nil, fmt.Errorf("coordinator: load snapshot: %w", err)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.session = models.Session{State: models.StateIdle}
		if snap != nil && snap.IsRecording {
			c.session = snap.Session()
			crashRecoveries.Inc()
			sessionActive.Set(1)
			c.logger.Info("coordinator: session recovered from snapshot",
				"session_id", snap.SessionID, "mode", snap.Mode)
		}
		c.loaded = true
		return nil, nil
	})
	return err
}

// Session returns a copy of the current session.
func (c *Coordinator) Session(ctx context.Context) (models.Session, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return models.Session{}, err
	}
	return c.current(), nil
}

func (c *Coordinator) current() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// applyLocked installs next as the session. c.mu must be held.
func (c *Coordinator) applyLocked(next models.Session) {
	from := c.session.State
	if from == "" {
		from = models.StateIdle
	}
	c.session = next
	if from == next.State {
		return
	}
	c.logger.Debug("coordinator: state changed", "session_id", next.ID, "from", from, "to", next.State)
	if c.onTransition != nil {
		c.onTransition(from, next.State)
	}
}

// advance moves session id to state to and applies mutate to it.
func (c *Coordinator) advance(id string, to models.State, mutate func(*models.Session)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.ID != id {
		return fmt.Errorf("%w: session %s is no longer current", ErrInvalidTransition, id)
	}
	next, err := transition(c.session, to)
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(&next)
	}
	c.applyLocked(next)
	return nil
}

// update mutates session id without changing its state.
func (c *Coordinator) update(id string, mutate func(*models.Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.ID == id {
		mutate(&c.session)
	}
}

// GetState reports the session as seen by requester. In tab mode only the
// recorded tab sees itself recording; an empty requester gets the global
// view.
func (c *Coordinator) GetState(ctx context.Context, requester string) (protocol.RecordingState, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return protocol.RecordingState{}, err
	}
	s := c.current()
	st := protocol.RecordingState{State: s.State}
	if st.State == "" {
		st.State = models.StateIdle
	}
	if s.Active() {
		st.SessionID = s.ID
		st.Mode = s.Mode
		if !s.StartTime.IsZero() {
			st.StartTime = s.StartTime.UnixMilli()
		}
	}
	st.IsRecording = s.State == models.StateRecording
	if st.IsRecording && s.Mode == models.ModeTab && requester != "" && requester != s.RecordedContextID {
		st.IsRecording = false
	}
	return st, nil
}

// HandleMessage serves messages addressed to the coordinator. The session is
// rehydrated before anything else is answered.
func (c *Coordinator) HandleMessage(ctx context.Context, from string, env protocol.Envelope) (protocol.Envelope, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return protocol.Envelope{}, err
	}

	switch env.Type {
	case protocol.TypeStartSession:
		var req protocol.StartSessionRequest
		if err := env.Decode(&req); err != nil {
			return protocol.Envelope{}, err
		}
		id, err := c.StartSession(ctx, req, from)
		if err != nil && Reason(err) != ReasonUserAborted {
			return protocol.Envelope{}, err
		}
		return protocol.Reply(env, protocol.StartSessionResponse{SessionID: id, Aborted: err != nil})

	case protocol.TypeStopSession:
		resp, err := c.Stop(ctx)
		if err != nil {
			return protocol.Envelope{}, err
		}
		return protocol.Reply(env, resp)

	case protocol.TypeCountdownDone:
		c.countdownDone(env.SessionID)
		return protocol.Envelope{}, nil

	case protocol.TypeCaptureUserEvent:
		var payload protocol.CaptureUserEvent
		if err := env.Decode(&payload); err != nil {
			return protocol.Envelope{}, err
		}
		return protocol.Envelope{}, c.Capture(ctx, env.SessionID, []models.InteractionEvent{payload.Event})

	case protocol.TypeGetRecordingState:
		st, err := c.GetState(ctx, from)
		if err != nil {
			return protocol.Envelope{}, err
		}
		return protocol.Reply(env, st)

	case protocol.TypeHostContextClosed:
		var ref protocol.ContextRef
		if err := env.Decode(&ref); err != nil {
			return protocol.Envelope{}, err
		}
		go c.ContextClosed(context.Background(), ref.ContextID)
		return protocol.Envelope{}, nil
	}
	return protocol.Envelope{}, fmt.Errorf("coordinator: unsupported message %s from %s", env.Type, from)
}

// Capture accepts interaction events for the recording session, logs them
// and forwards each to the capturing context.
func (c *Coordinator) Capture(ctx context.Context, sessionID string, events []models.InteractionEvent) error {
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	s := c.current()
	if s.State != models.StateRecording || sessionID != s.ID {
		return fmt.Errorf("%w: %q", ErrNoActiveSession, sessionID)
	}
	if len(events) == 0 {
		return nil
	}
	if err := c.store.InsertEvents(ctx, s.ID, events); err != nil {
		return err
	}
	for _, ev := range events {
		env, err := protocol.New(protocol.TypeCaptureUserEvent, s.ID, protocol.CaptureUserEvent{Event: ev})
		if err != nil {
			return err
		}
		c.discard(c.transport.Send(ctx, s.ControlContextID, env), env.Type)
	}
	eventsForwarded.Add(float64(len(events)))
	return nil
}

// discard is the policy for fire-and-forget sends: an undelivered message is
// logged and counted, never retried.
func (c *Coordinator) discard(out protocol.Outcome, t protocol.Type) {
	if out.Delivered() {
		return
	}
	deliveriesDropped.WithLabelValues(string(t)).Inc()
	c.logger.Debug("coordinator: delivery dropped", "type", t, "to", out.To, "error", out.Err)
}

// request sends a request/response message bounded by timeout and decodes
// the reply into out when out is non-nil.
func (c *Coordinator) request(ctx context.Context, to string, t protocol.Type, sessionID string, payload any, timeout time.Duration, out any) error {
	env, err := protocol.New(t, sessionID, payload)
	if err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	reply, err := c.transport.Request(rctx, to, env)
	if err != nil {
		return err
	}
	if out != nil {
		return reply.Decode(out)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
