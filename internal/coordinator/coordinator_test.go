package coordinator_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace-recorder/internal/config"
	"github.com/vincentbai/browsetrace-recorder/internal/coordinator"
	"github.com/vincentbai/browsetrace-recorder/internal/coordinator/coordinatortest"
	"github.com/vincentbai/browsetrace-recorder/internal/database"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
	"github.com/vincentbai/browsetrace-recorder/internal/transport"
)

var t0 = time.UnixMilli(1700000000000)

func fastConfig() config.CoordinatorConfig {
	return config.CoordinatorConfig{
		ReadyAttempts:    3,
		ReadyInterval:    20 * time.Millisecond,
		RequestTimeout:   200 * time.Millisecond,
		ViewportTimeout:  200 * time.Millisecond,
		CountdownSeconds: 3,
		CountdownTimeout: 100 * time.Millisecond,
		StopTimeout:      500 * time.Millisecond,
	}
}

type harness struct {
	bus      *transport.Bus
	db       *database.Database
	sandbox  *coordinatortest.Sandbox
	platform *coordinatortest.Platform
	page     *coordinatortest.Page
	coord    *coordinator.Coordinator

	mu          sync.Mutex
	transitions []models.State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "recorder.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{bus: transport.NewBus(), db: db, sandbox: &coordinatortest.Sandbox{}}
	h.platform = coordinatortest.NewPlatform(h.bus, h.sandbox)
	h.page = &coordinatortest.Page{Out: h.bus.Endpoint("tab-1"), Width: 2560, Height: 1600}
	h.bus.Register("tab-1", h.page)
	h.coord = h.newCoordinator(fastConfig())
	return h
}

// newCoordinator simulates a fresh process over the same storage and bus.
func (h *harness) newCoordinator(cfg config.CoordinatorConfig, opts ...coordinator.Option) *coordinator.Coordinator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]coordinator.Option{
		coordinator.WithClock(func() time.Time { return t0 }),
		coordinator.WithSessionIDs(func() string { return "s1" }),
		coordinator.WithTransitionHook(func(_, to models.State) {
			h.mu.Lock()
			h.transitions = append(h.transitions, to)
			h.mu.Unlock()
		}),
	}, opts...)
	c := coordinator.New(cfg, h.bus.Endpoint(protocol.CoordinatorID), h.platform, h.db, logger, opts...)
	h.bus.Register(protocol.CoordinatorID, c)
	return c
}

func (h *harness) states() []models.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.State(nil), h.transitions...)
}

func (h *harness) state(t *testing.T) models.State {
	t.Helper()
	s, err := h.coord.Session(context.Background())
	require.NoError(t, err)
	return s.State
}

func tabRequest() protocol.StartSessionRequest {
	return protocol.StartSessionRequest{Mode: models.ModeTab, TabID: "tab-1"}
}

func TestTabSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.coord.StartSession(ctx, tabRequest(), "popup")
	require.NoError(t, err)
	assert.Equal(t, "s1", id)

	snap, err := h.db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.IsRecording)
	assert.Equal(t, "tab-1", snap.RecordedContextID)
	assert.Equal(t, "sandbox-1", snap.ControlContextID)
	assert.Equal(t, t0.UnixMilli(), snap.StartTime)

	assert.Equal(t, 1, h.page.Count(protocol.TypeStartCountdown))
	assert.Equal(t, 1, h.page.Count(protocol.TypeStartRecordingEvents))
	assert.Equal(t, 1, h.sandbox.Count(protocol.TypeStartRecordingVideo))

	resp, err := h.coord.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StopSessionResponse{SessionID: "s1", ArtifactRef: "artifact-s1"}, resp)

	assert.Equal(t, []models.State{
		models.StatePreparing,
		models.StateAwaitingReady,
		models.StateCountdown,
		models.StateRecording,
		models.StateStopping,
		models.StateIdle,
	}, h.states())
	assert.Equal(t, 1, h.page.Count(protocol.TypeStopRecordingEvents))
	assert.Contains(t, h.platform.Called(), "CloseSandbox sandbox-1")

	rec, err := h.db.Recording(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "artifact-s1", rec.ArtifactRef)
	assert.Equal(t, models.ModeTab, rec.Mode)

	snap, err = h.db.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStartRejectedWhileActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.StartSession(ctx, tabRequest(), "popup")
	require.NoError(t, err)

	_, err = h.coord.StartSession(ctx, tabRequest(), "popup")
	assert.ErrorIs(t, err, coordinator.ErrSessionActive)
	assert.Equal(t, models.StateRecording, h.state(t))
}

func TestStartRejectsUnknownMode(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.StartSession(context.Background(), protocol.StartSessionRequest{Mode: "desk"}, "popup")
	assert.ErrorIs(t, err, coordinator.ErrConfigurationInvalid)
	assert.Empty(t, h.states())
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	resp, err := h.coord.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.StopSessionResponse{}, resp)
	assert.Empty(t, h.states())
	assert.Zero(t, h.sandbox.Count(protocol.TypeStopRecordingVideo))
}

func TestStartFailuresUnwindToIdle(t *testing.T) {
	tests := []struct {
		name    string
		arrange func(h *harness)
		reason  string
		timeout bool
	}{
		{
			name:    "sandbox never ready",
			arrange: func(h *harness) { h.sandbox.Silent = true },
			reason:  coordinator.ReasonSandboxNotReady,
			timeout: true,
		},
		{
			name:    "countdown never finishes",
			arrange: func(h *harness) { h.page.SkipCountdown = true },
			reason:  coordinator.ReasonCountdownTimeout,
			timeout: true,
		},
		{
			name:    "tab gone before viewport",
			arrange: func(h *harness) { h.bus.Unregister("tab-1") },
			reason:  coordinator.ReasonViewportUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.arrange(h)
			ctx := context.Background()

			_, err := h.coord.StartSession(ctx, tabRequest(), "popup")
			require.Error(t, err)
			assert.Equal(t, tt.reason, coordinator.Reason(err))
			if tt.timeout {
				assert.ErrorIs(t, err, protocol.ErrTimeout)
			}

			assert.Equal(t, models.StateIdle, h.state(t))
			assert.Contains(t, h.platform.Called(), "CloseSandbox sandbox-1")
			assert.Zero(t, h.sandbox.Count(protocol.TypeStartRecordingVideo))
			snap, err := h.db.LoadSnapshot(ctx)
			require.NoError(t, err)
			assert.Nil(t, snap)

			_, err = h.coord.StartSession(ctx, tabRequest(), "popup")
			assert.NotErrorIs(t, err, coordinator.ErrSessionActive)
		})
	}
}

func TestUserAbortUnwindsQuietly(t *testing.T) {
	h := newHarness(t)
	h.platform.Abort = true
	ctx := context.Background()

	req := protocol.MustNew(protocol.TypeStartSession, "", protocol.StartSessionRequest{Mode: models.ModeWindow})
	reply, err := h.bus.Endpoint("popup").Request(ctx, protocol.CoordinatorID, req)
	require.NoError(t, err)

	var resp protocol.StartSessionResponse
	require.NoError(t, reply.Decode(&resp))
	assert.True(t, resp.Aborted)
	assert.Empty(t, resp.SessionID)

	assert.Equal(t, models.StateIdle, h.state(t))
	calls := h.platform.Called()
	assert.Contains(t, calls, "CloseControlSurface control-1")
	assert.Equal(t, "Focus popup", calls[len(calls)-1])
}

func TestWindowModeStartsAgentsUnlessControlSurfaceIsCaptured(t *testing.T) {
	tests := []struct {
		name     string
		captures bool
		want     int
	}{
		{name: "other window captured", captures: false, want: 1},
		{name: "control surface captured", captures: true, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.sandbox.CapturesControlSurface = tt.captures
			h.platform.Contexts = []string{"tab-1"}

			_, err := h.coord.StartSession(context.Background(), protocol.StartSessionRequest{Mode: models.ModeWindow}, "popup")
			require.NoError(t, err)

			assert.Equal(t, tt.want, h.page.Count(protocol.TypeStartRecordingEvents))
			assert.Equal(t, 1, h.sandbox.Count(protocol.TypeStartRecordingVideo))
			assert.Contains(t, h.platform.Called(), "Focus popup")
			assert.NotContains(t, h.states(), models.StateCountdown)
		})
	}
}

func TestRecoversSessionAfterRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.StartSession(ctx, tabRequest(), "popup")
	require.NoError(t, err)

	// The coordinator's memory is wiped; the first message answered by the new
	// instance must already see the recording.
	h.coord = h.newCoordinator(fastConfig())

	state := func(from string) protocol.RecordingState {
		env := protocol.MustNew(protocol.TypeGetRecordingState, "", nil)
		reply, err := h.bus.Endpoint(from).Request(ctx, protocol.CoordinatorID, env)
		require.NoError(t, err)
		var st protocol.RecordingState
		require.NoError(t, reply.Decode(&st))
		return st
	}

	st := state("tab-1")
	assert.True(t, st.IsRecording)
	assert.Equal(t, "s1", st.SessionID)
	assert.Equal(t, t0.UnixMilli(), st.StartTime)
	assert.False(t, state("tab-2").IsRecording, "only the recorded tab sees itself recording")

	resp, err := h.coord.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "artifact-s1", resp.ArtifactRef)
}

// countingStore counts snapshot loads and makes each one slow enough for
// callers to overlap.
type countingStore struct {
	*database.Database
	loads atomic.Int32
}

func (s *countingStore) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	s.loads.Add(1)
	time.Sleep(20 * time.Millisecond)
	return s.Database.LoadSnapshot(ctx)
}

func TestConcurrentFirstAccessLoadsOnce(t *testing.T) {
	h := newHarness(t)
	store := &countingStore{Database: h.db}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := coordinator.New(fastConfig(), h.bus.Endpoint(protocol.CoordinatorID), h.platform, store, logger)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetState(context.Background(), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), store.loads.Load())
}

func TestClosingRecordedTabStopsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.StartSession(ctx, tabRequest(), "popup")
	require.NoError(t, err)

	closed := protocol.MustNew(protocol.TypeHostContextClosed, "", protocol.ContextRef{ContextID: "tab-2"})
	require.True(t, h.bus.Endpoint("host").Send(ctx, protocol.CoordinatorID, closed).Delivered())
	closed = protocol.MustNew(protocol.TypeHostContextClosed, "", protocol.ContextRef{ContextID: "tab-1"})
	require.True(t, h.bus.Endpoint("host").Send(ctx, protocol.CoordinatorID, closed).Delivered())

	assert.Eventually(t, func() bool {
		return h.state(t) == models.StateIdle
	}, time.Second, 10*time.Millisecond)
	rec, err := h.db.Recording(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "artifact-s1", rec.ArtifactRef)
}

func TestStopDuringStartCancelsIt(t *testing.T) {
	h := newHarness(t)
	h.page.SkipCountdown = true
	cfg := fastConfig()
	cfg.CountdownTimeout = 5 * time.Second
	h.coord = h.newCoordinator(cfg)

	errc := make(chan error, 1)
	go func() {
		_, err := h.coord.StartSession(context.Background(), tabRequest(), "popup")
		errc <- err
	}()
	require.Eventually(t, func() bool {
		return h.state(t) == models.StateCountdown
	}, time.Second, 5*time.Millisecond)

	resp, err := h.coord.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s1", resp.SessionID)

	// The stop returns only once the start has unwound.
	assert.Equal(t, models.StateIdle, h.state(t))
	assert.Contains(t, h.platform.Called(), "CloseSandbox sandbox-1")
	_, err = h.coord.StartSession(context.Background(), protocol.StartSessionRequest{Mode: models.ModeTab, TabID: "tab-gone"}, "popup")
	assert.NotErrorIs(t, err, coordinator.ErrSessionActive)
	assert.Equal(t, coordinator.ReasonViewportUnavailable, coordinator.Reason(err))

	select {
	case err := <-errc:
		assert.Equal(t, coordinator.ReasonCancelled, coordinator.Reason(err))
	case <-time.After(time.Second):
		t.Fatal("start did not return after stop")
	}
	assert.Zero(t, h.sandbox.Count(protocol.TypeStartRecordingVideo))
}

func TestStopWaitsForStartReachingRecording(t *testing.T) {
	h := newHarness(t)
	hold := make(chan struct{})
	h.sandbox.HoldStart = hold
	ctx := context.Background()

	type result struct {
		id  string
		err error
	}
	started := make(chan result, 1)
	go func() {
		id, err := h.coord.StartSession(ctx, tabRequest(), "popup")
		started <- result{id, err}
	}()
	require.Eventually(t, func() bool {
		return h.sandbox.Count(protocol.TypeStartRecordingVideo) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, models.StateRecording, h.state(t))

	stopped := make(chan protocol.StopSessionResponse, 1)
	go func() {
		resp, err := h.coord.Stop(ctx)
		assert.NoError(t, err)
		stopped <- resp
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, models.StateRecording, h.state(t), "stop must not overtake the start")
	assert.Zero(t, h.sandbox.Count(protocol.TypeStopRecordingVideo))
	close(hold)

	r := <-started
	require.NoError(t, r.err)
	assert.Equal(t, "s1", r.id)

	select {
	case resp := <-stopped:
		assert.Equal(t, "artifact-s1", resp.ArtifactRef)
	case <-time.After(time.Second):
		t.Fatal("stop did not finish")
	}
	assert.Equal(t, models.StateIdle, h.state(t))
	assert.Equal(t, []protocol.Type{
		protocol.TypeSandboxReady,
		protocol.TypePrepareRecordingVideo,
		protocol.TypeStartRecordingVideo,
		protocol.TypeStopRecordingVideo,
	}, h.sandbox.Types())

	snap, err := h.db.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestClosingControlSurfaceStopsWindowSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.StartSession(ctx, protocol.StartSessionRequest{Mode: models.ModeWindow}, "popup")
	require.NoError(t, err)

	closed := protocol.MustNew(protocol.TypeHostContextClosed, "", protocol.ContextRef{ContextID: "control-1"})
	require.True(t, h.bus.Endpoint("host").Send(ctx, protocol.CoordinatorID, closed).Delivered())

	assert.Eventually(t, func() bool {
		return h.state(t) == models.StateIdle
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.sandbox.Count(protocol.TypeStopRecordingVideo))
	assert.Contains(t, h.platform.Called(), "CloseControlSurface control-1")

	rec, err := h.db.Recording(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ModeWindow, rec.Mode)
	assert.Equal(t, "artifact-s1", rec.ArtifactRef)
}

func TestLostConnectionStopsOnlyForCaptureSurface(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.StartSession(ctx, tabRequest(), "popup")
	require.NoError(t, err)

	// A page agent's socket drops on every navigation of the recorded tab.
	h.coord.ConnectionLost(ctx, "tab-1")
	assert.Equal(t, models.StateRecording, h.state(t))
	assert.Zero(t, h.sandbox.Count(protocol.TypeStopRecordingVideo))

	h.coord.ConnectionLost(ctx, "sandbox-1")
	assert.Equal(t, models.StateIdle, h.state(t))
	assert.Equal(t, 1, h.sandbox.Count(protocol.TypeStopRecordingVideo))
}

func TestFirstAccessSurvivesCancelledCaller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.StartSession(ctx, tabRequest(), "popup")
	require.NoError(t, err)

	c := h.newCoordinator(fastConfig())
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	st, err := c.GetState(cancelled, "")
	require.NoError(t, err)
	assert.True(t, st.IsRecording)
	assert.Equal(t, "s1", st.SessionID)
}

func TestCaptureForwardsEventsOfRecordingSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ev := models.MousePosition(100, models.Point{X: 10, Y: 20})
	assert.ErrorIs(t, h.coord.Capture(ctx, "s1", []models.InteractionEvent{ev}), coordinator.ErrNoActiveSession)

	_, err := h.coord.StartSession(ctx, tabRequest(), "popup")
	require.NoError(t, err)

	require.NoError(t, h.coord.Capture(ctx, "s1", []models.InteractionEvent{ev}))
	assert.ErrorIs(t, h.coord.Capture(ctx, "s0", []models.InteractionEvent{ev}), coordinator.ErrNoActiveSession)

	assert.Equal(t, []models.InteractionEvent{ev}, h.sandbox.Events())
	n, err := h.db.CountEvents(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
