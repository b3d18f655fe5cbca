// Package coordinatortest provides in-memory stand-ins for the contexts a
// coordinator talks to.
package coordinatortest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vincentbai/browsetrace-recorder/internal/coordinator"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
	"github.com/vincentbai/browsetrace-recorder/internal/transport"
)

// Platform is a scripted host browser. Sandboxes and control surfaces it
// creates are registered on Bus with the Sandbox handler.
type Platform struct {
	mu sync.Mutex

	Bus     *transport.Bus
	Sandbox *Sandbox

	// Tab is returned by ActiveTab.
	Tab string
	// Contexts is returned by PageContexts.
	Contexts []string
	// Source is returned by ChooseSource unless Abort is set.
	Source string
	Abort  bool

	Calls  []string
	opened int
}

// NewPlatform returns a platform whose capture contexts all share sandbox.
func NewPlatform(bus *transport.Bus, sandbox *Sandbox) *Platform {
	return &Platform{Bus: bus, Sandbox: sandbox, Tab: "tab-1", Source: "window:1"}
}

func (p *Platform) record(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, fmt.Sprintf(format, args...))
}

// Called returns the calls made so far.
func (p *Platform) Called() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Calls...)
}

func (p *Platform) open(kind string) string {
	p.mu.Lock()
	p.opened++
	id := fmt.Sprintf("%s-%d", kind, p.opened)
	p.mu.Unlock()
	p.Bus.Register(id, p.Sandbox)
	return id
}

func (p *Platform) ActiveTab(context.Context) (string, error) {
	p.record("ActiveTab")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Tab == "" {
		return "", errors.New("no focused tab")
	}
	return p.Tab, nil
}

func (p *Platform) CreateSandbox(context.Context) (string, error) {
	id := p.open("sandbox")
	p.record("CreateSandbox %s", id)
	return id, nil
}

func (p *Platform) CloseSandbox(_ context.Context, id string) error {
	p.record("CloseSandbox %s", id)
	p.Bus.Unregister(id)
	return nil
}

func (p *Platform) TabStream(_ context.Context, tabID string) (string, error) {
	p.record("TabStream %s", tabID)
	return "stream-" + tabID, nil
}

func (p *Platform) OpenControlSurface(context.Context) (string, error) {
	id := p.open("control")
	p.record("OpenControlSurface %s", id)
	return id, nil
}

func (p *Platform) CloseControlSurface(_ context.Context, id string) error {
	p.record("CloseControlSurface %s", id)
	p.Bus.Unregister(id)
	return nil
}

func (p *Platform) ChooseSource(_ context.Context, controlID string, mode models.Mode) (string, error) {
	p.record("ChooseSource %s %s", controlID, mode)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Abort {
		return "", coordinator.ErrUserAborted
	}
	return p.Source, nil
}

func (p *Platform) Focus(_ context.Context, contextID string) error {
	p.record("Focus %s", contextID)
	return nil
}

func (p *Platform) PageContexts(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Contexts...), nil
}

// Sandbox answers capture requests and keeps the events forwarded to it.
type Sandbox struct {
	mu sync.Mutex

	// CapturesControlSurface is reported by PREPARE_RECORDING_VIDEO.
	CapturesControlSurface bool
	// Silent drops SANDBOX_READY without replying.
	Silent bool
	// HoldStart, when set, delays the START_RECORDING_VIDEO reply until it
	// is closed.
	HoldStart chan struct{}

	received []protocol.Envelope
	events   []models.InteractionEvent
}

func (s *Sandbox) HandleMessage(ctx context.Context, _ string, env protocol.Envelope) (protocol.Envelope, error) {
	s.mu.Lock()
	s.received = append(s.received, env)
	silent := s.Silent
	captures := s.CapturesControlSurface
	hold := s.HoldStart
	s.mu.Unlock()

	switch env.Type {
	case protocol.TypeSandboxReady:
		if silent {
			<-ctx.Done()
			return protocol.Envelope{}, ctx.Err()
		}
		return protocol.Reply(env, nil)
	case protocol.TypePrepareRecordingVideo:
		return protocol.Reply(env, protocol.PrepareVideoResponse{CapturesControlSurface: captures})
	case protocol.TypeStartRecordingVideo:
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return protocol.Envelope{}, ctx.Err()
			}
		}
		return protocol.Reply(env, nil)
	case protocol.TypeStopRecordingVideo:
		return protocol.Reply(env, protocol.StopVideoResponse{ArtifactRef: "artifact-" + env.SessionID})
	case protocol.TypeCaptureUserEvent:
		var payload protocol.CaptureUserEvent
		if err := env.Decode(&payload); err != nil {
			return protocol.Envelope{}, err
		}
		s.mu.Lock()
		s.events = append(s.events, payload.Event)
		s.mu.Unlock()
		return protocol.Envelope{}, nil
	}
	return protocol.Envelope{}, fmt.Errorf("sandbox: unexpected %s", env.Type)
}

// Count returns how many messages of type t arrived.
func (s *Sandbox) Count(t protocol.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.received {
		if env.Type == t {
			n++
		}
	}
	return n
}

// Types returns the types of all messages received, in order.
func (s *Sandbox) Types() []protocol.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Type, len(s.received))
	for i, env := range s.received {
		out[i] = env.Type
	}
	return out
}

// Events returns the forwarded interaction events.
func (s *Sandbox) Events() []models.InteractionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.InteractionEvent(nil), s.events...)
}

// Page is a page agent that only answers the coordinator's start handshake.
type Page struct {
	mu sync.Mutex

	// Out carries COUNTDOWN_DONE back to the coordinator.
	Out transport.Sender
	// Width and Height are reported in physical pixels.
	Width, Height float64
	// SkipCountdown never reports the countdown as finished.
	SkipCountdown bool

	received []protocol.Envelope
}

func (p *Page) HandleMessage(ctx context.Context, _ string, env protocol.Envelope) (protocol.Envelope, error) {
	p.mu.Lock()
	p.received = append(p.received, env)
	skip := p.SkipCountdown
	p.mu.Unlock()

	switch env.Type {
	case protocol.TypeGetViewportSize:
		return protocol.Reply(env, protocol.ViewportSize{Width: p.Width, Height: p.Height, DevicePixelRatio: 1})
	case protocol.TypeStartCountdown:
		if !skip {
			done := protocol.MustNew(protocol.TypeCountdownDone, env.SessionID, nil)
			p.Out.Send(ctx, protocol.CoordinatorID, done)
		}
	}
	return protocol.Envelope{}, nil
}

// Count returns how many messages of type t arrived.
func (p *Page) Count(t protocol.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, env := range p.received {
		if env.Type == t {
			n++
		}
	}
	return n
}
