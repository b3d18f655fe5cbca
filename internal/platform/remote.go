// Package platform reaches the host browser through a shim context connected
// to the transport. Every capability the coordinator needs is one HOST_*
// request to the shim.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vincentbai/browsetrace-recorder/internal/coordinator"
	"github.com/vincentbai/browsetrace-recorder/internal/models"
	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
	"github.com/vincentbai/browsetrace-recorder/internal/transport"
)

// ErrNoContext is returned when the host answers without a context id.
var ErrNoContext = errors.New("platform: host returned no context")

// Remote implements coordinator.Platform over a transport.
type Remote struct {
	t       transport.Transport
	host    string
	timeout time.Duration
}

var _ coordinator.Platform = (*Remote)(nil)

// NewRemote returns a Remote that sends HOST_* requests to the host context.
// timeout bounds every request except the source picker, which waits on the
// user.
func NewRemote(t transport.Transport, host string, timeout time.Duration) *Remote {
	return &Remote{t: t, host: host, timeout: timeout}
}

func (r *Remote) call(ctx context.Context, typ protocol.Type, payload, out any, bounded bool) error {
	env, err := protocol.New(typ, "", payload)
	if err != nil {
		return err
	}
	if bounded && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	reply, err := r.t.Request(ctx, r.host, env)
	if err != nil {
		return fmt.Errorf("platform: %s: %w", typ, err)
	}
	if out == nil {
		return nil
	}
	if err := reply.Decode(out); err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	return nil
}

func (r *Remote) contextID(ctx context.Context, typ protocol.Type) (string, error) {
	var ref protocol.ContextRef
	if err := r.call(ctx, typ, nil, &ref, true); err != nil {
		return "", err
	}
	if ref.ContextID == "" {
		return "", fmt.Errorf("%w: %s", ErrNoContext, typ)
	}
	return ref.ContextID, nil
}

func (r *Remote) ActiveTab(ctx context.Context) (string, error) {
	return r.contextID(ctx, protocol.TypeHostActiveTab)
}

func (r *Remote) CreateSandbox(ctx context.Context) (string, error) {
	return r.contextID(ctx, protocol.TypeHostCreateSandbox)
}

func (r *Remote) CloseSandbox(ctx context.Context, id string) error {
	return r.call(ctx, protocol.TypeHostCloseSandbox, protocol.ContextRef{ContextID: id}, nil, true)
}

func (r *Remote) TabStream(ctx context.Context, tabID string) (string, error) {
	var resp protocol.TabStreamResponse
	if err := r.call(ctx, protocol.TypeHostTabStream, protocol.TabStreamRequest{TabID: tabID}, &resp, true); err != nil {
		return "", err
	}
	if resp.StreamID == "" {
		return "", fmt.Errorf("platform: no stream for tab %s", tabID)
	}
	return resp.StreamID, nil
}

func (r *Remote) OpenControlSurface(ctx context.Context) (string, error) {
	return r.contextID(ctx, protocol.TypeHostOpenControlSurface)
}

func (r *Remote) CloseControlSurface(ctx context.Context, id string) error {
	return r.call(ctx, protocol.TypeHostCloseControlSurface, protocol.ContextRef{ContextID: id}, nil, true)
}

// ChooseSource blocks until the user picks a source or dismisses the picker.
func (r *Remote) ChooseSource(ctx context.Context, controlID string, mode models.Mode) (string, error) {
	var resp protocol.ChooseSourceResponse
	req := protocol.ChooseSourceRequest{ControlContextID: controlID, Mode: mode}
	if err := r.call(ctx, protocol.TypeHostChooseSource, req, &resp, false); err != nil {
		return "", err
	}
	if resp.Cancelled {
		return "", coordinator.ErrUserAborted
	}
	return resp.SourceID, nil
}

func (r *Remote) Focus(ctx context.Context, contextID string) error {
	return r.call(ctx, protocol.TypeHostFocus, protocol.ContextRef{ContextID: contextID}, nil, true)
}

func (r *Remote) PageContexts(ctx context.Context) ([]string, error) {
	var list protocol.ContextList
	if err := r.call(ctx, protocol.TypeHostPageContexts, nil, &list, true); err != nil {
		return nil, err
	}
	return list.ContextIDs, nil
}
