// Package transport carries protocol envelopes between contexts. Delivery is
// best-effort: a message to a context that is gone fails with
// protocol.ErrUnreachable and is never retried.
package transport

import (
	"context"

	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
)

// Handler processes a message addressed to one context. The returned envelope
// is the reply for request/response messages and is ignored otherwise.
type Handler interface {
	HandleMessage(ctx context.Context, from string, env protocol.Envelope) (protocol.Envelope, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, from string, env protocol.Envelope) (protocol.Envelope, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, from string, env protocol.Envelope) (protocol.Envelope, error) {
	return f(ctx, from, env)
}

// Sender delivers fire-and-forget messages.
type Sender interface {
	Send(ctx context.Context, to string, env protocol.Envelope) protocol.Outcome
}

// Transport delivers both fire-and-forget and request/response messages.
type Transport interface {
	Sender
	// Request blocks until the reply arrives or ctx ends. A missed deadline is
	// reported as protocol.ErrTimeout.
	Request(ctx context.Context, to string, env protocol.Envelope) (protocol.Envelope, error)
}
