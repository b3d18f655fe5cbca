package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
)

// Bus is an in-process router between registered contexts. Delivery runs the
// receiver's handler on the caller's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string]Handler)}
}

// Register binds a context id to its handler, replacing any previous one.
func (b *Bus) Register(id string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = h
}

// Unregister destroys a context. Later deliveries to it are unreachable.
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Endpoint returns a Transport that stamps outgoing messages with from.
func (b *Bus) Endpoint(from string) *Endpoint {
	return &Endpoint{bus: b, from: from}
}

func (b *Bus) handler(id string) (Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[id]
	return h, ok
}

// Endpoint is one context's view of a Bus.
type Endpoint struct {
	bus  *Bus
	from string
}

// Send delivers env to the context to.
func (e *Endpoint) Send(ctx context.Context, to string, env protocol.Envelope) protocol.Outcome {
	h, ok := e.bus.handler(to)
	if !ok {
		return protocol.Outcome{To: to, Err: protocol.ErrUnreachable}
	}
	env.From = e.from
	_, err := h.HandleMessage(ctx, e.from, env)
	return protocol.Outcome{To: to, Err: err}
}

// Request delivers env to to and returns the handler's reply.
func (e *Endpoint) Request(ctx context.Context, to string, env protocol.Envelope) (protocol.Envelope, error) {
	h, ok := e.bus.handler(to)
	if !ok {
		return protocol.Envelope{}, fmt.Errorf("%s to %s: %w", env.Type, to, protocol.ErrUnreachable)
	}
	env.From = e.from

	type result struct {
		reply protocol.Envelope
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := h.HandleMessage(ctx, e.from, env)
		done <- result{reply, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return protocol.Envelope{}, r.err
		}
		return r.reply, r.reply.Err()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Envelope{}, fmt.Errorf("%s to %s: %w", env.Type, to, protocol.ErrTimeout)
		}
		return protocol.Envelope{}, ctx.Err()
	}
}
