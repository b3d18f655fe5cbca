package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vincentbai/browsetrace-recorder/internal/protocol"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// HubConfig controls websocket connection behaviour.
type HubConfig struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (c *HubConfig) defaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// conn is one connected context. inbox holds its fire-and-forget envelopes
// in arrival order.
type conn struct {
	id    string
	ws    *websocket.Conn
	send  chan []byte
	inbox chan protocol.Envelope
	once  sync.Once
}

func (c *conn) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub accepts websocket connections from remote contexts (capture sandboxes,
// the control surface, page agents, the host shim) and routes envelopes
// between them and the local handler. It implements Transport for the local
// side.
type Hub struct {
	cfg      HubConfig
	local    Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	conns   map[string]*conn
	pending map[string]chan protocol.Envelope
	onClose []func(id string)
}

// NewHub creates a Hub that dispatches incoming non-reply messages to local.
func NewHub(cfg HubConfig, local Handler, logger *slog.Logger) *Hub {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:    cfg,
		local:  local,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Contexts are extension pages and content scripts with
			// chrome-extension:// or page origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:   make(map[string]*conn),
		pending: make(map[string]chan protocol.Envelope),
	}
}

// SetHandler replaces the local handler. It must be called before serving.
func (h *Hub) SetHandler(local Handler) {
	h.local = local
}

// OnClose registers fn to be called with the id of every context whose
// connection ends.
func (h *Hub) OnClose(fn func(id string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClose = append(h.onClose, fn)
}

// ServeHTTP upgrades the request and registers the connection under the
// "context" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("context")
	if id == "" {
		http.Error(w, "context query parameter required", http.StatusBadRequest)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("transport: websocket upgrade failed", "context", id, "error", err)
		return
	}
	ws.SetReadLimit(h.cfg.MaxMessageSize)

	c := &conn{
		id:    id,
		ws:    ws,
		send:  make(chan []byte, h.cfg.SendBuffer),
		inbox: make(chan protocol.Envelope, h.cfg.SendBuffer),
	}
	h.register(c)

	go h.writePump(c)
	go h.inboxPump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	old := h.conns[c.id]
	h.conns[c.id] = c
	h.mu.Unlock()
	if old != nil {
		old.close()
	}
	h.logger.Info("transport: context connected", "context", c.id)
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	current, ok := h.conns[c.id]
	if ok && current == c {
		delete(h.conns, c.id)
	}
	callbacks := append([]func(string){}, h.onClose...)
	h.mu.Unlock()
	c.close()

	if ok && current == c {
		h.logger.Info("transport: context disconnected", "context", c.id)
		for _, fn := range callbacks {
			fn(c.id)
		}
	}
}

// Connected reports whether a context currently holds a connection.
func (h *Hub) Connected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

// ConnectionCount returns the number of connected contexts.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) readPump(c *conn) {
	defer func() {
		close(c.inbox)
		h.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("transport: websocket read failed", "context", c.id, "error", err)
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn("transport: invalid envelope", "context", c.id, "error", err)
			continue
		}
		env.From = c.id
		h.dispatch(c, env)
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("transport: websocket write failed", "context", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) dispatch(c *conn, env protocol.Envelope) {
	if env.Type == protocol.TypeReply {
		h.mu.Lock()
		ch, ok := h.pending[env.RequestID]
		delete(h.pending, env.RequestID)
		h.mu.Unlock()
		if ok {
			ch <- env
		}
		return
	}
	if h.local == nil {
		return
	}
	if env.RequestID == "" {
		c.inbox <- env
		return
	}

	// A request handler may block on further requests to this same
	// connection, so it never runs on the read pump.
	go func() {
		reply, err := h.local.HandleMessage(context.Background(), c.id, env)
		if err != nil {
			reply = protocol.ErrorReply(env, err)
		}
		reply.Type = protocol.TypeReply
		reply.RequestID = env.RequestID
		if out := h.Send(context.Background(), c.id, reply); !out.Delivered() {
			h.logger.Debug("transport: reply dropped", "context", c.id, "error", out.Err)
		}
	}()
}

// inboxPump hands one connection's fire-and-forget envelopes to the local
// handler one at a time, in the order they were read.
func (h *Hub) inboxPump(c *conn) {
	for env := range c.inbox {
		if _, err := h.local.HandleMessage(context.Background(), c.id, env); err != nil {
			h.logger.Debug("transport: message handler failed", "context", c.id, "type", env.Type, "error", err)
		}
	}
}

// Send queues env for the context to.
func (h *Hub) Send(_ context.Context, to string, env protocol.Envelope) protocol.Outcome {
	data, err := json.Marshal(env)
	if err != nil {
		return protocol.Outcome{To: to, Err: fmt.Errorf("marshal envelope: %w", err)}
	}

	h.mu.RLock()
	c, ok := h.conns[to]
	h.mu.RUnlock()
	if !ok {
		return protocol.Outcome{To: to, Err: protocol.ErrUnreachable}
	}

	return trySend(c, data)
}

// trySend queues data without blocking. A connection being torn down may
// already have a closed channel.
func trySend(c *conn, data []byte) (out protocol.Outcome) {
	out.To = c.id
	defer func() {
		if recover() != nil {
			out.Err = protocol.ErrUnreachable
		}
	}()
	select {
	case c.send <- data:
	default:
		out.Err = ErrBufferFull
	}
	return out
}

// Request sends env with a fresh request id and waits for the matching reply.
func (h *Hub) Request(ctx context.Context, to string, env protocol.Envelope) (protocol.Envelope, error) {
	env.RequestID = uuid.NewString()
	ch := make(chan protocol.Envelope, 1)

	h.mu.Lock()
	h.pending[env.RequestID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, env.RequestID)
		h.mu.Unlock()
	}()

	if out := h.Send(ctx, to, env); !out.Delivered() {
		return protocol.Envelope{}, fmt.Errorf("%s to %s: %w", env.Type, to, out.Err)
	}

	select {
	case reply := <-ch:
		return reply, reply.Err()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Envelope{}, fmt.Errorf("%s to %s: %w", env.Type, to, protocol.ErrTimeout)
		}
		return protocol.Envelope{}, ctx.Err()
	}
}
