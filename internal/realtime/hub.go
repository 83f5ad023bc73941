package realtime

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"laundry-sync-backend/config"
	"laundry-sync-backend/internal/apperr"
	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/model"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

type outbound struct {
	msg       Message
	recipient string
}

// Hub fans committed events out to websocket observers. One goroutine owns
// every connection, so each observer sees messages in broadcast order.
type Hub struct {
	identities identity.Provider
	log        *zap.Logger
	upgrader   websocket.Upgrader

	handshakeTimeout time.Duration
	pingInterval     time.Duration
	sendBuffer       int
	pendingLimit     int

	register   chan *conn
	unregister chan *conn
	broadcast  chan outbound
	done       chan struct{}

	// Owned by the Run goroutine.
	view    *View
	conns   map[*conn]struct{}
	byUser  map[string]map[*conn]struct{}
	pending map[string][]Message

	connections atomic.Int64

	// OnInbound, when set, receives every frame an observer sends after the
	// handshake.
	OnInbound func(id identity.Identity, msg Message)
	// OnSlowConsumer, when set, is called for every connection closed because
	// its send buffer filled up.
	OnSlowConsumer func()
}

// NewHub creates a hub. Call Seed before Run to give it the boot state.
func NewHub(identities identity.Provider, cfg config.SyncConfig, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		identities: identities,
		log:        log.Named("hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handshakeTimeout: time.Duration(cfg.HandshakeTimeoutSeconds) * time.Second,
		pingInterval:     time.Duration(cfg.PingIntervalSeconds) * time.Second,
		sendBuffer:       cfg.SendBuffer,
		pendingLimit:     cfg.PendingLimit,
		register:         make(chan *conn),
		unregister:       make(chan *conn),
		broadcast:        make(chan outbound, cfg.HubQueue),
		done:             make(chan struct{}),
		view:             NewView(),
		conns:            make(map[*conn]struct{}),
		byUser:           make(map[string]map[*conn]struct{}),
		pending:          make(map[string][]Message),
	}
}

// Seed loads the state sent to observers on connect.
func (h *Hub) Seed(machines []model.Machine, waitlists map[model.MachineType][]model.WaitlistItem) {
	h.view.Reset(Snapshot{Machines: machines, Waitlists: waitlists})
}

// Connections returns the number of handshaken observers.
func (h *Hub) Connections() int {
	return int(h.connections.Load())
}

// Handle implements event.Handler. It blocks only while the hub inbox is full.
func (h *Hub) Handle(e event.Event) {
	msg, recipient, ok, err := FromEvent(e)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("kind", string(e.Kind)), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	select {
	case h.broadcast <- outbound{msg: msg, recipient: recipient}:
	case <-h.done:
	}
}

// Run serves the hub until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.conns {
				h.drop(c)
			}
			return nil

		case c := <-h.register:
			h.attach(c)

		case c := <-h.unregister:
			h.drop(c)

		case out := <-h.broadcast:
			h.deliver(out)
		}
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.serve(c.Request.Context(), ws)
}

func (h *Hub) serve(ctx context.Context, ws *websocket.Conn) {
	id, err := h.handshake(ctx, ws)
	if err != nil {
		h.log.Info("handshake rejected", zap.String("remote", ws.RemoteAddr().String()), zap.Error(err))
		h.reject(ws, err)
		return
	}

	c := &conn{hub: h, ws: ws, id: id, send: make(chan Message, h.sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		ws.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func (h *Hub) handshake(ctx context.Context, ws *websocket.Conn) (identity.Identity, error) {
	if h.handshakeTimeout > 0 {
		ws.SetReadDeadline(time.Now().Add(h.handshakeTimeout))
	}
	var hello Handshake
	if err := ws.ReadJSON(&hello); err != nil {
		return identity.Identity{}, apperr.New(apperr.ErrHandshakeFailed, "read handshake: %v", err)
	}
	id, err := h.identities.Resolve(ctx, hello.Token)
	if err != nil {
		return identity.Identity{}, apperr.New(apperr.ErrHandshakeFailed, "%v", err)
	}
	ws.SetReadDeadline(time.Time{})
	return id, nil
}

func (h *Hub) reject(ws *websocket.Conn, cause error) {
	defer ws.Close()
	msg, err := NewMessage(KindError, ErrorNotice{Code: apperr.CodeOf(cause), Message: cause.Error()}, time.Now())
	if err != nil {
		return
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(msg); err != nil {
		return
	}
	ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "handshake failed"))
}

func (h *Hub) attach(c *conn) {
	h.conns[c] = struct{}{}
	user := c.id.UserID
	if h.byUser[user] == nil {
		h.byUser[user] = make(map[*conn]struct{})
	}
	h.byUser[user][c] = struct{}{}
	h.connections.Add(1)

	snap := h.view.Snapshot()
	snap.UserID = user
	hello, err := NewMessage(KindConnected, snap, time.Now())
	if err != nil {
		h.log.Error("failed to encode snapshot", zap.Error(err))
		h.drop(c)
		return
	}
	if !h.offer(c, hello) {
		return
	}
	queued := h.pending[user]
	delete(h.pending, user)
	for _, msg := range queued {
		if !h.offer(c, msg) {
			return
		}
	}
	h.log.Debug("observer connected", zap.String("user", user), zap.Int("replayed", len(queued)))
}

func (h *Hub) deliver(out outbound) {
	if out.recipient == "" {
		// Only shared state goes into the snapshot; personal messages reach
		// their owner live or through the pending queue.
		if err := h.view.Apply(out.msg); err != nil {
			h.log.Warn("failed to apply message to hub view", zap.String("event", string(out.msg.Event)), zap.Error(err))
		}
		for c := range h.conns {
			h.offer(c, out.msg)
		}
		return
	}

	targets := h.byUser[out.recipient]
	if len(targets) == 0 {
		h.hold(out.recipient, out.msg)
		return
	}
	for c := range targets {
		h.offer(c, out.msg)
	}
}

// hold queues a personal message for an identity with no open connection.
func (h *Hub) hold(user string, msg Message) {
	queue := append(h.pending[user], msg)
	if h.pendingLimit > 0 && len(queue) > h.pendingLimit {
		dropped := len(queue) - h.pendingLimit
		h.log.Warn("pending queue full, dropping oldest messages",
			zap.String("user", user), zap.Int("dropped", dropped))
		queue = append([]Message(nil), queue[dropped:]...)
	}
	h.pending[user] = queue
}

// offer enqueues msg on c without blocking. A connection that cannot keep up
// is dropped.
func (h *Hub) offer(c *conn, msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		h.log.Warn("closing slow observer", zap.String("user", c.id.UserID))
		if h.OnSlowConsumer != nil {
			h.OnSlowConsumer()
		}
		h.drop(c)
		return false
	}
}

func (h *Hub) drop(c *conn) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	if set := h.byUser[c.id.UserID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.id.UserID)
		}
	}
	h.connections.Add(-1)
	close(c.send)
}

func (h *Hub) leave(c *conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
