package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"laundry-sync-backend/config"
	"laundry-sync-backend/internal/apperr"
)

// State is the lifecycle of a Client connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateGaveUp:
		return "gave_up"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DialFunc opens a websocket connection.
type DialFunc func(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error)

// ClientOptions configures a Client.
type ClientOptions struct {
	URL   string
	Token string

	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxRetries   int

	// Buffer is the capacity of the Messages channel.
	Buffer int
	Dial   DialFunc
	Logger *zap.Logger
}

// ClientOptionsFrom fills the reconnect policy from cfg.
func ClientOptionsFrom(cfg config.SyncConfig, url, token string) ClientOptions {
	return ClientOptions{
		URL:          url,
		Token:        token,
		InitialDelay: cfg.InitialRetryDelay(),
		MaxDelay:     cfg.MaxRetryDelay(),
		MaxRetries:   cfg.MaxRetries,
		Buffer:       cfg.SendBuffer,
	}
}

// Client keeps a sync connection open, reconnecting with capped exponential
// backoff. Messages sent while the connection is down are queued and flushed,
// in order, right after the next handshake.
type Client struct {
	opts ClientOptions
	log  *zap.Logger

	mu      sync.Mutex
	state   State
	ws      *websocket.Conn
	gen     int
	queue   []json.RawMessage
	backoff *Backoff
	timer   *time.Timer
	err     error

	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates an idle client.
func NewClient(opts ClientOptions) *Client {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Dial == nil {
		opts.Dial = websocket.DefaultDialer.DialContext
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		opts:     opts,
		log:      log.Named("sync-client"),
		backoff:  NewBackoff(opts.InitialDelay, opts.MaxDelay, opts.MaxRetries),
		messages: make(chan Message, opts.Buffer),
		done:     make(chan struct{}),
	}
}

// Messages delivers every frame received from the server plus the synthetic
// disconnected and error messages.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Done is closed by Disconnect.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal error once the client has given up.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Connect opens the connection. It is also the explicit retry after the
// client has given up. A failed first attempt schedules reconnects and
// returns the dial error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return errors.New("client is closed")
	case StateConnecting, StateOpen, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.err = nil
	c.backoff.Reset()
	gen := c.gen
	c.mu.Unlock()

	err := c.attempt(ctx, gen)
	if err != nil {
		c.mu.Lock()
		var notices []Message
		if c.gen == gen && c.state == StateConnecting {
			c.state = StateReconnecting
			notices = c.scheduleLocked(gen)
		}
		c.mu.Unlock()
		c.emit(notices...)
	}
	return err
}

// Send encodes v and writes it, or queues it while the connection is down.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return errors.New("client is closed")
	}
	if c.state != StateOpen || len(c.queue) > 0 {
		c.queue = append(c.queue, data)
		c.mu.Unlock()
		return nil
	}
	ws, gen := c.ws, c.gen
	if err := c.writeLocked(data); err != nil {
		c.queue = append(c.queue, data)
		c.mu.Unlock()
		c.lost(gen, ws, err)
		return nil
	}
	c.mu.Unlock()
	return nil
}

// Disconnect closes the connection and cancels any pending reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.state = StateClosed
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws := c.ws
	c.ws = nil
	if ws != nil {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// attempt dials and, on success, performs the handshake and flushes the queue.
func (c *Client) attempt(ctx context.Context, gen int) error {
	ws, _, err := c.opts.Dial(ctx, c.opts.URL, nil)
	if err != nil {
		return apperr.New(apperr.ErrConnectionLost, "dial %s: %v", c.opts.URL, err)
	}

	c.mu.Lock()
	if c.gen != gen || c.state == StateClosed {
		c.mu.Unlock()
		ws.Close()
		return errors.New("client is closed")
	}
	c.ws = ws
	hello, _ := json.Marshal(Handshake{Token: c.opts.Token})
	if err := c.writeLocked(hello); err != nil {
		c.ws = nil
		c.mu.Unlock()
		ws.Close()
		return apperr.New(apperr.ErrConnectionLost, "send handshake: %v", err)
	}
	for len(c.queue) > 0 {
		if err := c.writeLocked(c.queue[0]); err != nil {
			c.ws = nil
			c.mu.Unlock()
			ws.Close()
			return apperr.New(apperr.ErrConnectionLost, "flush queue: %v", err)
		}
		c.queue = c.queue[1:]
	}
	c.queue = nil
	c.state = StateOpen
	c.backoff.Reset()
	c.mu.Unlock()

	c.log.Info("sync connection open", zap.String("url", c.opts.URL))
	go c.readLoop(ws, gen)
	return nil
}

func (c *Client) writeLocked(data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(ws *websocket.Conn, gen int) {
	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			c.lost(gen, ws, err)
			return
		}
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// lost handles an unexpected close of the connection of generation gen.
func (c *Client) lost(gen int, ws *websocket.Conn, cause error) {
	ws.Close()

	c.mu.Lock()
	if c.gen != gen || c.state != StateOpen || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = StateReconnecting
	c.log.Warn("sync connection lost", zap.Error(cause))

	notices := []Message{c.notice(KindDisconnected, ErrorNotice{
		Code:    apperr.ErrConnectionLost.Code,
		Message: cause.Error(),
	})}
	notices = append(notices, c.scheduleLocked(gen)...)
	c.mu.Unlock()

	c.emit(notices...)
}

// scheduleLocked arms the next reconnect or gives up. It returns the messages
// to emit once the lock is released.
func (c *Client) scheduleLocked(gen int) []Message {
	delay, ok := c.backoff.Next()
	if !ok {
		c.state = StateGaveUp
		c.err = apperr.New(apperr.ErrRetriesExhausted, "gave up after %d attempts", c.opts.MaxRetries)
		c.log.Error("sync reconnect attempts exhausted", zap.Error(c.err))
		return []Message{c.notice(KindError, ErrorNotice{
			Code:    apperr.ErrRetriesExhausted.Code,
			Message: c.err.Error(),
		})}
	}
	c.log.Info("scheduling reconnect", zap.Duration("delay", delay))
	c.timer = time.AfterFunc(delay, func() { c.reconnect(gen) })
	return nil
}

func (c *Client) reconnect(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	err := c.attempt(context.Background(), gen)
	if err == nil {
		return
	}
	c.log.Debug("reconnect attempt failed", zap.Error(err))

	c.mu.Lock()
	var notices []Message
	if c.gen == gen && c.state == StateReconnecting {
		notices = c.scheduleLocked(gen)
	}
	c.mu.Unlock()
	c.emit(notices...)
}

func (c *Client) notice(kind Kind, payload ErrorNotice) Message {
	msg, _ := NewMessage(kind, payload, time.Now())
	return msg
}

func (c *Client) emit(msgs ...Message) {
	for _, msg := range msgs {
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}
