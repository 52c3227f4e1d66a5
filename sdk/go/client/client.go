// Package client provides a high-level WebSocket client SDK for
// treesync servers: session bootstrap over the HTTP API, a push
// channel with automatic reconnection, and a local mirror of the
// server-side state tree kept in step by the sync sequence.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/treesync/treesync/internal/core/observability/log"
	"github.com/treesync/treesync/internal/core/uidl"
)

// Client is a treesync client connection
type Client struct {
	// Connection management
	http   *http.Client
	conn   *websocket.Conn
	connMu sync.Mutex

	// Synchronized state
	session string
	ui      int
	mirror  *Mirror

	// Sequence tracking
	lastSyncID int64 // last applied server sync id, -1 until the first message
	seq        int64 // client frame counter, echoed back by the server
	serverAck  int64 // latest echo received
	resyncing  int32 // a resynchronization request is in flight

	// Event handlers
	messageHandlers []MessageHandler
	executeHandlers []ExecuteHandler
	eventHandlers   map[EventType][]EventHandler
	handlerMutex    sync.RWMutex

	// Lifecycle
	connected int32 // atomic bool
	closed    int32 // atomic bool
	done      chan struct{}

	// Configuration and logging
	config Config
	logger log.Log

	// Background workers
	workerGroup sync.WaitGroup
}

// Config holds configuration for the client
type Config struct {
	// Connection settings
	ServerURL            string
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int

	// Session bootstrap. An empty Session creates a fresh one; a
	// non-empty Session is resumed, with UI naming the UI to attach to.
	// RootComponent overrides the server's default root for fresh UIs.
	Session       string
	UI            int
	RootComponent string

	// Logging
	LogLevel log.Level
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL:            "http://localhost:8080",
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 5,
		LogLevel:             log.LevelInfo,
	}
}

// MessageHandler defines a function type for handling applied sync messages
type MessageHandler func(msg *uidl.Message) error

// ExecuteHandler defines a function type for handling queued script
// invocations. Rows arrive as [param0, param1, ..., expression].
type ExecuteHandler func(params []any, expression string) error

// EventHandler defines a function type for handling client events
type EventHandler func(event Event) error

// EventType represents different types of client events
type EventType string

const (
	EventTypeConnected      EventType = "connected"
	EventTypeDisconnected   EventType = "disconnected"
	EventTypeReconnecting   EventType = "reconnecting"
	EventTypeResynchronized EventType = "resynchronized"
	EventTypeSyncError      EventType = "sync_error"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
	Error     error
}

// NewClient creates a new treesync client
func NewClient(config Config) *Client {
	config.ServerURL = strings.TrimSuffix(config.ServerURL, "/")
	logger := log.New(config.LogLevel)

	client := &Client{
		http:          &http.Client{Timeout: config.ConnectTimeout},
		session:       config.Session,
		ui:            config.UI,
		mirror:        NewMirror(),
		lastSyncID:    -1,
		eventHandlers: make(map[EventType][]EventHandler),
		done:          make(chan struct{}),
		config:        config,
		logger:        logger.With(log.String("component", "client")),
	}
	return client
}

// Connect bootstraps the session over the HTTP API and attaches to the
// push channel. The first sync message arrives without any further
// request.
func (c *Client) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if atomic.LoadInt32(&c.connected) == 1 {
		return ErrAlreadyConnected
	}
	if c.config.ServerURL == "" {
		return ErrInvalidConfig
	}

	c.logger.Info("connecting", log.String("url", c.config.ServerURL))

	conn, err := c.establish(ctx)
	if err != nil {
		c.logger.Error("connect failed", log.Error(err))
		return err
	}

	c.swapConn(conn)
	atomic.StoreInt32(&c.connected, 1)

	c.startWorkers()

	c.emitEvent(Event{
		Type:      EventTypeConnected,
		Timestamp: time.Now(),
		Data: map[string]any{
			"session": c.session,
			"ui":      c.ui,
		},
	})
	c.logger.Info("connected", log.String("session", c.session), log.Int("ui", c.ui))
	return nil
}

// Disconnect closes the push channel. The session stays alive on the
// server; a later Connect resumes it.
func (c *Client) Disconnect() error {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return ErrNotConnected
	}

	c.logger.Info("disconnecting")

	if conn := c.currentConn(); conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnecting"),
			time.Now().Add(c.config.WriteTimeout))
		_ = conn.Close()
	}
	c.workerGroup.Wait()

	c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now()})
	c.logger.Info("disconnected")
	return nil
}

// Close closes the client and releases all resources
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil // Already closed
	}

	c.logger.Info("closing client")

	// Signal done first so a running reconnect loop aborts.
	select {
	case <-c.done:
	default:
		close(c.done)
	}

	if atomic.LoadInt32(&c.connected) == 1 {
		_ = c.Disconnect()
	} else {
		c.workerGroup.Wait()
	}

	c.logger.Info("client closed")
	return nil
}

// RequestResync asks the server to rebuild this client's tree from
// full state. The reply arrives on the push channel like any other
// message.
func (c *Client) RequestResync() error {
	return c.sendRequest(uidl.Request{
		SessionID:     c.session,
		UI:            c.ui,
		ClientID:      int(atomic.AddInt64(&c.seq, 1)),
		Resynchronize: true,
	})
}

// OnMessage registers a handler invoked for every applied sync message
func (c *Client) OnMessage(handler MessageHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()

	c.messageHandlers = append(c.messageHandlers, handler)
}

// OnExecute registers a handler for queued script invocations
func (c *Client) OnExecute(handler ExecuteHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()

	c.executeHandlers = append(c.executeHandlers, handler)
}

// OnEvent registers an event handler for a specific event type
func (c *Client) OnEvent(eventType EventType, handler EventHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()

	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], handler)
}

// Session returns the session id once Connect has bootstrapped one.
func (c *Client) Session() string { return c.session }

// UI returns the attached UI id.
func (c *Client) UI() int { return c.ui }

// Mirror returns the local replica of the server-side state tree.
func (c *Client) Mirror() *Mirror { return c.mirror }

// LastSyncID returns the sync id of the last applied message, -1 until
// the first one lands.
func (c *Client) LastSyncID() int {
	return int(atomic.LoadInt64(&c.lastSyncID))
}

// AcknowledgedClientID returns the latest client frame counter the
// server has echoed back.
func (c *Client) AcknowledgedClientID() int {
	return int(atomic.LoadInt64(&c.serverAck))
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	return atomic.LoadInt32(&c.connected) == 1
}

// IsClosed returns true if the client is closed
func (c *Client) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// establish resumes or creates the session and dials the push channel.
func (c *Client) establish(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	return c.dial(ctx)
}

// ensureSession creates or resumes the session and the UI this client
// is bound to. Both ids are sticky: reconnects reuse them.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.session == "" {
		var out struct {
			Session string `json:"session"`
		}
		if _, err := c.postJSON(ctx, "/api/session", nil, &out); err != nil {
			return errors.Wrap(err, "create session")
		}
		c.session = out.Session
		c.logger.Info("session created", log.String("session", c.session))
	} else {
		status, err := c.postJSON(ctx, "/api/session", map[string]string{"resume": c.session}, nil)
		if status == http.StatusNotFound {
			return ErrSessionExpired
		}
		if err != nil {
			return errors.Wrap(err, "resume session")
		}
		c.logger.Info("session resumed", log.String("session", c.session))
	}

	if c.ui == 0 {
		var out struct {
			UI        int    `json:"ui"`
			Component string `json:"component"`
		}
		body := map[string]string{"component": c.config.RootComponent}
		status, err := c.postJSON(ctx, "/api/session/"+c.session+"/ui", body, &out)
		if status == http.StatusNotFound {
			return ErrSessionExpired
		}
		if err != nil {
			return errors.Wrap(err, "create ui")
		}
		c.ui = out.UI
		c.logger.Info("ui created", log.Int("ui", c.ui), log.String("component", out.Component))
	}
	return nil
}

// dial opens the push channel for the bootstrapped session and UI.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.config.ServerURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse server url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("session", c.session)
	q.Set("ui", strconv.Itoa(c.ui))
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrSessionExpired
		}
		return nil, errors.Wrap(err, "dial push channel")
	}
	return conn, nil
}

// postJSON runs one call against the HTTP API and decodes the response
// into out when it is non-nil. Error responses are turned into errors
// carrying the server's message.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Wrap(err, "encode request body")
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ServerURL+path, payload)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return resp.StatusCode, errors.Errorf("%s: status %d: %s", path, resp.StatusCode, apiErr.Error)
	}
	if out != nil {
		if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errors.Wrap(err, "decode response body")
		}
	}
	return resp.StatusCode, nil
}

// sendRequest ships one client frame. All writes go through here so
// the connection sees a single writer at a time.
func (c *Client) sendRequest(req uidl.Request) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil || atomic.LoadInt32(&c.connected) == 0 {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(req)
}

func (c *Client) swapConn(conn *websocket.Conn) {
	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.connMu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// startWorkers starts background worker goroutines
func (c *Client) startWorkers() {
	c.workerGroup.Add(1)

	// Message receiver
	go func() {
		defer c.workerGroup.Done()
		c.messageReceiver()
	}()
}

// messageReceiver reads the push channel, applies messages and handles
// reconnection when the connection drops.
func (c *Client) messageReceiver() {
	c.logger.Debug("message receiver started")
	defer c.logger.Debug("message receiver stopped")

	for {
		conn := c.currentConn()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 1 || atomic.LoadInt32(&c.connected) == 0 {
				return
			}

			atomic.StoreInt32(&c.connected, 0)
			c.logger.Warn("connection lost", log.Error(err))
			c.emitEvent(Event{Type: EventTypeReconnecting, Timestamp: time.Now(), Error: err})

			if !c.reconnectLoop() {
				c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now(), Error: ErrReconnectFailed})
				return
			}
			continue
		}

		msg, err := uidl.Decode(raw)
		if err != nil {
			c.logger.Error("undecodable push message", log.Error(err))
			c.emitEvent(Event{Type: EventTypeSyncError, Timestamp: time.Now(), Error: err})
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage folds one push message into the mirror, enforcing the
// sequence contract: messages apply in order with no gaps, anything
// else asks for full state instead of guessing.
func (c *Client) handleMessage(msg *uidl.Message) {
	if !msg.Resynchronize && atomic.LoadInt32(&c.resyncing) == 1 {
		// stale increments between the resync request and its reply
		c.logger.Debug("dropping message while awaiting resynchronization", log.Int("syncId", msg.SyncID))
		return
	}

	last := atomic.LoadInt64(&c.lastSyncID)
	if !msg.Resynchronize && last >= 0 && int64(msg.SyncID) != last+1 {
		err := errors.Errorf("sync sequence gap: expected %d, received %d", last+1, msg.SyncID)
		c.logger.Warn("sync sequence gap",
			log.Int("expected", int(last)+1),
			log.Int("received", msg.SyncID))
		c.emitEvent(Event{Type: EventTypeSyncError, Timestamp: time.Now(), Error: err})
		c.requestResyncOnce()
		return
	}

	if err := c.mirror.Apply(msg); err != nil {
		c.logger.Error("mirror apply failed", log.Error(err))
		c.emitEvent(Event{Type: EventTypeSyncError, Timestamp: time.Now(), Error: err})
		c.requestResyncOnce()
		return
	}

	atomic.StoreInt64(&c.lastSyncID, int64(msg.SyncID))
	atomic.StoreInt64(&c.serverAck, int64(msg.ClientID))

	c.logger.Debug("message applied",
		log.Int("syncId", msg.SyncID),
		log.Int("changes", len(msg.Changes)),
		log.Int("dependencies", msg.DependencyCount()))

	if msg.Resynchronize {
		atomic.StoreInt32(&c.resyncing, 0)
		c.emitEvent(Event{
			Type:      EventTypeResynchronized,
			Timestamp: time.Now(),
			Data:      map[string]any{"syncId": msg.SyncID},
		})
	}

	c.dispatchExecutions(msg.Execute)
	c.dispatchMessage(msg)
	c.acknowledge()
}

// requestResyncOnce sends a resynchronization request unless one is
// already in flight. Messages arriving before the reply are dropped by
// handleMessage; the reply itself clears the flag.
func (c *Client) requestResyncOnce() {
	if !atomic.CompareAndSwapInt32(&c.resyncing, 0, 1) {
		return
	}
	if err := c.RequestResync(); err != nil {
		atomic.StoreInt32(&c.resyncing, 0)
		c.logger.Error("resynchronization request failed", log.Error(err))
	}
}

// acknowledge reports the applied message back to the server.
func (c *Client) acknowledge() {
	req := uidl.Request{
		SessionID: c.session,
		UI:        c.ui,
		ClientID:  int(atomic.AddInt64(&c.seq, 1)),
	}
	if err := c.sendRequest(req); err != nil && !errors.Is(err, ErrNotConnected) {
		c.logger.Warn("acknowledge failed", log.Error(err))
	}
}

// reconnectLoop redials the push channel, resuming the session when
// the server restarted in between. The mirror may have missed flushes
// while the connection was down, so the first frame after a redial is
// a resynchronization request.
func (c *Client) reconnectLoop() bool {
	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(c.config.ReconnectInterval):
		}

		c.logger.Info("reconnection attempt", log.Int("attempt", attempt))

		conn, err := c.establish(context.Background())
		if err == nil {
			c.swapConn(conn)
			atomic.StoreInt32(&c.connected, 1)

			c.emitEvent(Event{
				Type:      EventTypeConnected,
				Timestamp: time.Now(),
				Data: map[string]any{
					"session": c.session,
					"ui":      c.ui,
					"attempt": attempt,
				},
			})
			// a request lost with the old connection must not block the new one
			atomic.StoreInt32(&c.resyncing, 0)
			c.requestResyncOnce()
			c.logger.Info("reconnected", log.Int("attempt", attempt))
			return true
		}

		if errors.Is(err, ErrSessionExpired) {
			c.logger.Error("session expired, giving up", log.Error(err))
			return false
		}
		c.logger.Warn("reconnection failed", log.Int("attempt", attempt), log.Error(err))
	}
	return false
}

// dispatchExecutions hands queued script invocations to the registered
// handlers. Each handler sees the rows of one message in queue order.
func (c *Client) dispatchExecutions(rows [][]any) {
	if len(rows) == 0 {
		return
	}

	c.handlerMutex.RLock()
	handlers := c.executeHandlers
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		go func(h ExecuteHandler) {
			for _, row := range rows {
				if len(row) == 0 {
					continue
				}
				expression, _ := row[len(row)-1].(string)
				if err := h(row[:len(row)-1], expression); err != nil {
					c.logger.Error("execute handler error", log.Error(err))
				}
			}
		}(handler)
	}
}

// dispatchMessage hands an applied message to the registered handlers.
func (c *Client) dispatchMessage(msg *uidl.Message) {
	c.handlerMutex.RLock()
	handlers := c.messageHandlers
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		go func(h MessageHandler) {
			if err := h(msg); err != nil {
				c.logger.Error("message handler error", log.Error(err))
			}
		}(handler)
	}
}

// emitEvent emits an event to registered handlers
func (c *Client) emitEvent(event Event) {
	c.handlerMutex.RLock()
	handlers := c.eventHandlers[event.Type]
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		go func(h EventHandler) {
			if err := h(event); err != nil {
				c.logger.Error("event handler error", log.Error(err))
			}
		}(handler)
	}
}
