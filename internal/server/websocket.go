package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/treesync/treesync/internal/core/events/bus"
	"github.com/treesync/treesync/internal/core/observability/log"
	"github.com/treesync/treesync/internal/core/service"
	"github.com/treesync/treesync/internal/core/session"
	"github.com/treesync/treesync/internal/core/uidl"
	"github.com/treesync/treesync/pkg/generic"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// encodeBuffers recycles the scratch space messages are serialized into
// before hitting the wire.
var encodeBuffers = generic.NewHotPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
	8,
)

// handleWebSocket upgrades /ws?session=<id>&ui=<n> into a push channel.
// The server pushes every flushed message for the UI; the client sends
// sync requests on the same connection to acknowledge and to ask for
// resynchronization.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	uiID, err := strconv.Atoi(r.URL.Query().Get("ui"))
	if err != nil || uiID <= 0 {
		http.Error(w, "bad ui id", http.StatusBadRequest)
		return
	}

	sess, err := s.svc.Session(sessionID)
	if err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	sess.Lock()
	_, ok := sess.UI(uiID)
	sess.Unlock()
	if !ok {
		http.Error(w, "unknown ui", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", log.Error(err))
		return
	}

	pump := &pushPump{
		server: s,
		sess:   sess,
		uiID:   uiID,
		conn:   conn,
		wake:   make(chan struct{}, 1),
		stop:   s.stopChan,
		log: s.log.With(
			log.String("session", sess.ID()),
			log.Int("ui", uiID)),
	}
	pump.run()
}

// pushPump owns one websocket connection: a reader folding client
// frames into the session and a writer pushing flushed messages out.
// The wake channel is level-triggered; a single buffered slot is
// enough because the writer re-checks the session state every time.
type pushPump struct {
	server *Server
	sess   *session.Session
	uiID   int
	conn   *websocket.Conn
	wake   chan struct{}
	stop   chan struct{}
	log    log.Log
}

func (p *pushPump) run() {
	defer func() { _ = p.conn.Close() }()

	p.log.Info("push channel open", log.String("remote", p.conn.RemoteAddr().String()))
	defer p.log.Info("push channel closed")

	// Bus events wake the writer the moment work appears; without a
	// bus the heartbeat sweep still delivers, just later.
	if events := p.server.svc.Events(); events != nil {
		for _, typ := range []string{bus.FlushPending, bus.SessionClosed} {
			if sub, err := events.Subscribe(p.sess.ID(), typ, p.onEvent); err == nil {
				defer events.Unsubscribe(sub)
			}
		}
	}

	readerDone := make(chan struct{})
	go p.readLoop(readerDone)

	p.nudge() // ship the initial state without waiting

	ticker := time.NewTicker(p.server.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.wake:
			if err := p.flush(); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(p.server.cfg.WriteTimeout)
			if err := p.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				p.log.Debug("ping failed", log.Error(err))
				return
			}
			// the sweep picks up resynchronization flags raised without
			// new tree changes, and retries after failed builds
			if err := p.flush(); err != nil {
				return
			}
		case <-readerDone:
			return
		case <-p.stop:
			deadline := time.Now().Add(time.Second)
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"), deadline)
			return
		}
	}
}

// onEvent is the bus handler: a non-blocking nudge to the writer.
func (p *pushPump) onEvent(bus.Event) error {
	p.nudge()
	return nil
}

func (p *pushPump) nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// flush delivers the next message if the UI has work. A session that
// disappeared ends the pump; a failed build does not, the resync flag
// is already raised again and the next sweep retries.
func (p *pushPump) flush() error {
	msg, ok, err := p.server.svc.FlushIfPending(p.sess.ID(), p.uiID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownSession) || errors.Is(err, session.ErrUnknownUI) {
			deadline := time.Now().Add(time.Second)
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), deadline)
			return err
		}
		p.log.Warn("flush failed", log.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return p.deliver(msg)
}

func (p *pushPump) deliver(msg *uidl.Message) error {
	buf := encodeBuffers.Get()
	defer encodeBuffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		p.sess.RequireResync()
		p.log.Error("message encode failed", log.Error(err))
		return err
	}

	_ = p.conn.SetWriteDeadline(time.Now().Add(p.server.cfg.WriteTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, buf.Bytes()); err != nil {
		// at-least-once: the message is lost, replay complete state on
		// the next connection
		p.sess.RequireResync()
		p.log.Warn("delivery failed, resynchronization scheduled", log.Error(err))
		return err
	}

	p.log.Debug("message pushed",
		log.Int("syncId", msg.SyncID),
		log.Int("changes", len(msg.Changes)))
	return nil
}

// readLoop folds client frames into the session: acknowledgements,
// resynchronization requests, pongs. It closes done when the client
// goes away.
func (p *pushPump) readLoop(done chan<- struct{}) {
	defer close(done)

	pongWait := 2 * p.server.cfg.HeartbeatInterval
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req uidl.Request
		if err := p.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Debug("read failed", log.Error(err))
			}
			return
		}

		p.sess.Lock()
		if u, ok := p.sess.UI(p.uiID); ok {
			u.SetLastProcessedClientID(req.ClientID)
		}
		p.sess.Unlock()

		if req.Resynchronize {
			p.sess.RequireResync()
			p.log.Info("client requested resynchronization", log.Int("clientId", req.ClientID))
		}

		// an acknowledgement changes what the next flush reports
		p.nudge()
	}
}
