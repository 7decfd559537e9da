package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	conc "github.com/panyam/gocurrent"
	gut "github.com/panyam/goutils/utils"

	"github.com/panyam/wsbridge/handshake"
)

// State is the connection lifecycle state. Transitions are monotonic; there
// are no back-transitions.
type State int32

const (
	// StateConnecting means the handshake has been validated but the
	// application has not yet accepted or rejected.
	StateConnecting State = iota

	// StateOpen means bidirectional message flow is active.
	StateOpen

	// StateClosing means one side has signaled close intent; buffered
	// inbound messages still drain to the application.
	StateClosing

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Conn is one accepted transport socket's connection state machine. It
// mediates between the transport (via the frame codec), the application
// (Receive/Accept/Send/Close), and server lifecycle signals (keepalive,
// shutdown). All methods are safe for use from the application goroutine
// concurrently with the internal pumps.
type Conn struct {
	cfg    *Config
	scope  *handshake.Scope
	logger *slog.Logger
	connId string

	w http.ResponseWriter
	r *http.Request

	mu               sync.Mutex
	state            State
	connectDelivered bool
	accepted         bool
	responded        bool
	subprotocol      string
	extensions       []handshake.Extension
	appClose         *closeSignal
	pingId           int64

	ws      *websocket.Conn
	writer  *conc.Writer[outbound]
	inbound *inboundQueue

	pumpDone     chan struct{}
	lastActivity atomic.Int64
}

// New creates a Conn in CONNECTING state for a validated upgrade request.
// The application has not been granted any send capability yet; nothing is
// written to the peer until it issues an accept or close command.
func New(w http.ResponseWriter, r *http.Request, scope *handshake.Scope, cfg *Config, logger *slog.Logger) *Conn {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		cfg:      cfg,
		scope:    scope,
		connId:   gut.RandString(10, ""),
		w:        w,
		r:        r,
		inbound:  newInboundQueue(),
		pumpDone: make(chan struct{}),
	}
	c.logger = logger.With("connId", c.connId)
	c.touch()

	// The HTTP layer cancels the request context when the peer vanishes
	// before the handshake is answered. Resolve that to a disconnect with
	// code 1006 so the application's pending receive is unblocked.
	go func() {
		<-r.Context().Done()
		c.mu.Lock()
		connecting := c.state == StateConnecting
		if connecting {
			c.state = StateClosed
		}
		c.mu.Unlock()
		if connecting {
			c.inbound.close(websocket.CloseAbnormalClosure, "")
		}
	}()
	return c
}

// Scope returns the immutable request metadata derived from the handshake.
func (c *Conn) Scope() *handshake.Scope { return c.scope }

// ConnId returns the unique identifier for this connection.
func (c *Conn) ConnId() string { return c.connId }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subprotocol returns the subprotocol accepted by the application, if any.
func (c *Conn) Subprotocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subprotocol
}

// Extensions returns the negotiated extension set, fixed at accept time.
func (c *Conn) Extensions() []handshake.Extension {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extensions
}

// Responded reports whether anything has been written for the handshake
// (an upgrade response, a rejection, or a shutdown refusal).
func (c *Conn) Responded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}

// DebugInfo returns debug information about the connection.
func (c *Conn) DebugInfo() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := map[string]any{
		"connId": c.connId,
		"state":  c.state.String(),
		"pingId": c.pingId,
	}
	if c.writer != nil {
		info["writer"] = c.writer.DebugInfo()
	}
	return info
}

// Receive returns the next application event. The first call delivers the
// connect event; later calls dequeue assembled messages in FIFO order,
// blocking until one is available or the terminal disconnect is ready. After
// the disconnect event has been delivered, Receive returns
// ErrAfterDisconnect.
func (c *Conn) Receive(ctx context.Context) (Event, error) {
	c.mu.Lock()
	if !c.connectDelivered {
		c.connectDelivered = true
		c.mu.Unlock()
		return Event{Connect: &ConnectEvent{}}, nil
	}
	c.mu.Unlock()
	return c.inbound.pop(ctx)
}

// Accept answers the handshake: it negotiates extensions, writes the 101
// response with the server-managed default headers plus any extras, and
// transitions to OPEN, starting the reader pump and the serialized writer.
//
// Exactly one accept-or-reject decision is allowed. A second Accept is a
// protocol violation: the connection is forcibly terminated (the peer
// observes an abnormal closure, code 1006), no second handshake response is
// written, and ErrDuplicateAccept is returned.
func (c *Conn) Accept(opts *AcceptOptions) error {
	if opts == nil {
		opts = &AcceptOptions{}
	}
	c.mu.Lock()
	if c.accepted || c.state != StateConnecting {
		c.mu.Unlock()
		c.terminate(websocket.CloseAbnormalClosure, "duplicate accept")
		return ErrDuplicateAccept
	}

	header := http.Header{}
	if c.cfg.IncludeServerHeader {
		header.Add("Server", c.cfg.ServerHeader)
	}
	if c.cfg.IncludeDateHeader {
		header.Add("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	for _, kv := range opts.Headers {
		header.Add(kv[0], kv[1])
	}
	if opts.Subprotocol != "" {
		header.Set(handshake.HeaderSecWebSocketPro, opts.Subprotocol)
	}

	exts := handshake.Negotiate(c.scope.Extensions, c.cfg.PerMessageDeflate)
	upgrader := c.cfg.Upgrader
	upgrader.EnableCompression = len(exts) > 0

	wsConn, err := upgrader.Upgrade(c.w, c.r, header)
	if err != nil {
		c.state = StateClosed
		c.responded = true
		c.mu.Unlock()
		c.inbound.close(websocket.CloseAbnormalClosure, "")
		c.logger.Warn("upgrade failed", "error", err)
		return err
	}

	c.accepted = true
	c.responded = true
	c.state = StateOpen
	c.subprotocol = opts.Subprotocol
	c.extensions = exts
	c.ws = wsConn

	wsConn.SetReadLimit(c.cfg.MaxMessageSize)
	if c.cfg.PongWait > 0 {
		wsConn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
	wsConn.SetPongHandler(func(string) error {
		c.touch()
		if c.cfg.PongWait > 0 {
			wsConn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		}
		return nil
	})
	c.writer = conc.NewWriter(c.writeOutbound)
	c.mu.Unlock()

	go c.readPump()
	c.logger.Info("connection open", "path", c.scope.Path, "subprotocol", opts.Subprotocol)
	return nil
}

// SendText sends one text frame. The payload must be valid UTF-8; malformed
// text is rejected with ErrInvalidUTF8 rather than transmitted.
func (c *Conn) SendText(ctx context.Context, text string) error {
	if !utf8.ValidString(text) {
		return ErrInvalidUTF8
	}
	return c.send(ctx, websocket.TextMessage, []byte(text))
}

// SendBytes sends one binary frame.
func (c *Conn) SendBytes(ctx context.Context, data []byte) error {
	return c.send(ctx, websocket.BinaryMessage, data)
}

func (c *Conn) send(ctx context.Context, messageType int, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if !c.accepted {
		c.mu.Unlock()
		return ErrNotAccepted
	}
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrClosed
	}
	w := c.writer
	c.mu.Unlock()
	w.Send(outbound{frame: &dataFrame{messageType: messageType, payload: payload}})
	return nil
}

// Close issues the application's close command.
//
// In CONNECTING state it rejects the handshake: the peer receives a plain
// 403 and no upgrade ever happens. A later Receive still returns a
// disconnect event with code 1006 exactly once, so message loops written
// against the uniform open/close contract never see an unexpected shape.
//
// In OPEN state it sends a close frame with the given code (default 1000)
// and reason (default empty) and transitions to CLOSING. Buffered inbound
// messages remain deliverable until the terminal disconnect.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.state = StateClosed
		c.responded = true
		c.mu.Unlock()
		c.w.WriteHeader(http.StatusForbidden)
		c.inbound.close(websocket.CloseAbnormalClosure, "")
		c.logger.Info("handshake rejected by application")
		return nil
	case StateOpen:
		if code == 0 {
			code = websocket.CloseNormalClosure
		}
		sig := &closeSignal{code: code, reason: reason}
		c.appClose = sig
		c.state = StateClosing
		w := c.writer
		c.mu.Unlock()
		w.Send(outbound{close: sig})
		return nil
	default:
		c.mu.Unlock()
		return ErrClosed
	}
}

// Shutdown is the server-lifecycle close: the peer observes close code 1012
// and the application's pending receive resolves to a disconnect event with
// code 1012 immediately, without waiting for the peer's close response.
func (c *Conn) Shutdown() {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.state = StateClosed
		c.responded = true
		c.mu.Unlock()
		c.w.WriteHeader(http.StatusServiceUnavailable)
		c.inbound.close(websocket.CloseServiceRestart, "")
	case StateOpen, StateClosing:
		c.state = StateClosing
		w := c.writer
		c.mu.Unlock()
		w.Send(outbound{close: &closeSignal{code: websocket.CloseServiceRestart}})
		c.inbound.close(websocket.CloseServiceRestart, "")
	default:
		c.mu.Unlock()
	}
}

// Finish releases the connection after the application callback has
// returned. An error from the callback, or a return while the connection is
// still OPEN, is an internal error: the peer observes an abnormal closure
// (code 1006). The pre-upgrade variant of that outcome (a 500 status) is the
// caller's responsibility, decided via Responded.
func (c *Conn) Finish(appErr error) {
	c.mu.Lock()
	state := c.state
	accepted := c.accepted
	wsConn := c.ws
	writer := c.writer
	c.state = StateClosed
	c.mu.Unlock()

	if !accepted {
		c.inbound.close(websocket.CloseAbnormalClosure, "")
		return
	}

	if appErr != nil || state == StateOpen {
		c.inbound.close(websocket.CloseAbnormalClosure, "")
		wsConn.Close()
		if appErr != nil {
			c.logger.Warn("application failed, abnormal closure", "error", appErr)
		}
	} else {
		// Graceful path: let the close handshake settle before tearing the
		// transport down.
		select {
		case <-c.pumpDone:
		case <-time.After(c.cfg.WriteWait):
		}
		wsConn.Close()
	}

	select {
	case <-c.pumpDone:
	case <-time.After(c.cfg.WriteWait):
	}
	if writer != nil {
		writer.Stop()
	}
	c.logger.Info("connection closed")
}

// terminate forces the connection to CLOSED without a close handshake. The
// peer observes an abnormal closure (code 1006).
func (c *Conn) terminate(code int, reason string) {
	c.mu.Lock()
	alreadyClosed := c.state == StateClosed
	c.state = StateClosed
	wsConn := c.ws
	c.mu.Unlock()
	c.inbound.close(code, reason)
	if wsConn != nil && !alreadyClosed {
		wsConn.Close()
	}
}

// writeOutbound is the single serialized writer callback. All outbound
// producers funnel through it, so partial frames never interleave.
func (c *Conn) writeOutbound(msg outbound) error {
	deadline := time.Now().Add(c.cfg.WriteWait)
	switch {
	case msg.frame != nil:
		c.ws.SetWriteDeadline(deadline)
		return c.ws.WriteMessage(msg.frame.messageType, msg.frame.payload)
	case msg.ping != nil:
		return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
	case msg.close != nil:
		return c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(msg.close.code, msg.close.reason), deadline)
	}
	return nil
}

// readPump is the single inbound-processing task for the connection. It
// drains the transport, feeds the inbound buffer, issues keepalive probes,
// and detects transport loss.
func (c *Conn) readPump() {
	defer close(c.pumpDone)

	reader := conc.NewReader(func() (dataFrame, error) {
		messageType, payload, err := c.ws.ReadMessage()
		return dataFrame{messageType: messageType, payload: payload}, err
	})
	defer reader.Stop()

	var pingC, pongC <-chan time.Time
	if c.cfg.PingInterval > 0 {
		pingTimer := time.NewTicker(c.cfg.PingInterval)
		defer pingTimer.Stop()
		pingC = pingTimer.C
	}
	if c.cfg.PongWait > 0 {
		pongChecker := time.NewTicker(c.cfg.PongWait)
		defer pongChecker.Stop()
		pongC = pongChecker.C
	}

	for {
		select {
		case <-pingC:
			c.sendPing()
		case <-pongC:
			if silence := time.Since(c.lastActivityTime()); silence > c.cfg.PongWait {
				c.logger.Warn("no transport activity, killing connection", "silence", silence)
				c.terminate(websocket.CloseAbnormalClosure, "keepalive timeout")
				return
			}
		case result := <-reader.OutputChan():
			c.touch()
			if result.Error != nil {
				c.finishRead(result.Error)
				return
			}
			if c.cfg.PongWait > 0 {
				c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
			}
			c.deliver(result.Value)
		}
	}
}

// deliver translates one assembled wire message into a receive event.
func (c *Conn) deliver(f dataFrame) {
	switch f.messageType {
	case websocket.TextMessage:
		text := string(f.payload)
		c.inbound.push(&ReceiveEvent{Text: &text})
	case websocket.BinaryMessage:
		c.inbound.push(&ReceiveEvent{Bytes: f.payload})
	}
}

// finishRead resolves a transport read error into the terminal disconnect.
// All wire-level and timing errors are absorbed here; the application only
// ever observes a single disconnect event.
func (c *Conn) finishRead(err error) {
	code := websocket.CloseAbnormalClosure
	reason := ""
	var ce *websocket.CloseError
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		// The frame codec has already sent the 1009 close frame. Everything
		// buffered before the oversized message stays deliverable; the
		// oversized message itself never becomes a receive event.
		code = websocket.CloseMessageTooBig
		reason = "message too big"
	case errors.As(err, &ce):
		code = ce.Code
		reason = ce.Text
	}

	c.mu.Lock()
	if c.appClose != nil {
		// The application initiated the close; its disconnect event carries
		// the code it closed with.
		code, reason = c.appClose.code, c.appClose.reason
	}
	c.state = StateClosed
	wsConn := c.ws
	c.mu.Unlock()

	c.inbound.close(code, reason)
	wsConn.Close()
	c.logger.Debug("read pump finished", "code", code, "error", err)
}

func (c *Conn) sendPing() {
	c.mu.Lock()
	if c.state != StateOpen && c.state != StateClosing {
		c.mu.Unlock()
		return
	}
	c.pingId++
	probe := &pingProbe{pingId: c.pingId}
	w := c.writer
	c.mu.Unlock()
	w.Send(outbound{ping: probe})
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Conn) lastActivityTime() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}
