package ws

// Event is one inbound message delivered to the application. Exactly one of
// the fields is non-nil. This union-struct shape keeps the message
// vocabulary closed: there is no "unknown type" case to handle at runtime.
type Event struct {
	// Connect is delivered exactly once, before any other event.
	Connect *ConnectEvent

	// Receive carries one fully assembled data message from the peer.
	Receive *ReceiveEvent

	// Disconnect is the terminal event. It is delivered exactly once and no
	// event follows it.
	Disconnect *DisconnectEvent
}

// Kind names the populated variant, for logging.
func (e Event) Kind() string {
	switch {
	case e.Connect != nil:
		return "connect"
	case e.Receive != nil:
		return "receive"
	case e.Disconnect != nil:
		return "disconnect"
	}
	return "empty"
}

// ConnectEvent announces a validated handshake awaiting the application's
// accept-or-reject decision.
type ConnectEvent struct{}

// ReceiveEvent is one data message. Exactly one of Text and Bytes is set:
// Text for a text frame (decoded UTF-8), Bytes for a binary frame.
type ReceiveEvent struct {
	Text  *string
	Bytes []byte
}

// DisconnectEvent carries the effective close code for the connection.
type DisconnectEvent struct {
	Code   int
	Reason string
}

// AcceptOptions carries the optional parts of an accept command.
type AcceptOptions struct {
	// Subprotocol, when non-empty, is echoed to the peer as the negotiated
	// subprotocol. It should be one of Scope.Subprotocols.
	Subprotocol string

	// Headers are extra response header pairs, appended in order after the
	// server-managed defaults. Repeating a default name (e.g. "Server")
	// appends rather than overwrites, producing a multi-valued header.
	Headers [][2]string
}

// outbound is the union of everything that can be written to the transport.
// All three producers (application sends, keepalive probes, close signals)
// funnel through one serialized writer, so exactly one field is set per
// message and partial frames never interleave.
type outbound struct {
	frame *dataFrame
	ping  *pingProbe
	close *closeSignal
}

type dataFrame struct {
	messageType int
	payload     []byte
}

type pingProbe struct {
	pingId int64
}

type closeSignal struct {
	code   int
	reason string
}
