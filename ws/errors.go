package ws

import "errors"

// Protocol-sequence violations and terminal conditions surfaced to the
// application's own calling code. None of these are reported to the peer as
// structured errors; sequence violations force an abnormal closure that the
// peer observes as close code 1006.
var (
	// ErrNotAccepted is returned by a send issued before the accept decision.
	ErrNotAccepted = errors.New("websocket connection has not been accepted")

	// ErrDuplicateAccept is returned by a second accept attempt. The
	// connection is forcibly terminated.
	ErrDuplicateAccept = errors.New("websocket connection already accepted")

	// ErrClosed is returned by sends and closes once the connection has left
	// the OPEN state.
	ErrClosed = errors.New("websocket connection is closed")

	// ErrAfterDisconnect is returned by a receive call after the terminal
	// disconnect event has been delivered.
	ErrAfterDisconnect = errors.New("receive after disconnect event")

	// ErrInvalidUTF8 is returned when a text send carries malformed UTF-8;
	// the frame is never transmitted.
	ErrInvalidUTF8 = errors.New("text message is not valid utf-8")
)
