// Package ws turns an upgraded WebSocket transport into a sequence of typed
// application events (connect, receive, disconnect) and turns application
// commands (accept, send, close) back into wire frames and transport actions.
//
// Each connection is an independent unit of concurrent execution. The
// application drives one side of the contract through Conn's methods while a
// single reader pump drains the transport and a single serialized writer
// orders all outbound frames, so that the application's sends, the keepalive
// monitor's probes and the shutdown coordinator's close never interleave
// partial frames.
//
// The lifecycle is strictly monotonic:
//
//	CONNECTING -> OPEN -> CLOSING -> CLOSED
//
// with CONNECTING -> CLOSED as the rejected-handshake shortcut. Exactly one
// DisconnectEvent terminates every connection; no event follows it.
//
// Typical application shape:
//
//	func app(ctx context.Context, conn *ws.Conn) error {
//	    if _, err := conn.Receive(ctx); err != nil { // ConnectEvent
//	        return err
//	    }
//	    if err := conn.Accept(nil); err != nil {
//	        return err
//	    }
//	    for {
//	        ev, err := conn.Receive(ctx)
//	        if err != nil {
//	            return err
//	        }
//	        if ev.Disconnect != nil {
//	            return nil
//	        }
//	        // handle ev.Receive ...
//	    }
//	}
package ws
