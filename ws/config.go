package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Config controls per-connection behavior. Use DefaultConfig and override
// fields as needed; a nil Config everywhere means DefaultConfig.
type Config struct {
	// MaxMessageSize is the maximum assembled message size in bytes. A
	// message of exactly this size is delivered; one byte more closes the
	// connection with code 1009 without producing a receive event.
	// Default: 16 MiB.
	MaxMessageSize int64

	// PingInterval is the keepalive probe cadence. Zero disables probing.
	// Default: 30 seconds.
	PingInterval time.Duration

	// PongWait is the maximum silence on the transport before the peer is
	// considered gone and the connection resolves to close code 1006.
	// Default: 300 seconds.
	PongWait time.Duration

	// WriteWait bounds each transport write. Default: 10 seconds.
	WriteWait time.Duration

	// PerMessageDeflate enables negotiation of the permessage-deflate
	// extension. When false a peer offering it never sees it accepted.
	PerMessageDeflate bool

	// IncludeServerHeader controls the default server-identification header
	// on the handshake response.
	IncludeServerHeader bool

	// IncludeDateHeader controls the default Date header on the handshake
	// response.
	IncludeDateHeader bool

	// ServerHeader is the value of the identification header.
	ServerHeader string

	// Upgrader handles the HTTP to WebSocket protocol upgrade. Configure
	// ReadBufferSize, WriteBufferSize, and CheckOrigin as needed.
	Upgrader websocket.Upgrader
}

// DefaultConfig returns a Config with production defaults:
//   - MaxMessageSize: 16 MiB
//   - PingInterval: 30 seconds
//   - PongWait: 300 seconds (5 minutes)
//   - WriteWait: 10 seconds
//   - PerMessageDeflate: enabled
//   - Server and Date headers included, identification "wsbridge"
//   - CheckOrigin: allows all origins (configure for production!)
func DefaultConfig() *Config {
	return &Config{
		MaxMessageSize:      16 << 20,
		PingInterval:        time.Second * 30,
		PongWait:            time.Second * 300,
		WriteWait:           time.Second * 10,
		PerMessageDeflate:   true,
		IncludeServerHeader: true,
		IncludeDateHeader:   true,
		ServerHeader:        "wsbridge",
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}
