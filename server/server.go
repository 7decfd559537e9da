// Package server glues the connection state machine to net/http and owns
// the server-wide lifecycle: the shared lifespan state, the connection
// registry, and the shutdown coordinator.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/panyam/wsbridge/handshake"
	"github.com/panyam/wsbridge/ws"
)

// App is the application callback. It consumes events through conn.Receive
// and issues accept/send/close commands through conn's methods. Returning a
// non-nil error, or returning while the connection is still open, is
// treated as an internal error: the peer observes a 500 if the handshake
// was never answered, or an abnormal closure (1006) if it was.
type App func(ctx context.Context, conn *ws.Conn) error

// Server tracks live connections and coordinates shutdown. The zero value
// is not usable; construct with New.
type Server struct {
	cfg    *ws.Config
	logger *slog.Logger

	// state is the process-wide state map handed to every connection's
	// scope by reference. It is created before any connection is accepted;
	// the server itself performs no locking on it.
	state map[string]any

	mu       sync.Mutex
	conns    map[*ws.Conn]struct{}
	draining bool
	wg       sync.WaitGroup
}

// New creates a Server. Lifecycle hooks that populate the shared state run
// to completion before the first connection is accepted, so mutate State()
// before wiring the handler into a router.
func New(cfg *ws.Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = ws.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		state:  make(map[string]any),
		conns:  make(map[*ws.Conn]struct{}),
	}
}

// State returns the process-wide state map shared by reference with every
// connection scope. In-place mutation by one connection is observable by
// connections scheduled later; the server adds no locking of its own.
func (s *Server) State() map[string]any { return s.state }

// Handle returns an http.HandlerFunc that validates upgrade requests,
// builds the connection, and runs the application callback to completion.
func (s *Server) Handle(app App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, rejection := handshake.Validate(r, s.state)
		if rejection != nil {
			s.logger.Info("handshake rejected", "status", rejection.Status, "reason", rejection.Reason)
			http.Error(w, rejection.Reason, rejection.Status)
			return
		}

		conn := ws.New(w, r, result.Scope, s.cfg, s.logger)
		if !s.track(conn) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		defer s.untrack(conn)

		err := app(r.Context(), conn)
		if !conn.Responded() {
			// The handshake was never answered: application failure surfaces
			// to the still-HTTP-level peer as a plain status, 500 unless the
			// error carries a more specific code.
			status := ErrorToHttpCode(err)
			if status == http.StatusOK {
				status = http.StatusInternalServerError
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(status)
			w.Write([]byte(http.StatusText(status)))
		}
		conn.Finish(err)
	}
}

// Shutdown closes every connection still open (or connecting) with close
// code 1012 and waits for the corresponding disconnect event to be
// delivered to each application callback, i.e. for every callback to
// return, before it completes. The ctx bounds the wait.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	conns := make([]*ws.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.logger.Info("shutting down", "connections", len(conns))
	for _, c := range conns {
		c.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(c *ws.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *ws.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}
