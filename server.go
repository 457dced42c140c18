package msgsock

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrInvalidRouter is returned by New when no routing table is provided.
var ErrInvalidRouter = errors.New("invalid router")

// Server is a TCP server that accepts connections and runs each one
// against a shared routing table. The server itself keeps no
// per-connection state: it is a pure accept-and-delegate loop, and a
// failing connection never affects the listener or other connections.
type Server struct {
	listener        *net.TCPListener
	router          *Router
	logger          Logger
	shutdownTimeout time.Duration
	connOpts        []Option

	activeConns atomic.Int64

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server and its connections.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server waits up to this duration
// before closing the listener, giving existing connections time to
// finish in-flight messages. Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerConnOptions sets connection options applied to every accepted
// connection, e.g. MessageMaxSize or IdleTimeoutOption.
func ServerConnOptions(opts ...Option) ServerOption {
	return func(s *Server) {
		s.connOpts = opts
	}
}

// New creates a TCP server bound to the specified address, dispatching
// messages through the given routing table. The address is bound
// immediately; if binding fails the error propagates and no server is
// returned. The routing table is shared: registrations made while the
// server runs are visible to existing and future connections.
func New(addr *net.TCPAddr, router *Router, opts ...ServerOption) (*Server, error) {
	if router == nil {
		return nil, ErrInvalidRouter
	}

	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrap(err, "bind")
	}

	s := &Server{
		listener:    listener,
		router:      router,
		logger:      defaultLogger(),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and spawns one goroutine per connection
// running the read-dispatch-write loop against the routing table.
// It blocks until the context is canceled or accepting fails with a
// non-temporary error, which is fatal to the whole server and
// propagates to the caller. Individual connection failures are not.
//
// When the context is canceled the server stops accepting and returns.
// Live connection goroutines are not torn down; they run until their
// own read or write fails or the remote disconnects. Call Close() to
// bypass a configured shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	// Wake the blocked Accept on context cancellation
	go func() {
		<-ctx.Done()

		// Wait for shutdown timeout if configured, but allow early exit via Close()
		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
			select {
			case <-time.After(s.shutdownTimeout):
				// Timeout expired, proceed with shutdown
			case <-s.shutdownNow:
				// Close() was called, skip remaining timeout
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			// Check if it's a temporary error
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return errors.Wrap(err, "accept")
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)
		go s.handleConn(ctx, conn)
	}
}

// handleConn owns one accepted connection for its lifetime. Any failure
// terminates this goroutine only.
func (s *Server) handleConn(ctx context.Context, raw *net.TCPConn) {
	opts := make([]Option, 0, len(s.connOpts)+2)
	opts = append(opts, LoggerOption(s.logger))
	opts = append(opts, s.connOpts...)
	opts = append(opts, HandlerOption(HandlerFunc(s.router.Dispatch)))

	conn, err := NewConn(raw, opts...)
	if err != nil {
		s.logger.Error("connection setup failed", "remote_addr", raw.RemoteAddr(), "error", err)
		raw.Close()
		return
	}

	s.activeConns.Inc()
	defer s.activeConns.Dec()

	// Server shutdown stops accepting but does not tear down live
	// connections; each loop runs until its own read or write fails.
	// Waiting out ActiveConns after Serve returns is the caller's call.
	err = conn.Run(context.WithoutCancel(ctx))
	switch {
	case err == nil, errors.Is(err, ErrConnectionClosed), errors.Is(err, context.Canceled):
		// expected terminal conditions, already logged by Run
	default:
		s.logger.Warn("connection terminated", "remote_addr", raw.RemoteAddr(), "error", err)
	}
}

// ActiveConns returns the number of connection loops currently running.
func (s *Server) ActiveConns() int64 {
	return s.activeConns.Load()
}

// Router returns the server's routing table. Handlers may be registered
// on it at any time, including while the server is accepting traffic.
func (s *Server) Router() *Router {
	return s.router
}

// Close stops the server by closing the underlying listener.
// If a shutdown timeout is configured, Close() bypasses the remaining
// timeout. Any blocked Accept calls will return with an error.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	// Signal to bypass any pending shutdown timeout
	select {
	case s.shutdownNow <- struct{}{}:
	default:
		// Channel already has a signal or no one is listening
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
