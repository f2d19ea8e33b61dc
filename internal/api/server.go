package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/robot-control/rcp/internal/auth"
	"github.com/robot-control/rcp/internal/command"
)

// Deps are the collaborators the server routes to.
type Deps struct {
	Robots     RobotPort
	Arbiter    ArbiterPort
	Dispatcher command.DispatcherPort
	Telemetry  TelemetryPort
	Joints     JointsPort
	Sessions   SessionPort
	Scripts    ScriptPort
	Auth       *auth.Middleware
	Version    string
}

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	deps       Deps
	startTime  time.Time
}

// NewServer creates a new API server.
func NewServer(deps Deps, readTimeout, writeTimeout, idleTimeout time.Duration) *Server {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := &Server{
		deps:      deps,
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Handler returns the routed handler with correlation IDs applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return withCorrelation(mux)
}

// Start listens on addr and serves until Stop. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
