// Package server runs the bridge HTTP listener with graceful shutdown
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"line-flex-bridge/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv    *http.Server
	errCh  chan error
	logger logging.Logger
}

// New creates a new server instance
func New(handler http.Handler, port string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		errCh:  make(chan error, 1),
		logger: logger,
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly; later serve errors arrive on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener in the background
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", logging.Field{Key: "addr", Value: ln.Addr().String()})
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Errors yields a fatal serve error, and is closed once serving stops
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
