// Package server exposes the supervisor's operations over HTTP: a thin Echo
// REST dispatch that never bypasses internal/ops for mutations.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server holds the Echo instance and its listen address.
type Server struct {
	echo *echo.Echo
	addr string
}

// New creates a configured Echo server wired against deps.
func New(deps Dependencies, addr, adminKey string) *Server {
	s := &Server{echo: echo.New(), addr: addr}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.routes(deps, adminKey)
	return s
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	slog.Info("server listening", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
