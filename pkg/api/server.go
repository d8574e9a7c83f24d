package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tcmartin/greeter/pkg/config"
	"github.com/tcmartin/greeter/pkg/logging"
	"github.com/tcmartin/greeter/pkg/middleware"
)

// AccessMessage is logged once for every request served by the greeting route
const AccessMessage = "someone accessing '/' path"

// Server represents the HTTP greeting server
type Server struct {
	config   *config.Config
	logger   logging.Logger
	router   *mux.Router
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new greeting server
func NewServer(cfg *config.Config, logger logging.Logger) *Server {
	s := &Server{
		config: cfg,
		logger: logger,
		router: mux.NewRouter(),
	}

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the address the server is bound to, or "" before Listen
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen binds the TCP listener and reports the bound port
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	port := s.config.Server.Port
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	s.logger.Info(fmt.Sprintf("Example app listening on port %d", port), logging.F("port", port))
	return nil
}

// Serve accepts connections on the listener bound by Listen
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}

	err := s.server.Serve(s.listener)

	// If the server was shut down gracefully, this error is expected
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start binds the listener and serves until the server is stopped
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the single greeting route
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleGreeting).Methods(http.MethodGet, http.MethodHead)

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RequestLogger(s.logger))
}

// handleGreeting writes the configured greeting
func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	middleware.LoggerFor(s.logger, r).Info(AccessMessage)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, s.config.Greeting.Message)
}
