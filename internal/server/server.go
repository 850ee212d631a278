package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/solanago/solanago/internal/config"
	apperrors "github.com/solanago/solanago/internal/errors"
	"github.com/solanago/solanago/internal/metrics"
	"github.com/solanago/solanago/internal/observability"
	"github.com/solanago/solanago/internal/server/handlers"
	servermw "github.com/solanago/solanago/internal/server/middleware"
)

// Dependencies are the components the HTTP API serves. Dispatcher is
// required; History is nil when the store is disabled.
type Dependencies struct {
	Dispatcher handlers.Dispatcher
	History    handlers.History
	Health     map[string]handlers.HealthChecker
	Version    string
	Pprof      bool
}

// Server is the HTTP front end of the dispatcher.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	cfg     config.ServerConfig
	health  *handlers.HealthManager
	conns   atomic.Int64
	started time.Time
}

// New builds the router and registers every route.
func New(cfg config.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Dispatcher == nil {
		return nil, errors.New("server requires a dispatcher")
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	health := handlers.NewHealthManager(deps.Version)
	health.RegisterChecker("pool", handlers.PoolChecker(deps.Dispatcher.Status))
	for name, checker := range deps.Health {
		health.RegisterChecker(name, checker)
	}

	s := &Server{
		router:  r,
		cfg:     cfg,
		health:  health,
		started: time.Now(),
	}
	s.server = &http.Server{
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ConnState:    s.trackConn,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes(handlers.NewDispatchHandler(deps.Dispatcher, deps.History), deps.Pprof)

	return s, nil
}

// Start listens on the configured address and serves until Shutdown.
// http.ErrServerClosed is not reported as an error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	metrics.SetServerStartTime(s.started.Unix())

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("addr", ln.Addr().String()))
	}

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	metrics.SetServerUptime(int64(time.Since(s.started).Seconds()))
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *Server) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		metrics.SetActiveConnections(s.conns.Add(1))
	case http.StateHijacked, http.StateClosed:
		metrics.SetActiveConnections(s.conns.Add(-1))
	}
}
