// Package server wires handlers, middleware and routes together and runs
// the HTTP server.
//
// Dependency flow:
//
//	main.go creates the sandbox executor and the config
//	Server.New creates sqlite.DB → ScriptService / ExecutionService → handlers
//
// All wiring happens here so that handlers only ever see interfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/replaybox/internal/executor"
	"github.com/sakif/replaybox/internal/handler"
	"github.com/sakif/replaybox/internal/middleware"
	sqliteRepo "github.com/sakif/replaybox/internal/repository/sqlite"
	"github.com/sakif/replaybox/internal/service"
)

// Config holds server configuration.
type Config struct {
	Port         int
	DBPath       string
	MaxCodeBytes int
	RateLimit    *middleware.RateLimitConfig // nil disables rate limiting
	// WriteTimeout must outlast the slowest execute request: waiting for a
	// slot plus the round itself. Zero means defaultWriteTimeout.
	WriteTimeout time.Duration
}

const defaultWriteTimeout = 30 * time.Second

// Executor is the sandbox the server runs code in. It is closed with the
// server.
type Executor interface {
	executor.Executor
	handler.SlotReporter
	Close() error
}

// Server owns the router, the database connection and the executor.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	exec   Executor
}

// New opens the database and builds the routes. exec may be nil, in which
// case the run endpoints answer 503.
func New(cfg Config, logger *slog.Logger, exec Executor) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		exec:   exec,
	}
	s.setupRoutes()

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures middleware and routes.
//
//	GET    /healthz                → liveness and dependency state
//	GET    /metrics                → Prometheus metrics
//	POST   /api/execute            → one replay round of inline code
//	GET    /api/scripts            → list saved scripts
//	POST   /api/scripts            → save a script
//	GET    /api/scripts/{id}       → get a script
//	PUT    /api/scripts/{id}       → update a script
//	DELETE /api/scripts/{id}       → delete a script
//	POST   /api/scripts/{id}/run   → one replay round of a saved script
//
// Middleware runs in the order it is added: RequestID, RealIP, Logger,
// Recoverer. Rate limiting only wraps the two run endpoints.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// A nil interface value, not a typed nil, keeps the service's
	// "executor unavailable" branch reachable.
	var exec executor.Executor
	var slots handler.SlotReporter
	if s.exec != nil {
		exec = s.exec
		slots = s.exec
	}

	scriptService := service.NewScriptService(s.db, s.config.MaxCodeBytes, s.logger)
	executionService := service.NewExecutionService(exec, scriptService, s.logger)

	healthHandler := handler.NewHealthHandler(s.db, slots, s.logger)
	executeHandler := handler.NewExecuteHandler(executionService, s.logger)
	scriptHandler := handler.NewScriptHandler(scriptService, executionService, s.logger)

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	limit := func(next http.Handler) http.Handler { return next }
	if s.config.RateLimit != nil {
		limit = middleware.NewRateLimiter(*s.config.RateLimit).Handler
	}

	s.router.Route("/api", func(r chi.Router) {
		r.With(limit).Post("/execute", executeHandler.HandleExecute)

		r.Route("/scripts", func(r chi.Router) {
			r.Get("/", scriptHandler.HandleList)
			r.Post("/", scriptHandler.HandleCreate)
			r.Get("/{id}", scriptHandler.HandleGetByID)
			r.Put("/{id}", scriptHandler.HandleUpdate)
			r.Delete("/{id}", scriptHandler.HandleDelete)
			r.With(limit).Post("/{id}/run", scriptHandler.HandleRun)
		})
	})
}

// Close releases the executor and the database.
func (s *Server) Close() error {
	var errs []error
	if s.exec != nil {
		errs = append(errs, s.exec.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

func (s *Server) httpServer() *http.Server {
	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests for
// up to 30 seconds and closes the server's resources.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	srv := s.httpServer()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.Duration("writeTimeout", srv.WriteTimeout),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
