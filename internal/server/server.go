// Package server wires handlers, middleware and routes for the two HTTP
// services in this repository:
//
//   - the directory service (NewDirectory), which owns the SQLite store and
//     serves the /users wire contract
//   - the admin view (NewAdmin), which hosts one user list controller and
//     serves the admin page on top of it
//
// Both share the same middleware stack, /metrics endpoint and graceful
// shutdown in Start.
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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sakif/user-admin/internal/config"
	"github.com/sakif/user-admin/internal/handler"
	"github.com/sakif/user-admin/internal/middleware"
	sqliteRepo "github.com/sakif/user-admin/internal/repository/sqlite"
	"github.com/sakif/user-admin/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server is one HTTP service plus the resources it must release on shutdown.
type Server struct {
	router  *chi.Mux
	port    int
	name    string
	logger  *slog.Logger
	metrics *middleware.Metrics
	closers []func() error
}

func newServer(name string, port int, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		port:    port,
		name:    name,
		logger:  logger,
		metrics: middleware.NewMetrics(name),
	}

	// MIDDLEWARE ORDER MATTERS:
	// RequestID first so the logger can read it; Recoverer last so it sees
	// panics from every handler below it.
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(logger))
	s.router.Use(s.metrics.Middleware)
	s.router.Use(chimiddleware.Recoverer)

	s.router.Handle("/metrics", s.metrics.Handler())
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s
}

// NewDirectory builds the directory service: SQLite store → DirectoryService
// → UsersHandler.
//
// The returned service is also handed back so main can seed the store
// before serving.
func NewDirectory(cfg config.DirectoryConfig, logger *slog.Logger) (*Server, *service.DirectoryService, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	s := newServer("directory", cfg.Port, logger)
	s.closers = append(s.closers, db.Close)

	users := service.NewDirectoryService(db, logger)
	usersHandler := handler.NewUsersHandler(users, logger)

	s.router.Get("/users", usersHandler.HandleList)
	s.router.Post("/users", usersHandler.HandleRegister)
	s.router.Delete("/users", usersHandler.HandleDelete)

	if err := s.metrics.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "useradmin",
		Subsystem: "directory",
		Name:      "users",
		Help:      "Number of stored accounts",
	}, func() float64 {
		n, err := users.Count(context.Background())
		if err != nil {
			return 0
		}
		return float64(n)
	})); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("registering metrics: %w", err)
	}

	return s, users, nil
}

// NewAdmin builds the admin view around an existing controller. The caller
// owns the controller: it mounts it and closes it after Start returns.
func NewAdmin(cfg config.AdminConfig, logger *slog.Logger, view handler.UserListView) (*Server, error) {
	adminHandler, err := handler.NewAdminHandler(view, logger)
	if err != nil {
		return nil, fmt.Errorf("creating admin handler: %w", err)
	}

	s := newServer("admin", cfg.Port, logger)

	s.router.Get("/", adminHandler.HandlePage)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/state", adminHandler.HandleState)
		r.Get("/stream", adminHandler.HandleStream)
		r.Post("/refresh", adminHandler.HandleRefresh)
		r.Post("/users/delete", adminHandler.HandleDelete)
		r.Post("/search", adminHandler.HandleSearch)
		r.Post("/dismiss/{kind}", adminHandler.HandleDismiss)
	})

	err = s.metrics.Register(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "useradmin",
			Subsystem: "admin",
			Name:      "records",
			Help:      "Records in the current user list snapshot",
		}, func() float64 { return float64(len(view.Snapshot().Records)) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "useradmin",
			Subsystem: "admin",
			Name:      "loading",
			Help:      "1 while a reload is outstanding",
		}, func() float64 {
			if view.Snapshot().Loading {
				return 1
			}
			return 0
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up to
// 30 seconds and releases the server's resources.
func (s *Server) Start() error {
	defer s.close()

	// No WriteTimeout: /api/stream holds its connection open and sets its
	// own write deadlines.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("service", s.name),
			slog.Int("port", s.port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.port)),
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

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully", slog.String("service", s.name))
	}

	return nil
}

// Close releases resources without serving. Start does this itself.
func (s *Server) Close() error {
	return s.close()
}

func (s *Server) close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
