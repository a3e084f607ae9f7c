// Package api is the HTTP surface of the poller: health, metrics, manual
// checks and match listing.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"campwatch/internal/metrics"
	"campwatch/internal/model"
	"campwatch/internal/scheduler"
)

// Store is the persistence the API reads from.
type Store interface {
	Ping(ctx context.Context) error
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	ListMatches(ctx context.Context, alertID string) ([]model.AlertMatch, error)
}

// Checker runs an on-demand availability check.
type Checker interface {
	CheckNow(ctx context.Context, alertID string) (*scheduler.CheckResult, error)
}

// NewRouter creates the chi router with all middleware and routes.
func NewRouter(store Store, checker Checker, log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	h := &handler{store: store, checker: checker, log: log}

	r.Get("/healthz", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/alerts/{alertID}", func(r chi.Router) {
		r.Post("/check", h.checkAlert)
		r.Get("/matches", h.listMatches)
	})

	return r
}

// requestLogger logs one line per request at debug level, or warn for 5xx.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).Round(time.Millisecond),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Server wraps http.Server with context-driven shutdown.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, h http.Handler, log *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			// Manual checks wait on upstream retries.
			WriteTimeout:   3 * time.Minute,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		log: log,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	s.log.Info("shutting down http server")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
