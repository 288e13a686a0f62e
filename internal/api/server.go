// Package api serves the workbench over HTTP: submission, session
// retrieval, the shared state document and the run-control surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dyluth/patchbay/internal/control"
	"github.com/dyluth/patchbay/internal/logging"
	"github.com/dyluth/patchbay/internal/metrics"
)

// Pinger reports whether the state backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// PublicMetrics mounts /metrics.
	PublicMetrics bool
}

// Server is the HTTP front end of a control.Service.
type Server struct {
	svc    *control.Service
	health Pinger
	opts   Options
	logger *logging.Logger
}

// New creates a Server. health may be nil, in which case /healthz only
// reports that the process is up.
func New(svc *control.Service, health Pinger, opts Options, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{svc: svc, health: health, opts: opts, logger: logger.Named("api")}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	if s.opts.PublicMetrics {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/submit", s.handleSubmit)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/version", s.handleVersion)

		r.Get("/state", s.handleGetState)
		r.Post("/state", s.handleUpdateState)

		r.Route("/run", func(r chi.Router) {
			r.Get("/ui", s.handleRunUI)
			r.Get("/params", s.handleRunParams)
			r.Post("/param", s.handleRunParam)
			r.Post("/transport", s.handleRunTransport)
			r.Post("/trigger", s.handleRunTrigger)
			r.Post("/midi", s.handleRunMidi)
			r.Get("/polyphony", s.handleGetPolyphony)
			r.Post("/polyphony", s.handleSetPolyphony)
		})

		r.Route("/{sha}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)
			r.Get("/neighbors", s.handleNeighbors)
			r.Get("/svg", s.handleListDiagrams)
			r.Get("/svg/{name}", s.handleDiagram)
			r.Get("/{file}", s.handleSessionFile)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Submissions wait for the compiler.
		WriteTimeout: 2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Event("server_listening", map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Event("server_stopped", nil)
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		fields := map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.logger.Warn("request failed", fields)
			return
		}
		s.logger.Debug("request", fields)
	})
}
