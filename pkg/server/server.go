// Package server exposes the action dispatcher over HTTP. Action errors
// carry a kind that maps onto an HTTP status, so clients can tell a bad
// request from a busy session from a dead browser.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/entrhq/pagedock/pkg/actions"
	"github.com/entrhq/pagedock/pkg/config"
	"github.com/entrhq/pagedock/pkg/logging"
	"github.com/entrhq/pagedock/pkg/session"
)

// Server is the HTTP front of the service.
type Server struct {
	dispatcher *actions.Dispatcher
	registry   *session.Registry
	httpServer *http.Server
	grace      time.Duration
	maxBody    int64
	log        *logging.Logger
}

// NewServer builds the route tree and the underlying http.Server.
func NewServer(dispatcher *actions.Dispatcher, registry *session.Registry, cfg config.ServerConfig) *Server {
	s := &Server{
		dispatcher: dispatcher,
		registry:   registry,
		grace:      cfg.ShutdownGrace.Duration(),
		maxBody:    cfg.MaxRequestBytes,
		log:        logging.NewLogger("server"),
	}
	if s.grace <= 0 {
		s.grace = 10 * time.Second
	}
	if s.maxBody <= 0 {
		s.maxBody = 1 << 20
	}

	router := chi.NewRouter()
	router.Use(s.logMiddleware)

	router.Route("/agent", func(r chi.Router) {
		r.Post("/visit", s.handleVisit)
		r.Post("/click", s.handleClick)
		r.Post("/type", s.handleType)
		r.Post("/scroll", s.handleScroll)
		r.Post("/wait", s.handleWait)
		r.Post("/extract", s.handleExtract)
		r.Post("/close", s.handleClose)
		r.Get("/screenshot", s.handleScreenshot)
		r.Get("/info", s.handleInfo)
		r.Get("/outline", s.handleOutline)
		r.Get("/sessions", s.handleSessions)
	})
	router.Get("/health", s.handleHealth)
	router.Get("/metrics", s.handleMetrics)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is canceled, then drains in-flight requests for
// the shutdown grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("http shutdown: %v", err)
		_ = s.httpServer.Close()
	}
	return <-errCh
}

// logMiddleware records one line per request with status and duration.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debugf("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
