package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lifeline-edge/triage/internal/handler/health"
	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/offline"
	"github.com/lifeline-edge/triage/internal/planner"
	"github.com/lifeline-edge/triage/internal/prefs"
	"github.com/lifeline-edge/triage/internal/remote"
	"github.com/lifeline-edge/triage/internal/stream"
)

// Deps are the engine components the HTTP surface exposes. Classifier and
// Warnings may be nil when no remote collaborator is configured.
type Deps struct {
	Catalog    *hazard.Catalog
	Offline    *offline.Layer
	Content    *remote.Content
	Classifier *remote.Classifier
	Warnings   *remote.Warnings
	Planner    *planner.Planner
	Answerer   *stream.Answerer
	Prefs      *prefs.Store
	// Origin serves the embedded content under /origin when set.
	Origin http.Handler
	Checks map[string]health.Checker

	SessionTTL   time.Duration
	SensorWindow time.Duration
	SPADir       string
}

type Server struct {
	srv      *http.Server
	sessions *Sessions
	logger   *slog.Logger
}

func New(addr string, logger *slog.Logger, deps Deps) *Server {
	h, sessions := newRouter(logger, deps)
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		sessions: sessions,
		logger:   logger,
	}
}

func newRouter(logger *slog.Logger, deps Deps) (*chi.Mux, *Sessions) {
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = time.Hour
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(logger))
	r.Use(middleware.Recoverer)

	broker := NewBroker()
	sessions := NewSessions(deps.SessionTTL, deps.Catalog, broker, logger)
	addRoutes(r, logger, deps, sessions, broker)
	return r, sessions
}

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s.sessions.CloseAll()
	return s.srv.Shutdown(ctx)
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
