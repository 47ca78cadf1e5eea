// Package server exposes authentication and synchronization over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/isometry/adbridge/internal/auth"
	"github.com/isometry/adbridge/internal/dirsync"
	"github.com/isometry/adbridge/internal/metrics"
)

const shutdownTimeout = 15 * time.Second

// Authenticator runs one login attempt.
type Authenticator interface {
	Authenticate(ctx context.Context, login, password string) auth.Result
}

// Runner runs one synchronization pass.
type Runner interface {
	Run(ctx context.Context) (dirsync.Summary, error)
}

type Config struct {
	Listen        string
	AuthRateLimit float64
	AuthBurst     int
}

// Deps are the components served. Nil runners disable their routes.
type Deps struct {
	Authenticator Authenticator
	ToLocal       Runner
	ToDirectory   Runner
	// Ready checks that the directory is reachable.
	Ready    func(ctx context.Context) error
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

type Server struct {
	config  Config
	deps    Deps
	logger  hclog.Logger
	limiter *ipRateLimiter
	router  chi.Router

	toLocalMu     sync.Mutex
	toDirectoryMu sync.Mutex
}

func New(config Config, deps Deps, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{
		config:  config,
		deps:    deps,
		logger:  logger,
		limiter: newIPRateLimiter(config.AuthRateLimit, config.AuthBurst),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.deps.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.deps.Authenticator != nil {
			r.With(s.limiter.middleware).Post("/authenticate", s.handleAuthenticate)
		}
		if s.deps.ToLocal != nil {
			r.Post("/sync/to-local", s.syncHandler(metrics.DirectionToLocal, s.deps.ToLocal, &s.toLocalMu))
		}
		if s.deps.ToDirectory != nil {
			r.Post("/sync/to-directory", s.syncHandler(metrics.DirectionToDirectory, s.deps.ToDirectory, &s.toDirectoryMu))
		}
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", s.config.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
				"duration", time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}
