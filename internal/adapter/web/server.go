package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tg-filestream/internal/config"
	"tg-filestream/internal/pkg/ratelimit"
	"tg-filestream/internal/usecase"
)

// Server hosts the public HTTP surface.
type Server struct {
	cfg *config.Config
	log *zap.Logger
	srv *http.Server
}

// New builds the router and the HTTP server around the streaming service.
func New(cfg *config.Config, log *zap.Logger, svc *usecase.Service) *Server {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler: newRouter(cfg, log, svc),
		// Streams may legitimately run for hours; the stale-stream reaper is
		// the backstop, not a write timeout.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}
	return &Server{cfg: cfg, log: log.Named("server"), srv: srv}
}

// newRouter wires middleware and routes around the streaming service.
func newRouter(cfg *config.Config, log *zap.Logger, svc *usecase.Service) chi.Router {
	h := NewHandler(svc, log)
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(limiter, log.Named("ratelimit")))
		r.Get("/dl/{ref}", h.Download)

		r.Group(func(r chi.Router) {
			r.Use(corsMiddleware(cfg.CORSAllowedOrigins))
			r.Get("/stream/{ref}", h.Stream)
			r.Options("/stream/{ref}", func(w http.ResponseWriter, r *http.Request) {
				// Preflights are fully answered by the CORS middleware.
			})
		})
	})

	r.Get("/api/info", h.Info)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Run serves until ctx is cancelled, then drains with the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info("shutting down", zap.Duration("timeout", s.cfg.ShutdownTimeout))
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
