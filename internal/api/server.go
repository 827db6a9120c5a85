// Package api serves the static bundle, the realtime feed, and the bundle
// version string.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bengawalk/kia-engine/internal/config"
	"github.com/bengawalk/kia-engine/internal/state"
)

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// BundlePaths locates the artifacts the server reads from disk.
type BundlePaths struct {
	Zip     string
	Version string
}

func NewServer(cfg *config.Config, st *state.State, paths BundlePaths, db HealthChecker, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)

	h := &handlers{st: st, paths: paths, db: db, log: log}
	r.Get("/gtfs.zip", h.gtfsZip)
	r.Get("/gtfs-rt.proto", h.gtfsRealtime)
	r.Get("/gtfs-version", h.gtfsVersion)
	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
