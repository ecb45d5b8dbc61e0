// Package server exposes the warehouse demo over a JSON HTTP API: fixture
// generation, both commit paths, table inspection and state reset, plus the
// usual health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/floelabs/icefloe/pkg/commit"
	"github.com/floelabs/icefloe/pkg/metrics"
	"github.com/floelabs/icefloe/pkg/objectstore"
	"github.com/floelabs/icefloe/pkg/table"
)

type Config struct {
	Logger *slog.Logger

	Bind string
	Port int

	Store   *table.Store
	Router  *commit.Router
	Objects *objectstore.Client

	// TableID is the events table the commit endpoints target.
	TableID string

	// DataDir is where fixture files are written when a request does not
	// name a path.
	DataDir string

	// RateLimit is requests per second per client IP on mutating endpoints;
	// zero disables limiting.
	RateLimit float64
	RateBurst int

	Version string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("table store is required")
	}
	if cfg.Router == nil {
		return errors.New("commit router is required")
	}
	if cfg.Objects == nil {
		return errors.New("object store client is required")
	}
	if cfg.TableID == "" {
		return errors.New("table id is required")
	}
	return nil
}

type Server struct {
	log     *slog.Logger
	cfg     Config
	router  *chi.Mux
	store   *table.Store
	commits *commit.Router
	objects *objectstore.Client
	limiter *rateLimiter
	srv     *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 10
	}

	s := &Server{
		log:     cfg.Logger,
		cfg:     cfg,
		router:  chi.NewRouter(),
		store:   cfg.Store,
		commits: cfg.Router,
		objects: cfg.Objects,
	}
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Middleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			s.limiter = newRateLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
			r.Use(s.limiter.middleware)
		}

		r.Get("/inspect", s.handleInspect)
		r.Get("/preview", s.handlePreview)
		r.Get("/exists", s.handleExists)

		r.Post("/generate", s.handleGenerate)
		r.Post("/rewrite", s.handleRewrite)
		r.Post("/upload", s.handleUpload)
		r.Post("/append", s.handleAppend)
		r.Post("/register", s.handleRegister)
		r.Post("/rows", s.handleRows)
		r.Post("/reset", s.handleReset)
		r.Post("/ensure-bucket", s.handleEnsureBucket)
	})
}

// Handler returns the configured HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if s.limiter != nil {
		s.limiter.close()
	}
	return s.srv.Shutdown(ctx)
}
