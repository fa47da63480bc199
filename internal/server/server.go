// Package server wires services, the Huma API and static routes together.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-forest/internal/api"
	"github.com/joeblew999/plat-forest/internal/api/dashboard"
	"github.com/joeblew999/plat-forest/internal/config"
	"github.com/joeblew999/plat-forest/internal/db"
	"github.com/joeblew999/plat-forest/internal/observability"
	"github.com/joeblew999/plat-forest/internal/service"
	"github.com/joeblew999/plat-forest/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // Path to web/ directory for static files and templates
	Profile *config.Profile
	Watch   bool // Publish source file changes to dashboard streams
	NoDB    bool // Skip DuckDB; snapshot and query routes answer 503
}

// Server is the forest risk HTTP server.
type Server struct {
	config    Config
	logger    *slog.Logger
	mux       *http.ServeMux
	humaAPI   huma.API
	db        *sql.DB
	datasets  *service.DatasetService
	bus       *service.EventBus
	renderer  *templates.Renderer
	fragments string
	registry  *prometheus.Registry
}

// New creates a new server. A nil logger uses slog.Default.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Profile == nil {
		cfg.Profile = config.DefaultProfile()
	}

	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-forest API", api.Version)
	humaConfig.Info.Description = "Forest fire risk aggregation: area per severity level, high-risk area and vulnerability index."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)
	humaAPI.UseMiddleware(api.LoggerMiddleware(logger))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		config:   cfg,
		logger:   logger,
		mux:      mux,
		humaAPI:  humaAPI,
		bus:      service.NewEventBus(),
		registry: registry,
	}
	observability.RegisterBusDropped(registry, s.bus.Dropped)

	opts := []service.DatasetOption{
		service.WithMetrics(observability.NewMetrics(registry)),
		service.WithBus(s.bus),
	}
	if cfg.Watch {
		opts = append(opts, service.WithWatchedSources())
	}

	// Initialize DuckDB connection
	var store *db.SnapshotStore
	if !cfg.NoDB {
		conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "forest"})
		if err != nil {
			logger.Warn("duckdb unavailable, snapshots disabled", "error", err)
		} else if store, err = db.NewSnapshotStore(context.Background(), conn); err != nil {
			logger.Warn("snapshot store unavailable", "error", err)
		} else {
			s.db = conn
			opts = append(opts, service.WithRecorder(store))
		}
	}

	s.datasets = service.NewDatasetService(cfg.DataDir, cfg.Profile, opts...)

	s.fragments = s.fragmentsDir()
	renderer, err := templates.New(s.fragments)
	if err != nil {
		return nil, goerr.Wrap(err, "loading templates")
	}
	s.renderer = renderer

	var lister api.SnapshotLister
	if store != nil {
		lister = store
	}
	s.routes(lister)
	return s, nil
}

// fragmentsDir returns web/templates/fragments when it exists, or "" for the
// built-in fragments.
func (s *Server) fragmentsDir() string {
	if s.config.WebDir == "" {
		return ""
	}
	dir := filepath.Join(s.config.WebDir, "templates", "fragments")
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		s.logger.Info("loading fragment templates", "dir", dir)
		return dir
	}
	return ""
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Datasets returns the dataset service.
func (s *Server) Datasets() *service.DatasetService {
	return s.datasets
}

// Run serves HTTP on addr until ctx is cancelled, watching the sources
// directory when configured.
func (s *Server) Run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.config.Watch {
		w, err := service.NewWatcher(s.datasets.SourcesDir(), s.bus, s.logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })

		if s.fragments != "" {
			g.Go(func() error { return s.renderer.Watch(ctx, s.fragments, s.logger) })
		}
	}

	srv := &http.Server{Addr: addr, Handler: s}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return goerr.Wrap(err, "serving", goerr.V("addr", addr))
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			return goerr.Wrap(err, "shutting down")
		}
		return nil
	})

	return g.Wait()
}

// Close closes server resources.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return db.Close()
}

func (s *Server) routes(snapshots api.SnapshotLister) {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, &api.Services{Datasets: s.datasets})
	api.NewInfoHandler(s.config.DataDir, s.db != nil, s.config.Profile).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(s.db, snapshots).RegisterRoutes(s.humaAPI)

	// Dashboard SSE routes using Huma + Datastar SDK
	dashboard.NewKPIHandler(s.datasets, s.renderer).RegisterRoutes(s.humaAPI)
	dashboard.NewLayerHandler().RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Static files and pages
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
		s.mux.HandleFunc("/dashboard", s.handleDashboard)
	}
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-forest",
		"status":  "running",
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.config.WebDir, "templates", "dashboard.html"))
}
