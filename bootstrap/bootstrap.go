// Package bootstrap wires all dependencies and starts the mock dispatch
// engine: configuration, logging, repositories, the dispatch pipeline, and
// the HTTP server.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/artpar/mockengine/adapters/clock"
	httpadapter "github.com/artpar/mockengine/adapters/http"
	"github.com/artpar/mockengine/adapters/idgen"
	"github.com/artpar/mockengine/adapters/memory"
	"github.com/artpar/mockengine/adapters/metrics"
	"github.com/artpar/mockengine/adapters/sqlite"
	"github.com/artpar/mockengine/app"
	"github.com/artpar/mockengine/config"
	"github.com/artpar/mockengine/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Catalog    *app.ServiceCatalog
	Engine     *app.MockDispatchService

	holder         *config.Holder
	fixtureWatcher *memory.FixtureWatcher
}

// New builds the application from a loaded configuration.
func New(cfg *config.Config) (*App, error) {
	logger := newLogger(cfg.Logging)

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	var serviceRepo ports.ServiceRepository
	var responseRepo ports.ResponseRepository
	var stateRepo ports.ServiceStateRepository

	switch cfg.Repository.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Repository.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		a.DB = db

		store := sqlite.NewMockStore(db)
		serviceRepo = store
		responseRepo = store
		stateRepo = sqlite.NewStateStore(db)

	default: // memory
		store := memory.NewMockStore()
		serviceRepo = store
		responseRepo = store
		stateRepo = memory.NewStateStore()

		if cfg.Repository.FixturePath != "" {
			watcher, err := memory.NewFixtureWatcher(store, cfg.Repository.FixturePath, idgen.UUID{}, logger)
			if err != nil {
				return nil, fmt.Errorf("load fixture: %w", err)
			}
			a.fixtureWatcher = watcher
		}
	}

	catalog := app.NewServiceCatalog(serviceRepo, clock.Real{}, logger, app.ServiceCatalogConfig{
		RefreshInterval: cfg.Repository.RefreshInterval,
	})
	a.Catalog = catalog

	if a.fixtureWatcher != nil {
		a.fixtureWatcher.OnReload(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := catalog.Reload(ctx); err != nil {
				logger.Error().Err(err).Msg("catalog reload after fixture change failed")
			}
		})
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		a.Metrics = metrics.NewWithRegistry(registry)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	var sink ports.InvocationSink
	if a.Metrics != nil {
		sink = metrics.NewSink(a.Metrics, logger)
	}

	engine := app.NewMockDispatchService(app.MockDispatchDeps{
		Catalog:   catalog,
		Responses: responseRepo,
		State:     stateRepo,
		Scripts:   app.NewScriptService(logger),
		Templates: app.NewTemplateService(),
		Proxy:     httpadapter.NewUpstreamClient(httpadapter.UpstreamConfig{}),
		Sink:      sink,
		Clock:     clock.Real{},
		IDGen:     idgen.UUID{},
	}, mockConfigFrom(cfg), logger)
	a.Engine = engine

	handler := httpadapter.NewMockHandler(engine, logger, cfg.Server.ContextPath)
	if a.Metrics != nil {
		handler.SetMetrics(a.Metrics)
	}

	router := httpadapter.NewRouter(handler, httpadapter.RouterConfig{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		MetricsHandler: metricsHandler,
	})

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// NewWithHotReload builds the application with a watched config file:
// runtime toggles (CORS, invocation stats) apply without a restart.
func NewWithHotReload(cfgPath string) (*App, error) {
	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	holder, err := config.NewHolder(cfgPath, bootLogger)
	if err != nil {
		return nil, err
	}

	a, err := New(holder.Get())
	if err != nil {
		holder.Stop()
		return nil, err
	}
	a.holder = holder

	holder.OnChange(func(cfg *config.Config) {
		a.Engine.UpdateConfig(mockConfigFrom(cfg))
	})

	if err := holder.WatchFile(); err != nil {
		a.Logger.Error().Err(err).Msg("config file watch unavailable")
	}
	holder.WatchSignals()

	return a, nil
}

// Start loads the catalog snapshot and begins background refresh loops.
func (a *App) Start(ctx context.Context) error {
	if err := a.Catalog.Start(ctx); err != nil {
		return fmt.Errorf("start catalog: %w", err)
	}

	if a.fixtureWatcher != nil {
		if err := a.fixtureWatcher.Watch(); err != nil {
			a.Logger.Error().Err(err).Msg("fixture watch unavailable, relying on refresh ticker")
		}
	}

	return nil
}

// Run starts the application and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("mock engine listening")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Shutdown stops the HTTP server and background loops, then releases
// resources.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		firstErr = err
	}

	a.Catalog.Stop()

	if a.fixtureWatcher != nil {
		a.fixtureWatcher.Stop()
	}
	if a.holder != nil {
		a.holder.Stop()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func mockConfigFrom(cfg *config.Config) app.MockConfig {
	return app.MockConfig{
		EnableInvocationStats: cfg.Mocks.EnableInvocationStats,
		EnableCORSPolicy:      cfg.Mocks.REST.EnableCORSPolicy,
		CORSAllowedOrigins:    cfg.Mocks.REST.CORS.AllowedOrigins,
		CORSAllowCredentials:  cfg.Mocks.REST.CORS.AllowCredentials,
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if strings.EqualFold(cfg.Format, "console") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(level).With().Timestamp().Logger()
}
