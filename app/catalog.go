package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/artpar/mockengine/domain/mockdef"
	"github.com/artpar/mockengine/ports"
	"github.com/rs/zerolog"
)

// ServiceCatalog serves service definitions to the dispatch hot path from an
// atomically-swapped snapshot, refreshed in the background, so a request
// never waits on the repository.
type ServiceCatalog struct {
	services ports.ServiceRepository
	clock    ports.Clock
	logger   zerolog.Logger

	cache atomic.Pointer[catalogSnapshot]

	refreshInterval time.Duration
	stopRefresh     chan struct{}
}

type catalogSnapshot struct {
	byKey       map[string]*mockdef.Service
	RefreshedAt time.Time
}

// ServiceCatalogConfig contains configuration for ServiceCatalog.
type ServiceCatalogConfig struct {
	RefreshInterval time.Duration // How often to reload services from the repository
}

// NewServiceCatalog creates a new service catalog.
func NewServiceCatalog(
	services ports.ServiceRepository,
	clock ports.Clock,
	logger zerolog.Logger,
	cfg ServiceCatalogConfig,
) *ServiceCatalog {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 30 * time.Second
	}

	return &ServiceCatalog{
		services:        services,
		clock:           clock,
		logger:          logger.With().Str("service", "catalog").Logger(),
		refreshInterval: cfg.RefreshInterval,
		stopRefresh:     make(chan struct{}),
	}
}

// Start loads the initial snapshot and begins the background refresh.
func (c *ServiceCatalog) Start(ctx context.Context) error {
	if err := c.Reload(ctx); err != nil {
		return err
	}

	go c.refreshLoop()

	return nil
}

// Stop stops the background refresh goroutine.
func (c *ServiceCatalog) Stop() {
	close(c.stopRefresh)
}

func (c *ServiceCatalog) refreshLoop() {
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopRefresh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.Reload(ctx); err != nil {
				c.logger.Error().Err(err).Msg("failed to refresh service catalog")
			}
			cancel()
		}
	}
}

// Reload rebuilds the snapshot from the repository and swaps it in.
func (c *ServiceCatalog) Reload(ctx context.Context) error {
	services, err := c.services.List(ctx)
	if err != nil {
		return err
	}

	byKey := make(map[string]*mockdef.Service, len(services))
	for i := range services {
		svc := services[i]
		byKey[catalogKey(svc.Name, svc.Version)] = &svc
	}

	c.cache.Store(&catalogSnapshot{
		byKey:       byKey,
		RefreshedAt: c.clock.Now(),
	})

	c.logger.Debug().Int("services", len(services)).Msg("service catalog reloaded")

	return nil
}

// FindByNameAndVersion returns the service identified by (name, version), or
// nil when unknown. Falls through to the repository when no snapshot has
// been built yet.
func (c *ServiceCatalog) FindByNameAndVersion(ctx context.Context, name, version string) *mockdef.Service {
	if snap := c.cache.Load(); snap != nil {
		return snap.byKey[catalogKey(name, version)]
	}

	svc, err := c.services.FindByNameAndVersion(ctx, name, version)
	if err != nil {
		c.logger.Error().Err(err).Str("name", name).Str("version", version).Msg("service lookup failed")
		return nil
	}
	return svc
}

func catalogKey(name, version string) string {
	return name + "|" + version
}
