// Package app wires the gateway together: it builds the data plane and
// the admin API from the validated configuration, connects the store,
// Redis coordination and the event bus, and owns startup and shutdown
// ordering.
package app

import (
	"context"

	"github.com/google/uuid"

	"vpc-gateway/internal/auth"
	"vpc-gateway/internal/balancer"
	"vpc-gateway/internal/circuitbreaker"
	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/config"
	"vpc-gateway/internal/discovery"
	"vpc-gateway/internal/events"
	"vpc-gateway/internal/health"
	"vpc-gateway/internal/metrics"
	"vpc-gateway/internal/proxy"
	"vpc-gateway/internal/ratelimit"
	"vpc-gateway/internal/redis"
	"vpc-gateway/internal/registry"
	"vpc-gateway/internal/routing"
	"vpc-gateway/internal/store"
)

// App holds all the gateway's long-lived components.
type App struct {
	Config    *config.Config
	Logger    logging.Logger
	Store     store.Store
	Redis     *redis.Client
	Registry  *registry.Registry
	Table     *routing.Table
	Balancer  *balancer.Balancer
	Breakers  *circuitbreaker.Manager
	Collector *metrics.Collector
	Monitor   *health.Monitor
	Auth      *auth.Auth
	Limiter   *ratelimit.Limiter
	Events    events.Publisher
	Provider  *discovery.Provider
	Syncer    *discovery.Syncer
	Engine    *proxy.Engine

	// instance identifies this process in discovery events and on the
	// event bus, so peers can tell their own broadcasts apart.
	instance string
}

// New creates a gateway instance with all dependencies wired. The store
// is required; Redis is optional unless discovery depends on it.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
		instance: uuid.NewString(),
	}

	if err := app.initializeStore(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		if cfg.DiscoveryEnabled {
			return nil, err
		}
		app.Logger.Warn("Redis unavailable, continuing without coordination", logging.Err(err))
	}

	app.initializeAuth()
	app.initializeDataPlane()
	app.Limiter = app.initializeRateLimiter()
	app.initializeEvents()
	app.initializeDiscovery()
	app.initializeEngine()
	app.wireHooks()

	return app, nil
}

// Start seeds and applies the stored configuration and launches the
// background workers. The HTTP servers are started separately so a
// listen failure never leaves workers running.
func (app *App) Start(ctx context.Context) error {
	if app.Config.RoutesFile != "" {
		if err := app.seedFromFile(ctx, app.Config.RoutesFile); err != nil {
			return err
		}
	}
	if _, _, err := app.applyConfig(ctx); err != nil {
		return err
	}

	if app.Provider != nil {
		if err := app.Provider.Resync(ctx); err != nil {
			app.Logger.Warn("Initial endpoint resync failed", logging.Err(err))
		}
		if err := app.Provider.Start(ctx); err != nil {
			return err
		}
		if err := app.Syncer.Start(); err != nil {
			return err
		}
	}

	app.Monitor.Start()
	return nil
}

// StopBackground stops the health monitor, the resync scheduler and the
// discovery watcher. Runs after the listeners have drained.
func (app *App) StopBackground() {
	if app.Monitor != nil {
		app.Monitor.Stop()
	}
	if app.Syncer != nil {
		app.Syncer.Stop()
	}
	if app.Provider != nil {
		app.Provider.Stop()
	}
}

// Cleanup releases all resources.
func (app *App) Cleanup() {
	if app.Events != nil {
		app.Events.Close()
	}
	if app.Redis != nil {
		app.Redis.Close()
	}
	if app.Store != nil {
		app.Store.Close()
	}
}
