package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/config"
	"vpc-gateway/internal/discovery"
	"vpc-gateway/internal/store"
)

// seedLockKey elects one importer when several instances sharing a store
// boot with the same route file.
const seedLockKey = "config:seed"

// applyConfig rebuilds the route table and the declared part of the
// registry from the store, and returns the number of routes and services
// applied. Services the registry learned purely through discovery are
// left alone; the registry replaces endpoints per service, never whole
// services.
func (app *App) applyConfig(ctx context.Context) (int, int, error) {
	routeSpecs, err := app.Store.ListRoutes()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load routes: %w", err)
	}
	serviceSpecs, err := app.Store.ListServices()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load services: %w", err)
	}

	file := config.RouteFile{Routes: routeSpecs, Services: serviceSpecs}
	routes, err := file.BuildRoutes()
	if err != nil {
		return 0, 0, err
	}
	if _, err := app.Table.Replace(routes); err != nil {
		return 0, 0, err
	}

	for _, svc := range serviceSpecs {
		if err := discovery.ApplyService(app.Registry, svc); err != nil {
			return 0, 0, err
		}
	}

	active := make(map[string]bool, len(routes))
	for _, route := range routes {
		active[route.ID] = true
	}
	app.Balancer.Prune(active)

	return len(routes), len(serviceSpecs), nil
}

// applyAndBroadcast rebuilds the local data plane from the store, then
// notifies peer instances and the ops event stream. Mutation handlers
// run this; peers react with a local-only apply so the reload does not
// echo back and forth.
func (app *App) applyAndBroadcast(ctx context.Context) (int, int, error) {
	routes, services, err := app.applyConfig(ctx)
	if err != nil {
		return 0, 0, err
	}

	if app.Provider != nil {
		if err := app.Provider.PublishRouteReload(ctx); err != nil {
			app.Logger.Warn("Failed to broadcast configuration reload", logging.Err(err))
		}
	}
	app.Events.ConfigApplied(routes, services)

	return routes, services, nil
}

// seedFromFile imports a declarative route file into an empty store. A
// store that already holds routes or services wins over the file, so
// edits made through the admin API survive restarts. The file is
// validated in full before the first write.
func (app *App) seedFromFile(ctx context.Context, path string) error {
	file, err := config.LoadRouteFile(path)
	if err != nil {
		return err
	}
	routes, err := file.BuildRoutes()
	if err != nil {
		return fmt.Errorf("invalid route file %s: %w", path, err)
	}
	for _, route := range routes {
		if err := route.Validate(); err != nil {
			return fmt.Errorf("invalid route file %s: %w", path, err)
		}
	}
	for _, svc := range file.Services {
		if err := svc.Validate(); err != nil {
			return fmt.Errorf("invalid route file %s: %w", path, err)
		}
		if _, err := svc.HealthSpec(); err != nil {
			return fmt.Errorf("invalid route file %s: %w", path, err)
		}
	}

	existingRoutes, err := app.Store.ListRoutes()
	if err != nil {
		return err
	}
	existingServices, err := app.Store.ListServices()
	if err != nil {
		return err
	}
	if len(existingRoutes) > 0 || len(existingServices) > 0 {
		app.Logger.Info("Store already populated, skipping route file import",
			logging.String("file", path))
		return nil
	}

	if app.Redis != nil {
		acquired, err := app.Redis.AcquireLock(ctx, seedLockKey, 30*time.Second)
		if err != nil {
			app.Logger.Warn("Seed lock unavailable, importing anyway", logging.Err(err))
		} else if !acquired {
			app.Logger.Info("Another instance holds the seed lock, skipping route file import")
			return nil
		} else {
			defer func() {
				if err := app.Redis.ReleaseLock(ctx, seedLockKey); err != nil {
					app.Logger.Warn("Failed to release seed lock", logging.Err(err))
				}
			}()
		}
	}

	for _, svc := range file.Services {
		if err := app.Store.SaveService(svc); err != nil {
			return fmt.Errorf("failed to import service %s: %w", svc.ID, err)
		}
	}
	for _, spec := range file.Routes {
		// A concurrent seeder may have won a race on an individual route.
		if err := app.Store.CreateRoute(spec); err != nil && !errors.Is(err, store.ErrRouteExists) {
			return fmt.Errorf("failed to import route %s: %w", spec.ID, err)
		}
	}

	app.Logger.Info("Imported route file",
		logging.String("file", path),
		logging.Int("routes", len(file.Routes)),
		logging.Int("services", len(file.Services)),
	)
	return nil
}
