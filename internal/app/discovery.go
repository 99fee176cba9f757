package app

import (
	"context"

	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/discovery"
)

func (app *App) initializeDiscovery() {
	if !app.Config.DiscoveryEnabled {
		return
	}

	app.Provider = discovery.NewProvider(app.Redis, app.Registry, discovery.ProviderConfig{
		Instance: app.instance,
		OnReload: app.onPeerReload,
	}, app.Logger)
	app.Syncer = discovery.NewSyncer(app.Config.DiscoveryResyncCron, app.reconcile, app.Logger)

	app.Logger.Info("Discovery: Enabled",
		logging.String("resync", app.Config.DiscoveryResyncCron))
}

// reconcile reloads the declared configuration from the store and then
// overlays the endpoint sets published in Redis. Both the resync
// schedule and peer reload notifications run it.
func (app *App) reconcile(ctx context.Context) error {
	if _, _, err := app.applyConfig(ctx); err != nil {
		return err
	}
	if app.Provider != nil {
		return app.Provider.Resync(ctx)
	}
	return nil
}

// onPeerReload runs when another instance broadcasts a configuration
// change. The apply stays local; rebroadcasting here would echo the
// reload between instances forever.
func (app *App) onPeerReload() {
	ctx, cancel := context.WithTimeout(context.Background(), app.Config.ShutdownTimeout)
	defer cancel()

	if err := app.reconcile(ctx); err != nil {
		app.Logger.Error("Failed to apply peer configuration change", err)
		return
	}
	app.Logger.Info("Applied configuration change from peer")
}
