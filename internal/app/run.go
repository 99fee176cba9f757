package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/config"
)

// Run is the main entry point for the gateway process.
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	runtime.GOMAXPROCS(runtime.NumCPU())

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting vpc-gateway", logging.Int("cpus", runtime.NumCPU()))

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	// Initialize application
	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	// Seed and apply configuration, start background workers
	if err := app.Start(context.Background()); err != nil {
		logging.Error("Failed to start application", err)
		return err
	}

	// Start the listeners, admin first so probes answer while the data
	// plane binds.
	proxySrv, adminSrv := app.BuildServers()
	if err := adminSrv.Start(); err != nil {
		logging.Error("Admin server failed to start", err)
		app.StopBackground()
		return err
	}
	if err := proxySrv.Start(); err != nil {
		logging.Error("Proxy server failed to start", err)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
		app.StopBackground()
		return err
	}

	// Wait for an interrupt or a listener giving up
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logging.Info("Shutting down", logging.String("signal", sig.String()))
	case err = <-proxySrv.Failed():
		logging.Error("Proxy server failed", err)
	case err = <-adminSrv.Failed():
		logging.Error("Admin server failed", err)
	}

	// Graceful shutdown: stop accepting requests, drain, then retire the
	// background workers.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if shutdownErr := proxySrv.Shutdown(ctx); shutdownErr != nil {
		logging.Warn("Proxy server drain incomplete", logging.Err(shutdownErr))
	}
	if shutdownErr := adminSrv.Shutdown(ctx); shutdownErr != nil {
		logging.Warn("Admin server drain incomplete", logging.Err(shutdownErr))
	}
	app.StopBackground()

	logging.Info("Gateway exited")
	return err
}
