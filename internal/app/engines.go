package app

import (
	"vpc-gateway/internal/balancer"
	"vpc-gateway/internal/circuitbreaker"
	"vpc-gateway/internal/health"
	"vpc-gateway/internal/metrics"
	"vpc-gateway/internal/middleware"
	"vpc-gateway/internal/proxy"
	"vpc-gateway/internal/registry"
	"vpc-gateway/internal/routing"
)

func (app *App) initializeDataPlane() {
	app.Registry = registry.NewRegistry(app.Logger)
	app.Table = routing.NewTable(app.Logger)
	app.Balancer = balancer.New(app.Logger)
	app.Breakers = circuitbreaker.NewManager(circuitbreaker.Config{
		FailureThreshold:    app.Config.BreakerFailureThreshold,
		Cooldown:            app.Config.BreakerCooldown,
		HalfOpenMaxRequests: app.Config.BreakerHalfOpenMax,
	}, app.Logger)
	app.Collector = metrics.NewCollector()
	app.Monitor = health.NewMonitor(app.Registry, health.Config{
		ScanInterval: app.Config.HealthScanInterval,
	}, app.Logger)
}

// initializeEngine assembles the request path. Hook order matters: the
// tracing hook must run first so every later hook and the forwarded
// request see the request id and trace context.
func (app *App) initializeEngine() {
	hooks := []middleware.Hook{
		middleware.NewTracingHook(app.Logger),
		middleware.NewAccessLogHook(app.Logger),
		middleware.NewMetricsHook(app.Collector),
	}
	if app.Limiter != nil {
		hooks = append(hooks, middleware.NewRateLimitHook(app.Limiter, app.Logger))
	}

	app.Engine = proxy.NewEngine(proxy.EngineConfig{
		Table:        app.Table,
		Registry:     app.Registry,
		Balancer:     app.Balancer,
		Breakers:     app.Breakers,
		Chain:        middleware.NewChain(app.Logger, hooks...),
		Forwarder:    proxy.NewForwarder(app.Logger),
		Collector:    app.Collector,
		Logger:       app.Logger,
		MaxBodyBytes: app.Config.MaxBodyBytes,
	})
}

// wireHooks connects the cross-component notifications: breaker and
// health transitions feed the metrics collector and the event bus, and
// endpoints leaving the registry take their breaker and metric series
// with them.
func (app *App) wireHooks() {
	app.Breakers.SetStateChangeHook(func(endpoint string, from, to circuitbreaker.State) {
		app.Collector.SetBreakerState(endpoint, int(to))
		app.Events.BreakerStateChanged(endpoint, from.String(), to.String())
	})

	app.Monitor.SetTransitionHook(func(ep *registry.Endpoint, healthy bool) {
		app.Collector.SetEndpointHealth(ep.Service, ep.Addr(), healthy)
		app.Events.EndpointHealthChanged(ep.Service, ep.Addr(), healthy)
	})

	app.Registry.SetRemovalHook(func(ep *registry.Endpoint) {
		app.Breakers.Remove(ep.Addr())
		app.Collector.DeleteEndpoint(ep.Service, ep.Addr())
	})
}
