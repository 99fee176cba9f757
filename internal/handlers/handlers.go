// Package handlers implements the admin API: route and service CRUD
// backed by the store, live endpoint and breaker views, configuration
// apply, and the liveness and readiness probes. Proxied traffic never
// passes through here; the data plane has its own hook chain.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"vpc-gateway/internal/auth"
	"vpc-gateway/internal/circuitbreaker"
	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/discovery"
	"vpc-gateway/internal/redis"
	"vpc-gateway/internal/registry"
	"vpc-gateway/internal/routing"
	"vpc-gateway/internal/store"
)

// ConfigApplier rebuilds the running data plane from persistent storage.
// The app wires in an implementation that also mirrors endpoint sets to
// Redis, notifies peer instances, and emits an operational event.
type ConfigApplier interface {
	Apply(ctx context.Context) (routes int, services int, err error)
}

// ApplierFunc adapts a function to the ConfigApplier interface.
type ApplierFunc func(ctx context.Context) (int, int, error)

// Apply implements ConfigApplier.
func (f ApplierFunc) Apply(ctx context.Context) (int, int, error) { return f(ctx) }

// Handlers carries the admin API's dependencies. provider and redis may
// be nil when discovery or Redis is not configured.
type Handlers struct {
	store    store.Store
	table    *routing.Table
	registry *registry.Registry
	breakers *circuitbreaker.Manager
	auth     *auth.Auth
	applier  ConfigApplier
	provider *discovery.Provider
	redis    *redis.Client
	logger   logging.Logger
	started  time.Time
}

// New creates the handler set.
func New(st store.Store, table *routing.Table, reg *registry.Registry, breakers *circuitbreaker.Manager, a *auth.Auth, applier ConfigApplier, provider *discovery.Provider, redisClient *redis.Client, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		store:    st,
		table:    table,
		registry: reg,
		breakers: breakers,
		auth:     a,
		applier:  applier,
		provider: provider,
		redis:    redisClient,
		logger:   logger.WithFields(logging.String("component", "admin-api")),
		started:  time.Now(),
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.InternalError("internal error", err)
	}
	h.respondJSON(w, appErr.HTTPStatus(), map[string]string{
		"error": appErr.Message,
		"type":  string(appErr.Type),
	})
}

// applyConfig pushes the stored configuration into the running data
// plane after a mutation. The write has already succeeded; on apply
// failure the previous snapshot keeps serving and the caller is told.
func (h *Handlers) applyConfig(ctx context.Context) error {
	routes, services, err := h.applier.Apply(ctx)
	if err != nil {
		h.logger.Error("Failed to apply configuration", err)
		return apperrors.ConfigError("configuration saved but not applied: " + err.Error())
	}
	h.logger.Info("Configuration applied",
		logging.Int("routes", routes),
		logging.Int("services", services),
	)
	return nil
}

// Healthz is the liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz is the readiness probe: the store and Redis (when configured)
// must answer before the instance accepts admin traffic.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if err := h.store.Ping(); err != nil {
		checks["store"] = err.Error()
		ready = false
	} else {
		checks["store"] = "ok"
	}
	if h.redis != nil {
		if err := h.redis.Health(); err != nil {
			checks["redis"] = err.Error()
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	h.respondJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}
