package handlers

import (
	"net/http"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/config"
)

// GetConfig renders the full declarative configuration from the store,
// in the same shape as the boot-time route file.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	routes, err := h.store.ListRoutes()
	if err != nil {
		h.respondError(w, apperrors.InternalError("failed to list routes", err))
		return
	}
	services, err := h.store.ListServices()
	if err != nil {
		h.respondError(w, apperrors.InternalError("failed to list services", err))
		return
	}
	if routes == nil {
		routes = []config.RouteSpec{}
	}
	if services == nil {
		services = []config.ServiceSpec{}
	}
	h.respondJSON(w, http.StatusOK, config.RouteFile{Routes: routes, Services: services})
}

// ApplyConfig rebuilds the data plane from the store on demand.
func (h *Handlers) ApplyConfig(w http.ResponseWriter, r *http.Request) {
	routes, services, err := h.applier.Apply(r.Context())
	if err != nil {
		h.respondError(w, apperrors.ConfigError("failed to apply configuration: "+err.Error()))
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"routes":     routes,
		"services":   services,
		"generation": h.table.Snapshot().Generation(),
	})
}
