package handlers

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"vpc-gateway/internal/circuitbreaker"
	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/registry"
)

// EndpointView is the live state of one endpoint as reported over the
// admin API.
type EndpointView struct {
	Service           string `json:"service"`
	ID                string `json:"id"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Healthy           bool   `json:"healthy"`
	ActiveConnections int64  `json:"active_connections"`
	BreakerState      string `json:"breaker_state"`
}

// ListEndpoints returns the live endpoint state for every service.
func (h *Handlers) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	services := h.registry.Services()
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })

	views := make([]EndpointView, 0)
	for _, svc := range services {
		views = append(views, h.endpointViews(svc.ID, svc.Endpoints)...)
	}
	h.respondJSON(w, http.StatusOK, views)
}

// ServiceEndpoints returns the live endpoint state for one service.
func (h *Handlers) ServiceEndpoints(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.registry.HealthCheck(id); !ok {
		h.respondError(w, apperrors.NotFoundError("service"))
		return
	}
	h.respondJSON(w, http.StatusOK, h.endpointViews(id, h.registry.Lookup(id)))
}

func (h *Handlers) endpointViews(service string, eps []*registry.Endpoint) []EndpointView {
	views := make([]EndpointView, 0, len(eps))
	for _, ep := range eps {
		views = append(views, EndpointView{
			Service:           service,
			ID:                ep.ID,
			Host:              ep.Host,
			Port:              ep.Port,
			Healthy:           ep.Healthy(),
			ActiveConnections: ep.ActiveConnections(),
			BreakerState:      h.breakerState(ep.ID),
		})
	}
	return views
}

// breakerState reports an endpoint's breaker state; endpoints that have
// never seen traffic have no breaker yet and report closed.
func (h *Handlers) breakerState(endpoint string) string {
	if b, ok := h.breakers.Lookup(endpoint); ok {
		return b.State().String()
	}
	return circuitbreaker.StateClosed.String()
}
