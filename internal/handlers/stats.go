package handlers

import (
	"net/http"
	"sort"
	"time"
)

// Stats is the gateway-wide operational summary.
type Stats struct {
	UptimeSeconds   int64         `json:"uptime_seconds"`
	Routes          int           `json:"routes"`
	RouteGeneration uint64        `json:"route_generation"`
	RoutesBuiltAt   time.Time     `json:"routes_built_at"`
	Services        int           `json:"services"`
	Endpoints       EndpointStats `json:"endpoints"`
	Breakers        BreakerStats  `json:"breakers"`
}

// EndpointStats counts endpoints by health.
type EndpointStats struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
}

// BreakerStats counts circuit breakers by state.
type BreakerStats struct {
	Closed   int `json:"closed"`
	Open     int `json:"open"`
	HalfOpen int `json:"half_open"`
}

// GetStats returns the operational summary.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	snap := h.table.Snapshot()
	stats := Stats{
		UptimeSeconds:   int64(time.Since(h.started).Seconds()),
		Routes:          snap.Len(),
		RouteGeneration: snap.Generation(),
		RoutesBuiltAt:   snap.BuiltAt(),
		Services:        h.registry.Len(),
	}

	for _, svc := range h.registry.Services() {
		for _, ep := range svc.Endpoints {
			stats.Endpoints.Total++
			if ep.Healthy() {
				stats.Endpoints.Healthy++
			}
		}
	}
	for _, b := range h.breakers.AllStats() {
		switch b.State {
		case "open":
			stats.Breakers.Open++
		case "half-open":
			stats.Breakers.HalfOpen++
		default:
			stats.Breakers.Closed++
		}
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// ListBreakers returns per-endpoint breaker statistics.
func (h *Handlers) ListBreakers(w http.ResponseWriter, r *http.Request) {
	stats := h.breakers.AllStats()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Endpoint < stats[j].Endpoint })
	h.respondJSON(w, http.StatusOK, stats)
}
