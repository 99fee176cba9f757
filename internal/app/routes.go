package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"vpc-gateway/internal/handlers"
	"vpc-gateway/internal/middleware"
	"vpc-gateway/internal/ratelimit"
)

// SetupAdminRoutes configures the admin API router. Probes, metrics and
// login stay open; everything under /api/v1 requires a bearer token.
func SetupAdminRoutes(router *mux.Router, h *handlers.Handlers, metricsHandler http.Handler, authMiddleware func(http.Handler) http.Handler, limiter *ratelimit.Limiter) {
	// Request id and access logging on every admin request.
	router.Use(middleware.LoggingMiddleware)

	// Probes and metrics (no auth required)
	router.HandleFunc("/healthz", h.Healthz).Methods("GET")
	router.HandleFunc("/readyz", h.Readyz).Methods("GET")
	router.Handle("/metrics", metricsHandler).Methods("GET")

	// Login (no auth required)
	router.HandleFunc("/api/v1/auth/login", h.Login).Methods("POST")

	// Protected routes - require authentication and rate limiting
	protected := router.NewRoute().Subrouter()
	protected.Use(authMiddleware)
	if limiter != nil {
		protected.Use(limiter.HTTPMiddleware(ratelimit.IPBasedKey))
	}

	api := protected.PathPrefix("/api/v1").Subrouter()

	// Route management
	api.HandleFunc("/routes", h.ListRoutes).Methods("GET")
	api.HandleFunc("/routes", h.CreateRoute).Methods("POST")
	api.HandleFunc("/routes/{id}", h.GetRoute).Methods("GET")
	api.HandleFunc("/routes/{id}", h.UpdateRoute).Methods("PUT")
	api.HandleFunc("/routes/{id}", h.DeleteRoute).Methods("DELETE")

	// Service management
	api.HandleFunc("/services", h.ListServices).Methods("GET")
	api.HandleFunc("/services/{id}", h.GetService).Methods("GET")
	api.HandleFunc("/services/{id}", h.SaveService).Methods("PUT")
	api.HandleFunc("/services/{id}", h.DeleteService).Methods("DELETE")
	api.HandleFunc("/services/{id}/endpoints", h.ServiceEndpoints).Methods("GET")

	// Live state
	api.HandleFunc("/endpoints", h.ListEndpoints).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/breakers", h.ListBreakers).Methods("GET")

	// Whole-config operations
	api.HandleFunc("/config", h.GetConfig).Methods("GET")
	api.HandleFunc("/config/apply", h.ApplyConfig).Methods("POST")
}
