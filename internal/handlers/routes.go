package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/config"
	"vpc-gateway/internal/store"
)

// ListRoutes returns every stored route spec.
func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	specs, err := h.store.ListRoutes()
	if err != nil {
		h.respondError(w, apperrors.InternalError("failed to list routes", err))
		return
	}
	if specs == nil {
		specs = []config.RouteSpec{}
	}
	h.respondJSON(w, http.StatusOK, specs)
}

// GetRoute returns one stored route spec.
func (h *Handlers) GetRoute(w http.ResponseWriter, r *http.Request) {
	spec, err := h.store.GetRoute(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrRouteNotFound) {
			h.respondError(w, apperrors.NotFoundError("route"))
			return
		}
		h.respondError(w, apperrors.InternalError("failed to load route", err))
		return
	}
	h.respondJSON(w, http.StatusOK, spec)
}

// CreateRoute validates, persists, and applies a new route.
func (h *Handlers) CreateRoute(w http.ResponseWriter, r *http.Request) {
	spec, err := decodeRouteSpec(r, "")
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.store.CreateRoute(spec); err != nil {
		if errors.Is(err, store.ErrRouteExists) {
			h.respondError(w, apperrors.ConflictError("route"))
			return
		}
		h.respondError(w, apperrors.InternalError("failed to save route", err))
		return
	}
	if err := h.applyConfig(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, spec)
}

// UpdateRoute replaces a stored route.
func (h *Handlers) UpdateRoute(w http.ResponseWriter, r *http.Request) {
	spec, err := decodeRouteSpec(r, mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.store.UpdateRoute(spec); err != nil {
		if errors.Is(err, store.ErrRouteNotFound) {
			h.respondError(w, apperrors.NotFoundError("route"))
			return
		}
		h.respondError(w, apperrors.InternalError("failed to save route", err))
		return
	}
	if err := h.applyConfig(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, spec)
}

// DeleteRoute removes a stored route.
func (h *Handlers) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteRoute(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, store.ErrRouteNotFound) {
			h.respondError(w, apperrors.NotFoundError("route"))
			return
		}
		h.respondError(w, apperrors.InternalError("failed to delete route", err))
		return
	}
	if err := h.applyConfig(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeRouteSpec reads a route spec from the body and validates it by
// converting to the runtime form, so bad config is rejected before it is
// persisted. A non-empty pathID must agree with the body's id; it fills
// in for a body that omits one.
func decodeRouteSpec(r *http.Request, pathID string) (config.RouteSpec, error) {
	var spec config.RouteSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		return spec, apperrors.ValidationError("invalid JSON body")
	}
	if pathID != "" {
		if spec.ID == "" {
			spec.ID = pathID
		} else if spec.ID != pathID {
			return spec, apperrors.ValidationError("route id in body does not match URL")
		}
	}
	route, err := spec.ToRoute()
	if err != nil {
		return spec, apperrors.ValidationError(err.Error())
	}
	if err := route.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}
