package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/config"
	"vpc-gateway/internal/store"
)

// ListServices returns every stored service spec.
func (h *Handlers) ListServices(w http.ResponseWriter, r *http.Request) {
	specs, err := h.store.ListServices()
	if err != nil {
		h.respondError(w, apperrors.InternalError("failed to list services", err))
		return
	}
	if specs == nil {
		specs = []config.ServiceSpec{}
	}
	h.respondJSON(w, http.StatusOK, specs)
}

// GetService returns one stored service spec. Services known only to
// discovery show up under /endpoints, not here.
func (h *Handlers) GetService(w http.ResponseWriter, r *http.Request) {
	spec, err := h.store.GetService(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrServiceNotFound) {
			h.respondError(w, apperrors.NotFoundError("service"))
			return
		}
		h.respondError(w, apperrors.InternalError("failed to load service", err))
		return
	}
	h.respondJSON(w, http.StatusOK, spec)
}

// SaveService creates or replaces a service declaration.
func (h *Handlers) SaveService(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var spec config.ServiceSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if spec.ID == "" {
		spec.ID = id
	} else if spec.ID != id {
		h.respondError(w, apperrors.ValidationError("service id in body does not match URL"))
		return
	}
	if err := spec.Validate(); err != nil {
		h.respondError(w, apperrors.ValidationError(err.Error()))
		return
	}
	if _, err := spec.HealthSpec(); err != nil {
		h.respondError(w, apperrors.ValidationError(err.Error()))
		return
	}

	if err := h.store.SaveService(spec); err != nil {
		h.respondError(w, apperrors.InternalError("failed to save service", err))
		return
	}
	if err := h.applyConfig(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	if h.provider != nil {
		// Mirror the declared endpoint set so instances resyncing from
		// Redis converge on it too.
		if err := h.provider.StoreEndpoints(r.Context(), spec.ID, spec.Addresses()); err != nil {
			h.logger.Warn("Failed to store endpoint set",
				logging.String("service", spec.ID), logging.Err(err))
		}
	}
	h.respondJSON(w, http.StatusOK, spec)
}

// DeleteService removes a service from the store and the live registry,
// clears its stored endpoint set, and tells peer instances to drop it.
// It answers 404 only when neither the store nor the registry knows the
// id, so services registered purely through discovery can be retired too.
func (h *Handlers) DeleteService(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	storeErr := h.store.DeleteService(id)
	if storeErr != nil && !errors.Is(storeErr, store.ErrServiceNotFound) {
		h.respondError(w, apperrors.InternalError("failed to delete service", storeErr))
		return
	}
	removed := h.registry.RemoveService(id)
	if storeErr != nil && !removed {
		h.respondError(w, apperrors.NotFoundError("service"))
		return
	}

	if h.provider != nil {
		ctx := r.Context()
		if err := h.provider.RemoveEndpoints(ctx, id); err != nil {
			h.logger.Warn("Failed to clear stored endpoints",
				logging.String("service", id), logging.Err(err))
		}
		if err := h.provider.PublishServiceRemoved(ctx, id); err != nil {
			h.logger.Warn("Failed to broadcast service removal",
				logging.String("service", id), logging.Err(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
