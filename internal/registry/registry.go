package registry

import (
	"sync"

	"vpc-gateway/internal/common/logging"
)

// Registry is the shared endpoint table: service id → endpoints plus each
// endpoint's dynamic state. Discovery mutates the structure, the health
// monitor flips health bits, and the forwarder bumps connection counters.
// Structural changes take the registry lock briefly; per-endpoint state is
// atomic, so request-path reads of one endpoint never contend with another's.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*serviceEntry
	logger   logging.Logger

	// removalHook runs outside the lock for every endpoint dropped from
	// the registry, so breaker state and metric series can be released.
	removalHook func(*Endpoint)
}

type serviceEntry struct {
	id          string
	healthCheck HealthCheckSpec
	// endpoints keeps insertion order; round-robin indexes and
	// least-connections tie-breaks depend on it staying stable.
	endpoints []*Endpoint
}

// ServiceInfo is a read-only view of one registered service.
type ServiceInfo struct {
	ID          string          `json:"id"`
	HealthCheck HealthCheckSpec `json:"health_check"`
	Endpoints   []*Endpoint     `json:"endpoints"`
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Registry{
		services: make(map[string]*serviceEntry),
		logger:   logger.WithFields(logging.String("component", "registry")),
	}
}

// SetRemovalHook registers fn to run whenever an endpoint leaves the
// registry. Wire it before traffic starts; it is not synchronized against
// concurrent replacement.
func (r *Registry) SetRemovalHook(fn func(*Endpoint)) {
	r.removalHook = fn
}

// RegisterService creates or updates a service entry, keeping any endpoints
// already registered under the id. The zero-value spec fields are filled
// with defaults.
func (r *Registry) RegisterService(id string, spec HealthCheckSpec) {
	r.mu.Lock()
	entry, ok := r.services[id]
	if !ok {
		entry = &serviceEntry{id: id}
		r.services[id] = entry
	}
	entry.healthCheck = spec.withDefaults()
	r.mu.Unlock()

	if !ok {
		r.logger.Info("Service registered", logging.String("service", id))
	}
}

// RemoveService drops a service and all of its endpoints.
func (r *Registry) RemoveService(id string) bool {
	r.mu.Lock()
	entry, ok := r.services[id]
	if ok {
		delete(r.services, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	for _, ep := range entry.endpoints {
		r.notifyRemoval(ep)
	}
	r.logger.Info("Service removed",
		logging.String("service", id),
		logging.Int("endpoints", len(entry.endpoints)),
	)
	return true
}

// UpsertEndpoint adds an endpoint to a service, creating the service entry
// with default health checking when the discovery feed mentions it first.
// Re-adding an existing address returns the existing endpoint with its
// state intact.
func (r *Registry) UpsertEndpoint(service, host string, port int) *Endpoint {
	r.mu.Lock()
	entry, ok := r.services[service]
	if !ok {
		entry = &serviceEntry{id: service, healthCheck: DefaultHealthCheckSpec()}
		r.services[service] = entry
	}

	for _, ep := range entry.endpoints {
		if ep.Host == host && ep.Port == port {
			r.mu.Unlock()
			return ep
		}
	}

	ep := newEndpoint(service, host, port)
	entry.endpoints = append(entry.endpoints, ep)
	r.mu.Unlock()

	r.logger.Info("Endpoint added",
		logging.String("service", service),
		logging.String("endpoint", ep.ID),
	)
	return ep
}

// RemoveEndpoint drops one endpoint from a service.
func (r *Registry) RemoveEndpoint(service, host string, port int) bool {
	r.mu.Lock()
	entry, ok := r.services[service]
	var removed *Endpoint
	if ok {
		for i, ep := range entry.endpoints {
			if ep.Host == host && ep.Port == port {
				removed = ep
				entry.endpoints = append(entry.endpoints[:i], entry.endpoints[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if removed == nil {
		return false
	}
	r.notifyRemoval(removed)
	r.logger.Info("Endpoint removed",
		logging.String("service", service),
		logging.String("endpoint", removed.ID),
	)
	return true
}

// SetEndpoints replaces a service's endpoint set wholesale, as a discovery
// resync does. Addresses already present keep their endpoint (and its
// health/connection state); new addresses are appended in the given order;
// missing ones are dropped.
func (r *Registry) SetEndpoints(service string, addrs []Address) {
	r.mu.Lock()
	entry, ok := r.services[service]
	if !ok {
		entry = &serviceEntry{id: service, healthCheck: DefaultHealthCheckSpec()}
		r.services[service] = entry
	}

	keep := make(map[string]*Endpoint, len(entry.endpoints))
	for _, ep := range entry.endpoints {
		keep[ep.ID] = ep
	}

	var removed []*Endpoint
	next := make([]*Endpoint, 0, len(addrs))
	seen := make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		ep, exists := keep[addr.ID()]
		if !exists {
			ep = newEndpoint(service, addr.Host, addr.Port)
		}
		if !seen[ep.ID] {
			next = append(next, ep)
			seen[ep.ID] = true
		}
	}
	for _, ep := range entry.endpoints {
		if !seen[ep.ID] {
			removed = append(removed, ep)
		}
	}
	entry.endpoints = next
	r.mu.Unlock()

	for _, ep := range removed {
		r.notifyRemoval(ep)
	}
	r.logger.Debug("Endpoint set replaced",
		logging.String("service", service),
		logging.Int("endpoints", len(next)),
		logging.Int("removed", len(removed)),
	)
}

// Lookup returns a snapshot copy of a service's endpoints in insertion
// order. The slice is the caller's to keep; later structural changes do not
// touch it, though the endpoints' dynamic state keeps moving.
func (r *Registry) Lookup(service string) []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.services[service]
	if !ok || len(entry.endpoints) == 0 {
		return nil
	}
	out := make([]*Endpoint, len(entry.endpoints))
	copy(out, entry.endpoints)
	return out
}

// HealthCheck returns the probing spec configured for a service.
func (r *Registry) HealthCheck(service string) (HealthCheckSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.services[service]
	if !ok {
		return HealthCheckSpec{}, false
	}
	return entry.healthCheck, true
}

// Services returns a snapshot view of every registered service, sorted by
// nothing in particular beyond map ordering being hidden behind a copy.
func (r *Registry) Services() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceInfo, 0, len(r.services))
	for _, entry := range r.services {
		eps := make([]*Endpoint, len(entry.endpoints))
		copy(eps, entry.endpoints)
		out = append(out, ServiceInfo{
			ID:          entry.id,
			HealthCheck: entry.healthCheck,
			Endpoints:   eps,
		})
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

func (r *Registry) notifyRemoval(ep *Endpoint) {
	if r.removalHook != nil {
		r.removalHook(ep)
	}
}
