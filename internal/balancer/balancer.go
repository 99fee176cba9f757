// Package balancer picks one endpoint from a route's healthy candidates.
//
// The caller resolves the route's destination service and filters the
// service's endpoints down to usable candidates first; Select only decides
// among them. Round-robin cursors and consistent-hash rings are held per
// route id and pruned when routes disappear from the published table.
package balancer

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/registry"
	"vpc-gateway/internal/routing"
)

// Balancer holds per-route selection state. Safe for concurrent use.
type Balancer struct {
	logger logging.Logger

	// counters holds the round-robin cursor per route id.
	counters sync.Map // string → *atomic.Uint64

	mu    sync.Mutex
	rings map[string]*ring
}

// New creates a balancer.
func New(logger logging.Logger) *Balancer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Balancer{
		logger: logger.WithFields(logging.String("component", "balancer")),
		rings:  make(map[string]*ring),
	}
}

// Select picks one endpoint for the request using the route's strategy.
// candidates must already be filtered to endpoints eligible to receive
// traffic; their order is the registry's insertion order.
func (b *Balancer) Select(route *routing.Route, meta routing.RequestMeta, candidates []*registry.Endpoint) (*registry.Endpoint, error) {
	if len(candidates) == 0 {
		return nil, apperrors.NoHealthyEndpointError(route.ID)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	switch route.Strategy {
	case routing.StrategyLeastConn:
		return leastConnections(candidates), nil
	case routing.StrategySourceIPHash:
		return candidates[hashIndex(meta.ClientIP, len(candidates))], nil
	case routing.StrategyConsistentHash:
		return b.consistentHash(route, meta, candidates), nil
	default:
		return b.roundRobin(route.ID, candidates), nil
	}
}

// Prune drops selection state for routes absent from the active set.
// Called after a new route table snapshot is published.
func (b *Balancer) Prune(active map[string]bool) {
	b.counters.Range(func(key, _ interface{}) bool {
		if !active[key.(string)] {
			b.counters.Delete(key)
		}
		return true
	})

	b.mu.Lock()
	for id := range b.rings {
		if !active[id] {
			delete(b.rings, id)
		}
	}
	b.mu.Unlock()
}

func (b *Balancer) roundRobin(routeID string, candidates []*registry.Endpoint) *registry.Endpoint {
	v, ok := b.counters.Load(routeID)
	if !ok {
		v, _ = b.counters.LoadOrStore(routeID, &atomic.Uint64{})
	}
	counter := v.(*atomic.Uint64)
	idx := (counter.Add(1) - 1) % uint64(len(candidates))
	return candidates[idx]
}

// leastConnections picks the candidate with the fewest in-flight requests.
// Ties go to the earliest candidate, so a cold set degrades to the
// registry's insertion order rather than thrashing.
func leastConnections(candidates []*registry.Endpoint) *registry.Endpoint {
	best := candidates[0]
	bestConns := best.ActiveConnections()
	for _, ep := range candidates[1:] {
		if conns := ep.ActiveConnections(); conns < bestConns {
			best = ep
			bestConns = conns
		}
	}
	return best
}

func (b *Balancer) consistentHash(route *routing.Route, meta routing.RequestMeta, candidates []*registry.Endpoint) *registry.Endpoint {
	key := hashKeyFor(route, meta)
	fp := fingerprintOf(candidates)

	b.mu.Lock()
	rg := b.rings[route.ID]
	if rg == nil || rg.fingerprint != fp {
		rg = buildRing(candidates, fp)
		b.rings[route.ID] = rg
	}
	b.mu.Unlock()

	return candidates[rg.lookup(key)]
}

// hashKeyFor extracts the affinity key the route hashes on. A missing
// header falls back to the client address so the request still lands
// somewhere stable.
func hashKeyFor(route *routing.Route, meta routing.RequestMeta) string {
	switch route.HashKey.Source {
	case routing.HashKeyPath:
		return meta.Path
	case routing.HashKeyHeader:
		if v := meta.Header.Get(route.HashKey.HeaderName); v != "" {
			return v
		}
		return meta.ClientIP
	default:
		return meta.ClientIP
	}
}

// ResolveDestination picks the destination service for the request among
// the route's weighted destinations. The pick is a deterministic function
// of the request's affinity key, so repeated requests from the same client
// keep landing on the same service and hash affinity survives the split.
func ResolveDestination(route *routing.Route, meta routing.RequestMeta) routing.Destination {
	if len(route.Destinations) == 1 {
		return route.Destinations[0]
	}

	total := 0
	for _, d := range route.Destinations {
		total += d.Weight
	}
	if total <= 0 {
		return route.Destinations[0]
	}

	point := int(hash32(hashKeyFor(route, meta)+"|"+meta.Path) % uint32(total))
	for _, d := range route.Destinations {
		point -= d.Weight
		if point < 0 {
			return d
		}
	}
	return route.Destinations[len(route.Destinations)-1]
}

func hash32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

func hashIndex(key string, n int) int {
	return int(hash32(key) % uint32(n))
}
