package circuitbreaker

import (
	"sort"
	"sync"

	"vpc-gateway/internal/common/logging"
)

// Manager holds the breaker for every endpoint the gateway has attempted.
// Breakers are created lazily on first use and dropped when discovery
// removes the endpoint, which resets its state.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
	logger   logging.Logger

	// onChange is forwarded to every breaker; set it before traffic starts.
	onChange func(endpoint string, from, to State)
}

// NewManager creates a manager applying config to every endpoint breaker.
func NewManager(config Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.String("component", "circuitbreaker"))

	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Err(err),
		)
		config = DefaultConfig()
	}

	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
		logger:   logger,
	}
}

// SetStateChangeHook registers fn to run on every breaker state
// transition. It is invoked from the request path; keep it cheap.
func (m *Manager) SetStateChangeHook(fn func(endpoint string, from, to State)) {
	m.onChange = fn
}

// Get returns the breaker for an endpoint, creating it closed on first use.
func (m *Manager) Get(endpoint string) *Breaker {
	m.mu.RLock()
	breaker, exists := m.breakers[endpoint]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if breaker, exists = m.breakers[endpoint]; exists {
		return breaker
	}
	breaker = newBreaker(endpoint, m.config, m.logger, m.onChange)
	m.breakers[endpoint] = breaker
	return breaker
}

// Lookup retrieves an existing breaker without creating one.
func (m *Manager) Lookup(endpoint string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breaker, exists := m.breakers[endpoint]
	return breaker, exists
}

// Allows reports whether the endpoint's breaker admits attempts. An
// endpoint never attempted has no breaker and is allowed by definition.
func (m *Manager) Allows(endpoint string) bool {
	breaker, exists := m.Lookup(endpoint)
	if !exists {
		return true
	}
	return breaker.Allows()
}

// Remove drops an endpoint's breaker, discarding its state.
func (m *Manager) Remove(endpoint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.breakers[endpoint]; exists {
		delete(m.breakers, endpoint)
		return true
	}
	return false
}

// AllStats returns statistics for every breaker, ordered by endpoint id.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	m.mu.RUnlock()

	sort.Slice(stats, func(a, b int) bool {
		return stats[a].Endpoint < stats[b].Endpoint
	})
	return stats
}

// Len returns the number of live breakers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.breakers)
}
