// Package health actively probes registered endpoints and flips their
// health state once failure or recovery streaks cross the service's
// configured thresholds.
package health

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/registry"
)

// TransitionHook is invoked after an endpoint's health state flips.
// healthy carries the new state.
type TransitionHook func(ep *registry.Endpoint, healthy bool)

// Config tunes the monitor's scheduler.
type Config struct {
	// ScanInterval is how often the monitor checks which services are due
	// for probing. Defaults to one second; per-service probe cadence comes
	// from each service's health check interval.
	ScanInterval time.Duration
}

// Monitor owns the background probing of every registered endpoint.
// Probes run concurrently per endpoint, but at most one probe per
// endpoint is in flight at a time.
type Monitor struct {
	registry     *registry.Registry
	logger       logging.Logger
	scanInterval time.Duration
	onTransition TransitionHook

	client *http.Client
	dialer *net.Dialer

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor creates a monitor for the registry's endpoints.
func NewMonitor(reg *registry.Registry, cfg Config, logger logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	scan := cfg.ScanInterval
	if scan <= 0 {
		scan = time.Second
	}
	return &Monitor{
		registry:     reg,
		logger:       logger.WithFields(logging.String("component", "health")),
		scanInterval: scan,
		client: &http.Client{
			Transport: &http.Transport{
				// Probes are small and periodic; keep the pool tiny.
				MaxIdleConnsPerHost: 1,
				DisableCompression:  true,
			},
		},
		dialer: &net.Dialer{},
		stop:   make(chan struct{}),
	}
}

// SetTransitionHook registers the callback invoked on health flips.
// Set it before Start.
func (m *Monitor) SetTransitionHook(hook TransitionHook) {
	m.onTransition = hook
}

// Start launches the probe scheduler. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.wg.Add(1)
	go m.run()
	m.logger.Info("Health monitor started",
		logging.Duration("scan_interval", m.scanInterval))
}

// Stop halts the scheduler and waits for in-flight probes to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
	m.logger.Info("Health monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	// Probe timestamps are owned by this goroutine.
	lastProbe := make(map[string]time.Time)
	m.scan(lastProbe)

	for {
		select {
		case <-ticker.C:
			m.scan(lastProbe)
		case <-m.stop:
			return
		}
	}
}

// scan launches probes for every service whose interval has elapsed.
func (m *Monitor) scan(lastProbe map[string]time.Time) {
	now := time.Now()
	seen := make(map[string]bool)

	for _, svc := range m.registry.Services() {
		seen[svc.ID] = true
		if now.Sub(lastProbe[svc.ID]) < svc.HealthCheck.Interval {
			continue
		}
		lastProbe[svc.ID] = now

		for _, ep := range svc.Endpoints {
			if !ep.BeginProbe() {
				// The previous probe is still in flight.
				continue
			}
			m.wg.Add(1)
			go func(ep *registry.Endpoint, spec registry.HealthCheckSpec) {
				defer m.wg.Done()
				defer ep.EndProbe()
				m.probe(ep, spec)
			}(ep, svc.HealthCheck)
		}
	}

	for id := range lastProbe {
		if !seen[id] {
			delete(lastProbe, id)
		}
	}
}

// probe runs one check against the endpoint and applies the streak
// thresholds.
func (m *Monitor) probe(ep *registry.Endpoint, spec registry.HealthCheckSpec) {
	if m.check(ep, spec) {
		streak := ep.RecordSuccess()
		if !ep.Healthy() && streak >= spec.HealthyThreshold {
			m.transition(ep, true)
		}
		return
	}

	streak := ep.RecordFailure()
	if ep.Healthy() && streak >= spec.UnhealthyThreshold {
		m.transition(ep, false)
	}
}

// check performs the actual probe: an HTTP GET against the configured
// path, or a bare TCP connect when no path is configured. Any HTTP status
// below 400 passes.
func (m *Monitor) check(ep *registry.Endpoint, spec registry.HealthCheckSpec) bool {
	ctx, cancel := context.WithTimeout(context.Background(), spec.Timeout)
	defer cancel()

	if spec.HTTPPath == "" {
		conn, err := m.dialer.DialContext(ctx, "tcp", ep.Addr())
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ep.Addr()+spec.HTTPPath, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func (m *Monitor) transition(ep *registry.Endpoint, healthy bool) {
	if !ep.SetHealthy(healthy) {
		return
	}
	if healthy {
		m.logger.Info("Endpoint recovered",
			logging.String("service", ep.Service),
			logging.String("endpoint", ep.ID))
	} else {
		m.logger.Warn("Endpoint marked unhealthy",
			logging.String("service", ep.Service),
			logging.String("endpoint", ep.ID))
	}
	if m.onTransition != nil {
		m.onTransition(ep, healthy)
	}
}
