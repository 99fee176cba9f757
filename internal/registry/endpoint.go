package registry

import (
	"fmt"
	"sync/atomic"
	"time"
)

// HealthCheckSpec configures probing for a service's endpoints.
type HealthCheckSpec struct {
	// HTTPPath is the path probed with GET. Empty means a plain TCP
	// connect probe.
	HTTPPath           string        `json:"http_path,omitempty" yaml:"http_path,omitempty"`
	Interval           time.Duration `json:"interval" yaml:"interval"`
	Timeout            time.Duration `json:"timeout" yaml:"timeout"`
	UnhealthyThreshold int           `json:"unhealthy_threshold" yaml:"unhealthy_threshold"`
	HealthyThreshold   int           `json:"healthy_threshold" yaml:"healthy_threshold"`
}

// DefaultHealthCheckSpec returns the spec applied when a service declares
// none.
func DefaultHealthCheckSpec() HealthCheckSpec {
	return HealthCheckSpec{
		HTTPPath:           "/healthz",
		Interval:           10 * time.Second,
		Timeout:            5 * time.Second,
		UnhealthyThreshold: 3,
		HealthyThreshold:   2,
	}
}

// withDefaults fills unset fields from the default spec.
func (s HealthCheckSpec) withDefaults() HealthCheckSpec {
	def := DefaultHealthCheckSpec()
	if s.Interval <= 0 {
		s.Interval = def.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = def.Timeout
	}
	if s.UnhealthyThreshold <= 0 {
		s.UnhealthyThreshold = def.UnhealthyThreshold
	}
	if s.HealthyThreshold <= 0 {
		s.HealthyThreshold = def.HealthyThreshold
	}
	return s
}

// Address names a backend instance without carrying its runtime state.
// Discovery feeds hand these to the registry, which resolves them to
// endpoints.
type Address struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// ID returns the host:port endpoint id this address resolves to.
func (a Address) ID() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Endpoint is a single network-addressable backend instance of a service.
// Identity fields are immutable; the dynamic state (health, connection
// count, probe streaks) is updated with atomics so that one endpoint's
// bookkeeping never contends with another's.
type Endpoint struct {
	ID      string `json:"id"`
	Service string `json:"service"`
	Host    string `json:"host"`
	Port    int    `json:"port"`

	healthy     atomic.Bool
	activeConns atomic.Int64

	// Probe streaks, owned by the health monitor.
	consecutiveSuccesses atomic.Int32
	consecutiveFailures  atomic.Int32
	probing              atomic.Bool
}

func newEndpoint(service, host string, port int) *Endpoint {
	e := &Endpoint{
		ID:      fmt.Sprintf("%s:%d", host, port),
		Service: service,
		Host:    host,
		Port:    port,
	}
	// New endpoints are admitted immediately; the monitor demotes them
	// if probes start failing.
	e.healthy.Store(true)
	return e
}

// Addr returns the dialable host:port address.
func (e *Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Healthy reports the endpoint's current health state.
func (e *Endpoint) Healthy() bool {
	return e.healthy.Load()
}

// SetHealthy updates the health state and reports whether it changed.
func (e *Endpoint) SetHealthy(healthy bool) bool {
	return e.healthy.CompareAndSwap(!healthy, healthy)
}

// ActiveConnections returns the endpoint's in-flight request count.
func (e *Endpoint) ActiveConnections() int64 {
	return e.activeConns.Load()
}

// IncActive increments the in-flight request count.
func (e *Endpoint) IncActive() int64 {
	return e.activeConns.Add(1)
}

// DecActive decrements the in-flight request count. Callers pair it with
// exactly one IncActive per attempt, on every outcome path.
func (e *Endpoint) DecActive() int64 {
	return e.activeConns.Add(-1)
}

// RecordSuccess records a successful probe, resets the failure streak, and
// returns the new success streak.
func (e *Endpoint) RecordSuccess() int {
	e.consecutiveFailures.Store(0)
	return int(e.consecutiveSuccesses.Add(1))
}

// RecordFailure records a failed probe, resets the success streak, and
// returns the new failure streak.
func (e *Endpoint) RecordFailure() int {
	e.consecutiveSuccesses.Store(0)
	return int(e.consecutiveFailures.Add(1))
}

// BeginProbe marks a probe in flight. It returns false when a previous
// probe has not finished, so overlapping probes of a slow endpoint are
// skipped rather than stacked.
func (e *Endpoint) BeginProbe() bool {
	return e.probing.CompareAndSwap(false, true)
}

// EndProbe clears the in-flight probe marker.
func (e *Endpoint) EndProbe() {
	e.probing.Store(false)
}
