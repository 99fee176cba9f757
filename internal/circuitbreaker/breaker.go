// Package circuitbreaker guards backend endpoints using Sony's gobreaker.
// Each endpoint gets its own breaker: consecutive failed attempts trip it
// open, opens short-circuit without touching the endpoint, and a cooldown
// later a bounded number of trial requests decide between closing and
// re-opening.
package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
)

// Config holds the thresholds shared by every endpoint breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failed attempts that
	// trips a closed breaker open.
	FailureThreshold int
	// Cooldown is how long an open breaker rejects attempts before
	// admitting trial requests.
	Cooldown time.Duration
	// HalfOpenMaxRequests bounds the trial requests admitted while
	// half-open, and is also the number of consecutive trial successes
	// required to close.
	HalfOpenMaxRequests int
}

// DefaultConfig returns the thresholds applied when none are configured.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		Cooldown:            60 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("FailureThreshold must be positive, got %d", c.FailureThreshold)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("Cooldown must be positive, got %v", c.Cooldown)
	}
	if c.HalfOpenMaxRequests <= 0 {
		return fmt.Errorf("HalfOpenMaxRequests must be positive, got %d", c.HalfOpenMaxRequests)
	}
	return nil
}

// State represents the current state of a breaker.
type State int

const (
	// StateClosed means attempts flow through and failures are counted.
	StateClosed State = iota
	// StateOpen means attempts are rejected without reaching the endpoint.
	StateOpen
	// StateHalfOpen means trial requests are probing for recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of one endpoint's breaker.
type Stats struct {
	Endpoint            string `json:"endpoint"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalSuccesses      uint32 `json:"total_successes"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Breaker wraps one endpoint's circuit breaker.
type Breaker struct {
	endpoint string
	breaker  *gobreaker.CircuitBreaker
	logger   logging.Logger
}

func newBreaker(endpoint string, config Config, logger logging.Logger, onChange func(endpoint string, from, to State)) *Breaker {
	settings := gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: uint32(config.HalfOpenMaxRequests),
		// Interval stays zero: failure streaks are consecutive across
		// the breaker's whole closed period, not per rolling window.
		Timeout: config.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.FailureThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.String("endpoint", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
			if onChange != nil {
				onChange(name, mapState(from), mapState(to))
			}
		},
	}

	return &Breaker{
		endpoint: endpoint,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		logger:   logger,
	}
}

// Execute runs one attempt under the breaker. fn returns nil for outcomes
// that count as success and an error for ones that count against the
// endpoint. When the breaker rejects the attempt outright, fn never runs
// and a circuit-open error is returned.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperrors.CircuitOpenError(b.endpoint)
	}
	return err
}

// State returns the breaker's current state. Reading the state of an
// expired open breaker moves it to half-open, so callers polling for
// eligibility see the recovery window as soon as the cooldown lapses.
func (b *Breaker) State() State {
	return mapState(b.breaker.State())
}

// Allows reports whether the endpoint may receive an attempt right now.
// Half-open counts as allowed; admission of the trial itself is decided
// inside Execute.
func (b *Breaker) Allows() bool {
	return b.State() != StateOpen
}

// Stats returns current statistics.
func (b *Breaker) Stats() Stats {
	counts := b.breaker.Counts()
	return Stats{
		Endpoint:            b.endpoint,
		State:               b.State().String(),
		Requests:            counts.Requests,
		TotalSuccesses:      counts.TotalSuccesses,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
