package routing

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/glob"

	apperrors "vpc-gateway/internal/common/errors"
)

// PathKind selects the path-matching semantics of a route.
type PathKind string

const (
	// PathExact matches only the identical path string
	PathExact PathKind = "exact"
	// PathPrefix matches any path sharing the configured segment-aligned prefix
	PathPrefix PathKind = "prefix"
	// PathWildcard matches the configured base and anything under it
	PathWildcard PathKind = "wildcard"
)

// Strategy selects how the load balancer picks an endpoint for a route.
type Strategy string

const (
	StrategyRoundRobin     Strategy = "round_robin"
	StrategyLeastConn      Strategy = "least_connections"
	StrategySourceIPHash   Strategy = "source_ip_hash"
	StrategyConsistentHash Strategy = "consistent_hash"
)

// HashKeySource selects where the consistent-hash strategy reads its key from.
type HashKeySource string

const (
	HashKeyClientIP HashKeySource = "client_ip"
	HashKeyPath     HashKeySource = "path"
	HashKeyHeader   HashKeySource = "header"
)

// HashKeyConfig configures the consistent-hash key extraction.
type HashKeyConfig struct {
	Source     HashKeySource `json:"source" yaml:"source"`
	HeaderName string        `json:"header_name,omitempty" yaml:"header_name,omitempty"`
}

// Predicate is a single header or query-parameter requirement. Value is an
// exact string or a glob pattern ("*", "?", character classes); globs are
// compiled once when the route is published.
type Predicate struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`

	pattern glob.Glob
}

// Matches reports whether the given value satisfies the predicate.
func (p *Predicate) Matches(value string) bool {
	if p.pattern != nil {
		return p.pattern.Match(value)
	}
	return value == p.Value
}

func (p *Predicate) compile() error {
	if !strings.ContainsAny(p.Value, `*?[{\`) {
		p.pattern = nil
		return nil
	}
	g, err := glob.Compile(p.Value)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", p.Value, err)
	}
	p.pattern = g
	return nil
}

// MatchSpec describes which requests a route applies to.
type MatchSpec struct {
	PathKind PathKind    `json:"path_kind" yaml:"path_kind"`
	Path     string      `json:"path" yaml:"path"`
	Methods  []string    `json:"methods,omitempty" yaml:"methods,omitempty"`
	Headers  []Predicate `json:"headers,omitempty" yaml:"headers,omitempty"`
	Query    []Predicate `json:"query,omitempty" yaml:"query,omitempty"`
}

// Destination references a service by id with a relative weight.
// Weight defaults to 100 when left zero.
type Destination struct {
	Service string `json:"service" yaml:"service"`
	Weight  int    `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// RetryPolicy governs attempt count and backoff for a route.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	RetryableStatuses []int         `json:"retryable_statuses" yaml:"retryable_statuses"`
	InitialBackoff    time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

// DefaultRetryPolicy returns the policy applied when a route declares none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		RetryableStatuses: []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
	}
}

// BackoffFor returns the delay before the retry following the given
// zero-based attempt: InitialBackoff doubled per attempt, capped at
// MaxBackoff.
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	backoff := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if p.MaxBackoff > 0 && backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// IsRetryableStatus reports whether the status code is in the route's
// retryable set.
func (p RetryPolicy) IsRetryableStatus(status int) bool {
	for _, s := range p.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// TimeoutPolicy carries the per-attempt and overall deadlines for a route.
type TimeoutPolicy struct {
	PerAttempt time.Duration `json:"per_attempt" yaml:"per_attempt"`
	Overall    time.Duration `json:"overall" yaml:"overall"`
}

// DefaultTimeoutPolicy returns the policy applied when a route declares none.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		PerAttempt: 10 * time.Second,
		Overall:    30 * time.Second,
	}
}

// CORSPolicy configures cross-origin handling for a route. Preflight
// requests are answered by the gateway without forwarding.
type CORSPolicy struct {
	AllowOrigins     []string      `json:"allow_origins" yaml:"allow_origins"`
	AllowMethods     []string      `json:"allow_methods,omitempty" yaml:"allow_methods,omitempty"`
	AllowHeaders     []string      `json:"allow_headers,omitempty" yaml:"allow_headers,omitempty"`
	ExposeHeaders    []string      `json:"expose_headers,omitempty" yaml:"expose_headers,omitempty"`
	AllowCredentials bool          `json:"allow_credentials,omitempty" yaml:"allow_credentials,omitempty"`
	MaxAge           time.Duration `json:"max_age,omitempty" yaml:"max_age,omitempty"`
}

// AllowsOrigin reports whether the origin is allowed, honoring "*".
func (c *CORSPolicy) AllowsOrigin(origin string) bool {
	for _, o := range c.AllowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Route is one configured routing rule. Routes are immutable once published
// in a snapshot; configuration changes build new Route values.
type Route struct {
	ID           string        `json:"id" yaml:"id"`
	Match        MatchSpec     `json:"match" yaml:"match"`
	Destinations []Destination `json:"destinations" yaml:"destinations"`
	Strategy     Strategy      `json:"strategy" yaml:"strategy"`
	HashKey      HashKeyConfig `json:"hash_key,omitempty" yaml:"hash_key,omitempty"`
	Retry        RetryPolicy   `json:"retry" yaml:"retry"`
	Timeout      TimeoutPolicy `json:"timeout" yaml:"timeout"`
	CORS         *CORSPolicy   `json:"cors,omitempty" yaml:"cors,omitempty"`

	// wildcardBase is Match.Path with the trailing "/*" removed, precomputed
	// when the route is compiled.
	wildcardBase string
}

// RequestMeta carries the request attributes the matcher and balancer
// consult. It is derived once per request from the inbound *http.Request.
type RequestMeta struct {
	Path     string
	Method   string
	Header   http.Header
	Query    url.Values
	ClientIP string
}

// Validate checks the route for structural problems. Called for every route
// before a snapshot is published; a snapshot with any invalid route is
// rejected wholesale.
func (r *Route) Validate() error {
	if r.ID == "" {
		return apperrors.ValidationError("route id is required")
	}
	if r.Match.Path == "" {
		return apperrors.ValidationError(fmt.Sprintf("route %s: match path is required", r.ID))
	}
	if !strings.HasPrefix(r.Match.Path, "/") {
		return apperrors.ValidationError(fmt.Sprintf("route %s: match path must start with /", r.ID))
	}

	switch r.Match.PathKind {
	case PathExact, PathPrefix, PathWildcard:
	case "":
		return apperrors.ValidationError(fmt.Sprintf("route %s: path kind is required", r.ID))
	default:
		return apperrors.ValidationError(fmt.Sprintf("route %s: unknown path kind %q", r.ID, r.Match.PathKind))
	}

	if len(r.Destinations) == 0 {
		return apperrors.ValidationError(fmt.Sprintf("route %s: at least one destination is required", r.ID))
	}
	for _, d := range r.Destinations {
		if d.Service == "" {
			return apperrors.ValidationError(fmt.Sprintf("route %s: destination service is required", r.ID))
		}
		if d.Weight < 0 {
			return apperrors.ValidationError(fmt.Sprintf("route %s: destination weight must not be negative", r.ID))
		}
	}

	switch r.Strategy {
	case StrategyRoundRobin, StrategyLeastConn, StrategySourceIPHash, StrategyConsistentHash, "":
	default:
		return apperrors.ValidationError(fmt.Sprintf("route %s: unknown strategy %q", r.ID, r.Strategy))
	}

	if r.Strategy == StrategyConsistentHash && r.HashKey.Source == HashKeyHeader && r.HashKey.HeaderName == "" {
		return apperrors.ValidationError(fmt.Sprintf("route %s: hash key header name is required", r.ID))
	}

	for _, p := range r.Match.Headers {
		if p.Name == "" {
			return apperrors.ValidationError(fmt.Sprintf("route %s: header predicate name is required", r.ID))
		}
	}
	for _, p := range r.Match.Query {
		if p.Name == "" {
			return apperrors.ValidationError(fmt.Sprintf("route %s: query predicate name is required", r.ID))
		}
	}

	if r.Retry.MaxRetries < 0 {
		return apperrors.ValidationError(fmt.Sprintf("route %s: max retries must not be negative", r.ID))
	}
	return nil
}

// compile normalizes the route in place: uppercases methods, fills policy
// and weight defaults, precomputes the wildcard base, and compiles glob
// predicates.
func (r *Route) compile() error {
	for i, m := range r.Match.Methods {
		r.Match.Methods[i] = strings.ToUpper(m)
	}

	if r.Strategy == "" {
		r.Strategy = StrategyRoundRobin
	}
	if r.Strategy == StrategyConsistentHash && r.HashKey.Source == "" {
		r.HashKey.Source = HashKeyClientIP
	}

	for i := range r.Destinations {
		if r.Destinations[i].Weight == 0 {
			r.Destinations[i].Weight = 100
		}
	}

	if r.Retry.MaxRetries == 0 && r.Retry.RetryableStatuses == nil && r.Retry.InitialBackoff == 0 {
		r.Retry = DefaultRetryPolicy()
	} else {
		def := DefaultRetryPolicy()
		if r.Retry.InitialBackoff == 0 {
			r.Retry.InitialBackoff = def.InitialBackoff
		}
		if r.Retry.MaxBackoff == 0 {
			r.Retry.MaxBackoff = def.MaxBackoff
		}
	}
	if r.Timeout.PerAttempt == 0 {
		r.Timeout.PerAttempt = DefaultTimeoutPolicy().PerAttempt
	}
	if r.Timeout.Overall == 0 {
		r.Timeout.Overall = DefaultTimeoutPolicy().Overall
	}

	r.wildcardBase = strings.TrimSuffix(r.Match.Path, "/*")
	if r.Match.PathKind == PathWildcard {
		r.wildcardBase = strings.TrimSuffix(r.wildcardBase, "/")
	}

	for i := range r.Match.Headers {
		if err := r.Match.Headers[i].compile(); err != nil {
			return apperrors.ValidationError(fmt.Sprintf("route %s: header %s: %v", r.ID, r.Match.Headers[i].Name, err))
		}
	}
	for i := range r.Match.Query {
		if err := r.Match.Query[i].compile(); err != nil {
			return apperrors.ValidationError(fmt.Sprintf("route %s: query %s: %v", r.ID, r.Match.Query[i].Name, err))
		}
	}
	return nil
}
