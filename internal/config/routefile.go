package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vpc-gateway/internal/common/utils"
	"vpc-gateway/internal/registry"
	"vpc-gateway/internal/routing"
)

// RouteFile is the declarative description of routes and services, used
// both as the YAML seed file loaded at boot and as the admin API's wire
// form. Durations are strings ("100ms", "10s", "1d") parsed by
// utils.ParseDuration.
type RouteFile struct {
	Routes   []RouteSpec   `yaml:"routes" json:"routes"`
	Services []ServiceSpec `yaml:"services" json:"services"`
}

// RouteSpec mirrors routing.Route with human-readable durations.
type RouteSpec struct {
	ID           string            `yaml:"id" json:"id"`
	Match        MatchSpec         `yaml:"match" json:"match"`
	Destinations []DestinationSpec `yaml:"destinations" json:"destinations"`
	Strategy     string            `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	HashKey      *HashKeySpec      `yaml:"hash_key,omitempty" json:"hash_key,omitempty"`
	Retry        *RetrySpec        `yaml:"retry,omitempty" json:"retry,omitempty"`
	Timeout      *TimeoutSpec      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	CORS         *CORSSpec         `yaml:"cors,omitempty" json:"cors,omitempty"`
}

// MatchSpec describes which requests a route applies to.
type MatchSpec struct {
	PathKind string          `yaml:"path_kind" json:"path_kind"`
	Path     string          `yaml:"path" json:"path"`
	Methods  []string        `yaml:"methods,omitempty" json:"methods,omitempty"`
	Headers  []PredicateSpec `yaml:"headers,omitempty" json:"headers,omitempty"`
	Query    []PredicateSpec `yaml:"query,omitempty" json:"query,omitempty"`
}

// PredicateSpec is a header or query requirement; Value may be a glob.
type PredicateSpec struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// DestinationSpec references a service, with an optional relative weight.
type DestinationSpec struct {
	Service string `yaml:"service" json:"service"`
	Weight  int    `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// HashKeySpec configures consistent-hash key extraction.
type HashKeySpec struct {
	Source     string `yaml:"source" json:"source"`
	HeaderName string `yaml:"header_name,omitempty" json:"header_name,omitempty"`
}

// RetrySpec is the declarative retry policy.
type RetrySpec struct {
	MaxRetries        int    `yaml:"max_retries" json:"max_retries"`
	RetryableStatuses []int  `yaml:"retryable_statuses,omitempty" json:"retryable_statuses,omitempty"`
	InitialBackoff    string `yaml:"initial_backoff,omitempty" json:"initial_backoff,omitempty"`
	MaxBackoff        string `yaml:"max_backoff,omitempty" json:"max_backoff,omitempty"`
}

// TimeoutSpec is the declarative timeout policy.
type TimeoutSpec struct {
	PerAttempt string `yaml:"per_attempt,omitempty" json:"per_attempt,omitempty"`
	Overall    string `yaml:"overall,omitempty" json:"overall,omitempty"`
}

// CORSSpec is the declarative CORS policy.
type CORSSpec struct {
	AllowOrigins     []string `yaml:"allow_origins" json:"allow_origins"`
	AllowMethods     []string `yaml:"allow_methods,omitempty" json:"allow_methods,omitempty"`
	AllowHeaders     []string `yaml:"allow_headers,omitempty" json:"allow_headers,omitempty"`
	ExposeHeaders    []string `yaml:"expose_headers,omitempty" json:"expose_headers,omitempty"`
	AllowCredentials bool     `yaml:"allow_credentials,omitempty" json:"allow_credentials,omitempty"`
	MaxAge           string   `yaml:"max_age,omitempty" json:"max_age,omitempty"`
}

// ServiceSpec declares a backend service, its health check, and its
// static endpoints.
type ServiceSpec struct {
	ID          string           `yaml:"id" json:"id"`
	HealthCheck *HealthCheckSpec `yaml:"health_check,omitempty" json:"health_check,omitempty"`
	Endpoints   []EndpointSpec   `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
}

// HealthCheckSpec is the declarative health check configuration.
type HealthCheckSpec struct {
	HTTPPath           string `yaml:"http_path,omitempty" json:"http_path,omitempty"`
	Interval           string `yaml:"interval,omitempty" json:"interval,omitempty"`
	Timeout            string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	UnhealthyThreshold int    `yaml:"unhealthy_threshold,omitempty" json:"unhealthy_threshold,omitempty"`
	HealthyThreshold   int    `yaml:"healthy_threshold,omitempty" json:"healthy_threshold,omitempty"`
}

// EndpointSpec is one backend instance address.
type EndpointSpec struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// LoadRouteFile reads and decodes a YAML route file. Unknown fields are
// rejected so typos surface at boot instead of silently dropping config.
func LoadRouteFile(path string) (*RouteFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file: %w", err)
	}
	return ParseRouteFile(data)
}

// ParseRouteFile decodes route file YAML.
func ParseRouteFile(data []byte) (*RouteFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file RouteFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &RouteFile{}, nil
		}
		return nil, fmt.Errorf("failed to parse route file: %w", err)
	}
	return &file, nil
}

// BuildRoutes converts every declared route. The result still has to pass
// the route table's validation when published.
func (f *RouteFile) BuildRoutes() ([]*routing.Route, error) {
	routes := make([]*routing.Route, 0, len(f.Routes))
	for _, spec := range f.Routes {
		route, err := spec.ToRoute()
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// ToRoute converts the declarative spec to a routing.Route.
func (s RouteSpec) ToRoute() (*routing.Route, error) {
	route := &routing.Route{
		ID: s.ID,
		Match: routing.MatchSpec{
			PathKind: routing.PathKind(s.Match.PathKind),
			Path:     s.Match.Path,
			Methods:  append([]string(nil), s.Match.Methods...),
			Headers:  toPredicates(s.Match.Headers),
			Query:    toPredicates(s.Match.Query),
		},
		Strategy: routing.Strategy(s.Strategy),
	}
	for _, d := range s.Destinations {
		route.Destinations = append(route.Destinations, routing.Destination{
			Service: d.Service,
			Weight:  d.Weight,
		})
	}
	if s.HashKey != nil {
		route.HashKey = routing.HashKeyConfig{
			Source:     routing.HashKeySource(s.HashKey.Source),
			HeaderName: s.HashKey.HeaderName,
		}
	}

	if s.Retry != nil {
		route.Retry.MaxRetries = s.Retry.MaxRetries
		if s.Retry.RetryableStatuses != nil {
			route.Retry.RetryableStatuses = append([]int(nil), s.Retry.RetryableStatuses...)
		} else {
			route.Retry.RetryableStatuses = routing.DefaultRetryPolicy().RetryableStatuses
		}
		var err error
		if route.Retry.InitialBackoff, err = parseSpecDuration("initial_backoff", s.Retry.InitialBackoff); err != nil {
			return nil, fmt.Errorf("route %s: %w", s.ID, err)
		}
		if route.Retry.MaxBackoff, err = parseSpecDuration("max_backoff", s.Retry.MaxBackoff); err != nil {
			return nil, fmt.Errorf("route %s: %w", s.ID, err)
		}
	}

	if s.Timeout != nil {
		var err error
		if route.Timeout.PerAttempt, err = parseSpecDuration("per_attempt", s.Timeout.PerAttempt); err != nil {
			return nil, fmt.Errorf("route %s: %w", s.ID, err)
		}
		if route.Timeout.Overall, err = parseSpecDuration("overall", s.Timeout.Overall); err != nil {
			return nil, fmt.Errorf("route %s: %w", s.ID, err)
		}
	}

	if s.CORS != nil {
		maxAge, err := parseSpecDuration("max_age", s.CORS.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", s.ID, err)
		}
		route.CORS = &routing.CORSPolicy{
			AllowOrigins:     append([]string(nil), s.CORS.AllowOrigins...),
			AllowMethods:     append([]string(nil), s.CORS.AllowMethods...),
			AllowHeaders:     append([]string(nil), s.CORS.AllowHeaders...),
			ExposeHeaders:    append([]string(nil), s.CORS.ExposeHeaders...),
			AllowCredentials: s.CORS.AllowCredentials,
			MaxAge:           maxAge,
		}
	}
	return route, nil
}

// SpecFromRoute converts a routing.Route back to its declarative form,
// used when rendering stored configuration over the admin API.
func SpecFromRoute(route *routing.Route) RouteSpec {
	spec := RouteSpec{
		ID: route.ID,
		Match: MatchSpec{
			PathKind: string(route.Match.PathKind),
			Path:     route.Match.Path,
			Methods:  append([]string(nil), route.Match.Methods...),
			Headers:  fromPredicates(route.Match.Headers),
			Query:    fromPredicates(route.Match.Query),
		},
		Strategy: string(route.Strategy),
	}
	for _, d := range route.Destinations {
		spec.Destinations = append(spec.Destinations, DestinationSpec{
			Service: d.Service,
			Weight:  d.Weight,
		})
	}
	if route.HashKey.Source != "" {
		spec.HashKey = &HashKeySpec{
			Source:     string(route.HashKey.Source),
			HeaderName: route.HashKey.HeaderName,
		}
	}
	spec.Retry = &RetrySpec{
		MaxRetries:        route.Retry.MaxRetries,
		RetryableStatuses: append([]int(nil), route.Retry.RetryableStatuses...),
		InitialBackoff:    formatSpecDuration(route.Retry.InitialBackoff),
		MaxBackoff:        formatSpecDuration(route.Retry.MaxBackoff),
	}
	spec.Timeout = &TimeoutSpec{
		PerAttempt: formatSpecDuration(route.Timeout.PerAttempt),
		Overall:    formatSpecDuration(route.Timeout.Overall),
	}
	if route.CORS != nil {
		spec.CORS = &CORSSpec{
			AllowOrigins:     append([]string(nil), route.CORS.AllowOrigins...),
			AllowMethods:     append([]string(nil), route.CORS.AllowMethods...),
			AllowHeaders:     append([]string(nil), route.CORS.AllowHeaders...),
			ExposeHeaders:    append([]string(nil), route.CORS.ExposeHeaders...),
			AllowCredentials: route.CORS.AllowCredentials,
			MaxAge:           formatSpecDuration(route.CORS.MaxAge),
		}
	}
	return spec
}

// HealthSpec converts the service's declared health check, falling back
// to the registry defaults for anything unset.
func (s ServiceSpec) HealthSpec() (registry.HealthCheckSpec, error) {
	if s.HealthCheck == nil {
		return registry.DefaultHealthCheckSpec(), nil
	}
	spec := registry.HealthCheckSpec{
		HTTPPath:           s.HealthCheck.HTTPPath,
		UnhealthyThreshold: s.HealthCheck.UnhealthyThreshold,
		HealthyThreshold:   s.HealthCheck.HealthyThreshold,
	}
	var err error
	if spec.Interval, err = parseSpecDuration("interval", s.HealthCheck.Interval); err != nil {
		return spec, fmt.Errorf("service %s: %w", s.ID, err)
	}
	if spec.Timeout, err = parseSpecDuration("timeout", s.HealthCheck.Timeout); err != nil {
		return spec, fmt.Errorf("service %s: %w", s.ID, err)
	}
	return spec, nil
}

// SpecFromService renders a live service back to its declarative form.
func SpecFromService(id string, health registry.HealthCheckSpec, addrs []registry.Address) ServiceSpec {
	spec := ServiceSpec{
		ID: id,
		HealthCheck: &HealthCheckSpec{
			HTTPPath:           health.HTTPPath,
			Interval:           formatSpecDuration(health.Interval),
			Timeout:            formatSpecDuration(health.Timeout),
			UnhealthyThreshold: health.UnhealthyThreshold,
			HealthyThreshold:   health.HealthyThreshold,
		},
	}
	for _, a := range addrs {
		spec.Endpoints = append(spec.Endpoints, EndpointSpec{Host: a.Host, Port: a.Port})
	}
	return spec
}

// Addresses returns the service's declared endpoint addresses.
func (s ServiceSpec) Addresses() []registry.Address {
	addrs := make([]registry.Address, 0, len(s.Endpoints))
	for _, e := range s.Endpoints {
		addrs = append(addrs, registry.Address{Host: e.Host, Port: e.Port})
	}
	return addrs
}

// Validate checks the parts the route table cannot: service declarations.
func (s ServiceSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("service id is required")
	}
	for _, e := range s.Endpoints {
		if e.Host == "" {
			return fmt.Errorf("service %s: endpoint host is required", s.ID)
		}
		if e.Port < 1 || e.Port > 65535 {
			return fmt.Errorf("service %s: endpoint port %d is out of range", s.ID, e.Port)
		}
	}
	return nil
}

func toPredicates(specs []PredicateSpec) []routing.Predicate {
	if len(specs) == 0 {
		return nil
	}
	out := make([]routing.Predicate, 0, len(specs))
	for _, p := range specs {
		out = append(out, routing.Predicate{Name: p.Name, Value: p.Value})
	}
	return out
}

func fromPredicates(preds []routing.Predicate) []PredicateSpec {
	if len(preds) == 0 {
		return nil
	}
	out := make([]PredicateSpec, 0, len(preds))
	for _, p := range preds {
		out = append(out, PredicateSpec{Name: p.Name, Value: p.Value})
	}
	return out
}

func parseSpecDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := utils.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func formatSpecDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
