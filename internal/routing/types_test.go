package routing

import (
	"testing"
	"time"

	apperrors "vpc-gateway/internal/common/errors"
)

func validRoute() *Route {
	return &Route{
		ID:           "users-api",
		Match:        MatchSpec{PathKind: PathPrefix, Path: "/api/v1/users"},
		Destinations: []Destination{{Service: "default/users"}},
	}
}

func TestRoute_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Route)
		wantErr bool
	}{
		{"valid route", func(r *Route) {}, false},
		{"missing id", func(r *Route) { r.ID = "" }, true},
		{"missing path", func(r *Route) { r.Match.Path = "" }, true},
		{"relative path", func(r *Route) { r.Match.Path = "api/v1" }, true},
		{"missing path kind", func(r *Route) { r.Match.PathKind = "" }, true},
		{"unknown path kind", func(r *Route) { r.Match.PathKind = "regex" }, true},
		{"no destinations", func(r *Route) { r.Destinations = nil }, true},
		{"destination without service", func(r *Route) { r.Destinations = []Destination{{}} }, true},
		{"negative weight", func(r *Route) { r.Destinations[0].Weight = -1 }, true},
		{"unknown strategy", func(r *Route) { r.Strategy = "fastest" }, true},
		{"valid strategy", func(r *Route) { r.Strategy = StrategyLeastConn }, false},
		{"hash header without name", func(r *Route) {
			r.Strategy = StrategyConsistentHash
			r.HashKey = HashKeyConfig{Source: HashKeyHeader}
		}, true},
		{"hash header with name", func(r *Route) {
			r.Strategy = StrategyConsistentHash
			r.HashKey = HashKeyConfig{Source: HashKeyHeader, HeaderName: "X-Tenant"}
		}, false},
		{"header predicate without name", func(r *Route) {
			r.Match.Headers = []Predicate{{Value: "x"}}
		}, true},
		{"query predicate without name", func(r *Route) {
			r.Match.Query = []Predicate{{Value: "x"}}
		}, true},
		{"negative max retries", func(r *Route) { r.Retry.MaxRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := validRoute()
			tt.mutate(route)

			err := route.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr && !apperrors.IsType(err, apperrors.ErrTypeValidation) {
				t.Errorf("error should be a validation error, got %v", err)
			}
		})
	}
}

func TestRoute_CompileDefaults(t *testing.T) {
	route := &Route{
		ID: "defaults",
		Match: MatchSpec{
			PathKind: PathPrefix,
			Path:     "/api/",
			Methods:  []string{"get", "Post"},
		},
		Destinations: []Destination{{Service: "default/api"}, {Service: "default/api-canary", Weight: 10}},
	}
	if err := route.compile(); err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	if route.Match.Methods[0] != "GET" || route.Match.Methods[1] != "POST" {
		t.Errorf("methods should be uppercased, got %v", route.Match.Methods)
	}
	if route.Strategy != StrategyRoundRobin {
		t.Errorf("strategy should default to round_robin, got %s", route.Strategy)
	}
	if route.Destinations[0].Weight != 100 {
		t.Errorf("zero weight should default to 100, got %d", route.Destinations[0].Weight)
	}
	if route.Destinations[1].Weight != 10 {
		t.Errorf("explicit weight should be preserved, got %d", route.Destinations[1].Weight)
	}
	if route.Retry.MaxRetries != 3 {
		t.Errorf("retry policy should default, got %+v", route.Retry)
	}
	if !route.Retry.IsRetryableStatus(502) || !route.Retry.IsRetryableStatus(503) || !route.Retry.IsRetryableStatus(504) {
		t.Errorf("default retryable statuses should be 502/503/504, got %v", route.Retry.RetryableStatuses)
	}
	if route.Timeout.PerAttempt != 10*time.Second || route.Timeout.Overall != 30*time.Second {
		t.Errorf("timeout policy should default, got %+v", route.Timeout)
	}
}

func TestRoute_CompileHashKeyDefault(t *testing.T) {
	route := validRoute()
	route.Strategy = StrategyConsistentHash
	if err := route.compile(); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if route.HashKey.Source != HashKeyClientIP {
		t.Errorf("hash key source should default to client_ip, got %s", route.HashKey.Source)
	}
}

func TestRoute_CompileRejectsBadGlob(t *testing.T) {
	route := validRoute()
	route.Match.Headers = []Predicate{{Name: "X-Version", Value: "v[bad"}}
	if err := route.compile(); err == nil {
		t.Error("expected an error for an invalid glob pattern")
	}
}

func TestRetryPolicy_BackoffFor(t *testing.T) {
	policy := RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 10 * time.Second}, // 100ms * 2^10 = 102.4s, capped
	}

	for _, tt := range tests {
		if got := policy.BackoffFor(tt.attempt); got != tt.want {
			t.Errorf("BackoffFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_BackoffForZeroInitial(t *testing.T) {
	policy := RetryPolicy{}
	if got := policy.BackoffFor(3); got != 0 {
		t.Errorf("BackoffFor with zero initial = %v, want 0", got)
	}
}

func TestRetryPolicy_IsRetryableStatus(t *testing.T) {
	policy := DefaultRetryPolicy()
	if !policy.IsRetryableStatus(503) {
		t.Error("503 should be retryable by default")
	}
	if policy.IsRetryableStatus(500) {
		t.Error("500 should not be retryable by default")
	}
	if policy.IsRetryableStatus(200) {
		t.Error("200 should not be retryable")
	}
}

func TestCORSPolicy_AllowsOrigin(t *testing.T) {
	policy := &CORSPolicy{AllowOrigins: []string{"https://app.example.com"}}
	if !policy.AllowsOrigin("https://app.example.com") {
		t.Error("configured origin should be allowed")
	}
	if !policy.AllowsOrigin("HTTPS://APP.EXAMPLE.COM") {
		t.Error("origin comparison should be case-insensitive")
	}
	if policy.AllowsOrigin("https://evil.example.com") {
		t.Error("unlisted origin should be rejected")
	}

	wildcard := &CORSPolicy{AllowOrigins: []string{"*"}}
	if !wildcard.AllowsOrigin("https://anything.example.com") {
		t.Error("* should allow any origin")
	}
}

func TestPredicate_ExactFastPath(t *testing.T) {
	p := Predicate{Name: "X-Env", Value: "prod"}
	if err := p.compile(); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if p.pattern != nil {
		t.Error("plain values should not compile a glob")
	}
	if !p.Matches("prod") || p.Matches("prod2") {
		t.Error("exact predicate semantics broken")
	}
}
