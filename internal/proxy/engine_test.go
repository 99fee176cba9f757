package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vpc-gateway/internal/balancer"
	"vpc-gateway/internal/circuitbreaker"
	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/middleware"
	"vpc-gateway/internal/registry"
	"vpc-gateway/internal/routing"
)

func testLogger() logging.Logger {
	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})
	if err != nil {
		panic(err)
	}
	return logger
}

type harnessConfig struct {
	routes       []*routing.Route
	hooks        []middleware.Hook
	breaker      *circuitbreaker.Config
	maxBodyBytes int64
}

type harness struct {
	engine   *Engine
	registry *registry.Registry
	breakers *circuitbreaker.Manager
	table    *routing.Table
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	logger := testLogger()

	table := routing.NewTable(logger)
	if _, err := table.Replace(cfg.routes); err != nil {
		t.Fatalf("replace routes: %v", err)
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	if cfg.breaker != nil {
		breakerCfg = *cfg.breaker
	}
	reg := registry.NewRegistry(logger)
	breakers := circuitbreaker.NewManager(breakerCfg, logger)

	engine := NewEngine(EngineConfig{
		Table:        table,
		Registry:     reg,
		Balancer:     balancer.New(logger),
		Breakers:     breakers,
		Chain:        middleware.NewChain(logger, cfg.hooks...),
		Logger:       logger,
		MaxBodyBytes: cfg.maxBodyBytes,
	})
	return &harness{engine: engine, registry: reg, breakers: breakers, table: table}
}

// addBackend starts an httptest backend and registers it as an endpoint of
// the service.
func (h *harness) addBackend(t *testing.T, service string, handler http.HandlerFunc) *registry.Endpoint {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return h.addEndpointURL(t, service, srv.URL)
}

func (h *harness) addEndpointURL(t *testing.T, service, rawURL string) *registry.Endpoint {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split backend host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse backend port: %v", err)
	}
	return h.registry.UpsertEndpoint(service, host, port)
}

// deadAddr returns an address nothing is listening on.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func noRetry() routing.RetryPolicy {
	return routing.RetryPolicy{RetryableStatuses: []int{}}
}

func exactRoute(id, path, service string) *routing.Route {
	return &routing.Route{
		ID:           id,
		Match:        routing.MatchSpec{PathKind: routing.PathExact, Path: path},
		Destinations: []routing.Destination{{Service: service}},
		Retry:        noRetry(),
	}
}

func doRequest(h *harness, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, r)
	return w
}

func TestEngineProxiesSuccess(t *testing.T) {
	h := newHarness(t, harnessConfig{routes: []*routing.Route{exactRoute("users", "/api/users", "users")}})
	h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "users-1")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "hello")
	})

	w := doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "hello" {
		t.Errorf("body = %q, want %q", got, "hello")
	}
	if got := w.Header().Get("X-Backend"); got != "users-1" {
		t.Errorf("X-Backend = %q, want users-1", got)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected X-Request-ID on the response")
	}
}

func TestEngineRouteNotFound(t *testing.T) {
	h := newHarness(t, harnessConfig{routes: []*routing.Route{exactRoute("users", "/api/users", "users")}})

	w := doRequest(h, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "route_not_found") {
		t.Errorf("body = %q, want route_not_found error", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestEngineNoHealthyEndpoint(t *testing.T) {
	h := newHarness(t, harnessConfig{routes: []*routing.Route{exactRoute("users", "/api/users", "users")}})
	ep := h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be reached")
	})
	ep.SetHealthy(false)

	w := doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no_healthy_endpoint") {
		t.Errorf("body = %q, want no_healthy_endpoint error", w.Body.String())
	}
}

func TestEngineRetriesUntilSuccess(t *testing.T) {
	route := exactRoute("users", "/api/users", "users")
	route.Retry = routing.RetryPolicy{
		MaxRetries:        3,
		RetryableStatuses: []int{http.StatusServiceUnavailable},
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
	}
	h := newHarness(t, harnessConfig{routes: []*routing.Route{route}})

	var attempts atomic.Int32
	h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "recovered")
	})

	w := doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after retries", w.Code)
	}
	if got := w.Body.String(); got != "recovered" {
		t.Errorf("body = %q, want recovered", got)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("backend attempts = %d, want 3", got)
	}
}

func TestEngineExhaustedRetriesPassBackendAnswer(t *testing.T) {
	route := exactRoute("users", "/api/users", "users")
	route.Retry = routing.RetryPolicy{
		MaxRetries:        1,
		RetryableStatuses: []int{http.StatusServiceUnavailable},
		InitialBackoff:    time.Millisecond,
	}
	h := newHarness(t, harnessConfig{routes: []*routing.Route{route}})

	var attempts atomic.Int32
	h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "draining")
	})

	w := doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want backend's 503", w.Code)
	}
	if got := w.Body.String(); got != "draining" {
		t.Errorf("body = %q, want the backend body passed through", got)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("backend attempts = %d, want 2", got)
	}
}

func TestEngineNonRetryableStatusPassedThrough(t *testing.T) {
	route := exactRoute("users", "/api/users", "users")
	route.Retry = routing.RetryPolicy{
		MaxRetries:        3,
		RetryableStatuses: []int{http.StatusServiceUnavailable},
		InitialBackoff:    time.Millisecond,
	}
	h := newHarness(t, harnessConfig{routes: []*routing.Route{route}})

	var attempts atomic.Int32
	h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "boom")
	})

	w := doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want backend's 500", w.Code)
	}
	if got := w.Body.String(); got != "boom" {
		t.Errorf("body = %q, want boom", got)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("backend attempts = %d, want 1 (500 is not retryable here)", got)
	}
}

func TestEngineAttemptTimeout(t *testing.T) {
	route := exactRoute("slow", "/slow", "slow")
	route.Timeout = routing.TimeoutPolicy{PerAttempt: 30 * time.Millisecond, Overall: 500 * time.Millisecond}
	h := newHarness(t, harnessConfig{routes: []*routing.Route{route}})
	h.addBackend(t, "slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})

	w := doRequest(h, httptest.NewRequest(http.MethodGet, "/slow", nil))

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
	if !strings.Contains(w.Body.String(), "timeout") {
		t.Errorf("body = %q, want timeout error", w.Body.String())
	}
}

func TestEngineConnectionRefused(t *testing.T) {
	h := newHarness(t, harnessConfig{routes: []*routing.Route{exactRoute("users", "/api/users", "users")}})
	h.addEndpointURL(t, "users", "http://"+deadAddr(t))

	w := doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection_failure") {
		t.Errorf("body = %q, want connection_failure error", w.Body.String())
	}
}

func TestEngineFailuresOpenBreaker(t *testing.T) {
	h := newHarness(t, harnessConfig{
		routes:  []*routing.Route{exactRoute("users", "/api/users", "users")},
		breaker: &circuitbreaker.Config{FailureThreshold: 2, Cooldown: time.Minute, HalfOpenMaxRequests: 1},
	})
	addr := deadAddr(t)
	h.addEndpointURL(t, "users", "http://"+addr)

	for i := 0; i < 2; i++ {
		w := doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))
		if w.Code != http.StatusBadGateway {
			t.Fatalf("attempt %d: status = %d, want 502", i, w.Code)
		}
	}

	breaker, ok := h.breakers.Lookup(addr)
	if !ok {
		t.Fatal("expected a breaker for the endpoint")
	}
	if got := breaker.State(); got != circuitbreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	// With the only endpoint's breaker open there is nothing to serve the
	// request.
	w := doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 once the breaker is open", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no_healthy_endpoint") {
		t.Errorf("body = %q, want no_healthy_endpoint error", w.Body.String())
	}
}

func TestEngineReplaysBodyAcrossRetries(t *testing.T) {
	route := exactRoute("ingest", "/ingest", "ingest")
	route.Retry = routing.RetryPolicy{
		MaxRetries:        2,
		RetryableStatuses: []int{http.StatusServiceUnavailable},
		InitialBackoff:    time.Millisecond,
	}
	h := newHarness(t, harnessConfig{routes: []*routing.Route{route}})

	var attempts atomic.Int32
	bodies := make(chan string, 3)
	h.addBackend(t, "ingest", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("payload-123"))
	w := doRequest(h, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	close(bodies)
	n := 0
	for b := range bodies {
		n++
		if b != "payload-123" {
			t.Errorf("attempt %d body = %q, want payload-123", n, b)
		}
	}
	if n != 2 {
		t.Errorf("backend attempts = %d, want 2", n)
	}
}

func TestEngineRejectsOversizedBody(t *testing.T) {
	h := newHarness(t, harnessConfig{
		routes:       []*routing.Route{exactRoute("ingest", "/ingest", "ingest")},
		maxBodyBytes: 16,
	})
	h.addBackend(t, "ingest", func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be reached")
	})

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(strings.Repeat("x", 64)))
	w := doRequest(h, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestEngineForwardingHeaders(t *testing.T) {
	h := newHarness(t, harnessConfig{
		routes: []*routing.Route{exactRoute("users", "/api/users", "users")},
		hooks:  []middleware.Hook{middleware.NewTracingHook(testLogger())},
	})

	type seen struct {
		header http.Header
		host   string
	}
	got := make(chan seen, 1)
	h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {
		got <- seen{header: r.Header.Clone(), host: r.Host}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Host = "gw.example.com"
	req.Header.Set("X-Forwarded-For", "9.9.9.9")
	req.Header.Set("Connection", "X-Internal-Secret")
	req.Header.Set("X-Internal-Secret", "do-not-forward")
	req.Header.Set("Keep-Alive", "30")
	req.Header.Set("Authorization", "Bearer abc")

	w := doRequest(h, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	s := <-got

	if s.host != "gw.example.com" {
		t.Errorf("backend Host = %q, want the client's Host preserved", s.host)
	}
	if got := s.header.Get("X-Forwarded-For"); got != "9.9.9.9, 192.0.2.1" {
		t.Errorf("X-Forwarded-For = %q, want it appended", got)
	}
	if got := s.header.Get("X-Forwarded-Host"); got != "gw.example.com" {
		t.Errorf("X-Forwarded-Host = %q", got)
	}
	if got := s.header.Get("X-Forwarded-Proto"); got != "http" {
		t.Errorf("X-Forwarded-Proto = %q, want http", got)
	}
	if s.header.Get("X-Internal-Secret") != "" {
		t.Error("Connection-named header leaked to the backend")
	}
	if s.header.Get("Keep-Alive") != "" {
		t.Error("hop-by-hop header leaked to the backend")
	}
	if s.header.Get("Authorization") != "Bearer abc" {
		t.Error("end-to-end header was not forwarded")
	}
	if s.header.Get(middleware.RequestIDHeader) == "" {
		t.Error("X-Request-ID was not stamped on the outbound request")
	}
	tp := s.header.Get(middleware.TraceparentHeader)
	if tp == "" {
		t.Fatal("traceparent was not stamped on the outbound request")
	}
	if _, _, _, ok := middleware.ParseTraceparent(tp); !ok {
		t.Errorf("outbound traceparent %q does not parse", tp)
	}
}

func TestEngineCORSPreflight(t *testing.T) {
	route := exactRoute("users", "/api/users", "users")
	route.CORS = &routing.CORSPolicy{
		AllowOrigins: []string{"https://app.example.com"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       time.Minute,
	}
	h := newHarness(t, harnessConfig{routes: []*routing.Route{route}})
	h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight must not reach the backend")
	})

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/users", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")

		w := doRequest(h, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Allow-Origin = %q", got)
		}
		if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
			t.Errorf("Allow-Methods = %q", got)
		}
		if got := w.Header().Get("Access-Control-Max-Age"); got != "60" {
			t.Errorf("Max-Age = %q, want 60", got)
		}
	})

	t.Run("denied origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/users", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")

		w := doRequest(h, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("denied preflight must not carry Allow-Origin")
		}
	})
}

func TestEngineCORSActualResponse(t *testing.T) {
	route := exactRoute("users", "/api/users", "users")
	route.CORS = &routing.CORSPolicy{
		AllowOrigins:  []string{"https://app.example.com"},
		ExposeHeaders: []string{"X-Total-Count"},
	}
	h := newHarness(t, harnessConfig{routes: []*routing.Route{route}})
	h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Total-Count", "42")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Origin", "https://app.example.com")

	w := doRequest(h, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "X-Total-Count" {
		t.Errorf("Expose-Headers = %q", got)
	}
}

func TestEngineConnectionSlotReleased(t *testing.T) {
	h := newHarness(t, harnessConfig{routes: []*routing.Route{exactRoute("users", "/api/users", "users")}})
	ep := h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})

	for i := 0; i < 5; i++ {
		w := doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
	}
	if got := ep.ActiveConnections(); got != 0 {
		t.Errorf("active connections = %d after requests finished, want 0", got)
	}
}

type terminalRecorder struct {
	middleware.NopHook
	requests  int
	responses []int
	errs      []error
}

func (h *terminalRecorder) Name() string { return "recorder" }

func (h *terminalRecorder) OnRequest(context.Context, *middleware.RequestContext) error {
	h.requests++
	return nil
}

func (h *terminalRecorder) OnResponse(_ context.Context, _ *middleware.RequestContext, status int) error {
	h.responses = append(h.responses, status)
	return nil
}

func (h *terminalRecorder) OnError(_ context.Context, _ *middleware.RequestContext, err error) error {
	h.errs = append(h.errs, err)
	return nil
}

type vetoHook struct {
	middleware.NopHook
	err error
}

func (h *vetoHook) Name() string { return "veto" }

func (h *vetoHook) OnRequest(context.Context, *middleware.RequestContext) error { return h.err }

func TestEngineHooksSeeTerminalOutcome(t *testing.T) {
	rec := &terminalRecorder{}
	h := newHarness(t, harnessConfig{
		routes: []*routing.Route{exactRoute("users", "/api/users", "users")},
		hooks:  []middleware.Hook{rec},
	})
	h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {})

	doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if rec.requests != 1 || len(rec.responses) != 1 || rec.responses[0] != http.StatusOK {
		t.Errorf("success: requests=%d responses=%v, want one 200 response", rec.requests, rec.responses)
	}

	doRequest(h, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.requests != 1 {
		t.Errorf("unmatched request must not run request hooks, requests=%d", rec.requests)
	}
	if len(rec.errs) != 1 {
		t.Fatalf("unmatched request should surface one error, got %v", rec.errs)
	}
}

func TestEngineHookVeto(t *testing.T) {
	veto := &vetoHook{err: apperrors.RateLimitError("client:192.0.2.1")}
	h := newHarness(t, harnessConfig{
		routes: []*routing.Route{exactRoute("users", "/api/users", "users")},
		hooks:  []middleware.Hook{veto},
	})
	h.addBackend(t, "users", func(w http.ResponseWriter, r *http.Request) {
		t.Error("vetoed request must not reach the backend")
	})

	w := doRequest(h, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if !strings.Contains(w.Body.String(), "rate_limit") {
		t.Errorf("body = %q, want rate_limit error", w.Body.String())
	}
}
