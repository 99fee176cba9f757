package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpc-gateway/internal/redis"
)

func testLimiter(t *testing.T, cfg *Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, cfg), mr
}

func TestNewLimiterDefaults(t *testing.T) {
	limiter := NewLimiter(nil, nil)

	assert.Equal(t, 100, limiter.config.DefaultLimit)
	assert.Equal(t, time.Minute, limiter.config.DefaultWindow)
	assert.True(t, limiter.config.Enabled)
}

func TestCheckLimitCountsRequests(t *testing.T) {
	limiter, _ := testLimiter(t, &Config{DefaultLimit: 3, DefaultWindow: time.Minute, Enabled: true})
	ctx := context.Background()

	// Each call consumes one slot; the fourth finds the window full.
	for i, want := range []int{3, 2, 1, 0} {
		result, err := limiter.CheckLimit(ctx, "client-a", 3, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, result.Remaining, "call %d", i+1)
		assert.Equal(t, 3, result.Limit)
	}

	// Other keys have their own windows.
	result, err := limiter.CheckLimit(ctx, "client-b", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Remaining)
}

// alignToSecond sleeps just past a wall-clock second boundary so the next
// few calls land in the same one-second bucket of the sliding window.
func alignToSecond() {
	now := time.Now()
	next := now.Truncate(time.Second).Add(time.Second + 50*time.Millisecond)
	time.Sleep(next.Sub(now))
}

func TestCheckLimitWindowSlides(t *testing.T) {
	limiter, _ := testLimiter(t, &Config{DefaultLimit: 1, DefaultWindow: time.Second, Enabled: true})
	ctx := context.Background()
	alignToSecond()

	first, err := limiter.CheckLimit(ctx, "client", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Remaining)

	second, err := limiter.CheckLimit(ctx, "client", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Remaining)

	time.Sleep(2100 * time.Millisecond)

	third, err := limiter.CheckLimit(ctx, "client", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Remaining)
}

func TestCheckDefaultLimit(t *testing.T) {
	limiter, _ := testLimiter(t, &Config{DefaultLimit: 2, DefaultWindow: time.Minute, Enabled: true})
	ctx := context.Background()

	result, err := limiter.CheckDefaultLimit(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Limit)
	assert.Equal(t, time.Minute, result.Window)
	assert.Equal(t, 2, result.Remaining)
}

func TestCheckLimitDisabled(t *testing.T) {
	// The disabled path never touches Redis.
	limiter := NewLimiter(nil, &Config{DefaultLimit: 10, DefaultWindow: time.Minute, Enabled: false})

	result, err := limiter.CheckLimit(context.Background(), "client", 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Remaining)
}

func TestHTTPMiddlewareEnforcesLimit(t *testing.T) {
	limiter, _ := testLimiter(t, &Config{DefaultLimit: 2, DefaultWindow: time.Minute, Enabled: true})

	handler := limiter.HTTPMiddleware(IPBasedKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/routes", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	first := request()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))

	request()

	third := request()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "0", third.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", third.Header().Get("Retry-After"))
}

func TestHTTPMiddlewareFailsOpen(t *testing.T) {
	limiter, mr := testLimiter(t, &Config{DefaultLimit: 1, DefaultWindow: time.Minute, Enabled: true})
	mr.Close()

	handler := limiter.HTTPMiddleware(IPBasedKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/routes", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}

func TestHTTPMiddlewareSkipsEmptyKey(t *testing.T) {
	limiter, mr := testLimiter(t, &Config{DefaultLimit: 1, DefaultWindow: time.Minute, Enabled: true})

	handler := limiter.HTTPMiddleware(func(*http.Request) string { return "" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	assert.Empty(t, mr.Keys())
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "client:10.1.2.3", ClientKey("10.1.2.3"))
	assert.Equal(t, "route:orders", RouteKey("orders"))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	assert.Equal(t, "ip:10.0.0.1:12345", IPBasedKey(req))

	req.Header.Set("X-Real-IP", "203.0.113.1")
	assert.Equal(t, "ip:203.0.113.1", IPBasedKey(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, "ip:198.51.100.7", IPBasedKey(req))
}
