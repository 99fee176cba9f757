package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vpc-gateway/internal/routing"
)

func TestIsPreflight(t *testing.T) {
	preflight := httptest.NewRequest(http.MethodOptions, "/x", nil)
	preflight.Header.Set("Origin", "https://app.example.com")
	preflight.Header.Set("Access-Control-Request-Method", "POST")
	if !isPreflight(preflight) {
		t.Error("OPTIONS with Origin and request-method is a preflight")
	}

	plainOptions := httptest.NewRequest(http.MethodOptions, "/x", nil)
	if isPreflight(plainOptions) {
		t.Error("bare OPTIONS is not a preflight")
	}

	withOriginOnly := httptest.NewRequest(http.MethodOptions, "/x", nil)
	withOriginOnly.Header.Set("Origin", "https://app.example.com")
	if isPreflight(withOriginOnly) {
		t.Error("OPTIONS without a requested method is not a preflight")
	}

	get := httptest.NewRequest(http.MethodGet, "/x", nil)
	get.Header.Set("Origin", "https://app.example.com")
	get.Header.Set("Access-Control-Request-Method", "POST")
	if isPreflight(get) {
		t.Error("non-OPTIONS is never a preflight")
	}
}

func TestWritePreflightEchoesRequestedWhenUnconfigured(t *testing.T) {
	policy := &routing.CORSPolicy{AllowOrigins: []string{"*"}}
	r := httptest.NewRequest(http.MethodOptions, "/x", nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", "DELETE")
	r.Header.Set("Access-Control-Request-Headers", "X-Custom")

	w := httptest.NewRecorder()
	status := writePreflight(w, r, policy)

	if status != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", status)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "DELETE" {
		t.Errorf("Allow-Methods = %q, want the requested method echoed", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "X-Custom" {
		t.Errorf("Allow-Headers = %q, want the requested headers echoed", got)
	}
	if w.Header().Get("Access-Control-Max-Age") != "" {
		t.Error("Max-Age must be absent when the policy sets none")
	}
}

func TestWritePreflightDeniedOrigin(t *testing.T) {
	policy := &routing.CORSPolicy{AllowOrigins: []string{"https://app.example.com"}}
	r := httptest.NewRequest(http.MethodOptions, "/x", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	r.Header.Set("Access-Control-Request-Method", "GET")

	w := httptest.NewRecorder()
	if status := writePreflight(w, r, policy); status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
}

func TestApplyCORSHeaders(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		policy := &routing.CORSPolicy{AllowOrigins: []string{"*"}}
		h := http.Header{}
		applyCORSHeaders(h, policy, "https://app.example.com")
		if got := h.Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Allow-Origin = %q, want *", got)
		}
	})

	t.Run("credentials echo the origin", func(t *testing.T) {
		policy := &routing.CORSPolicy{
			AllowOrigins:     []string{"*"},
			AllowCredentials: true,
		}
		h := http.Header{}
		applyCORSHeaders(h, policy, "https://app.example.com")
		if got := h.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Allow-Origin = %q, want the origin echoed with credentials", got)
		}
		if got := h.Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("Allow-Credentials = %q, want true", got)
		}
		if got := h.Get("Vary"); got != "Origin" {
			t.Errorf("Vary = %q, want Origin", got)
		}
	})

	t.Run("disallowed origin adds nothing", func(t *testing.T) {
		policy := &routing.CORSPolicy{AllowOrigins: []string{"https://app.example.com"}}
		h := http.Header{}
		applyCORSHeaders(h, policy, "https://evil.example.com")
		if len(h) != 0 {
			t.Errorf("headers = %v, want none for a disallowed origin", h)
		}
	})

	t.Run("expose headers", func(t *testing.T) {
		policy := &routing.CORSPolicy{
			AllowOrigins:  []string{"https://app.example.com"},
			ExposeHeaders: []string{"X-Total-Count", "X-Trace"},
		}
		h := http.Header{}
		applyCORSHeaders(h, policy, "https://app.example.com")
		if got := h.Get("Access-Control-Expose-Headers"); got != "X-Total-Count, X-Trace" {
			t.Errorf("Expose-Headers = %q", got)
		}
	})
}

func TestPreflightMaxAgeSeconds(t *testing.T) {
	policy := &routing.CORSPolicy{
		AllowOrigins: []string{"https://app.example.com"},
		MaxAge:       90 * time.Second,
	}
	r := httptest.NewRequest(http.MethodOptions, "/x", nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", "GET")

	w := httptest.NewRecorder()
	writePreflight(w, r, policy)
	if got := w.Header().Get("Access-Control-Max-Age"); got != "90" {
		t.Errorf("Max-Age = %q, want 90", got)
	}
}
