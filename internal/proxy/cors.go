package proxy

import (
	"net/http"
	"strconv"
	"strings"

	"vpc-gateway/internal/routing"
)

// isPreflight reports whether the request is a CORS preflight.
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

// writePreflight answers a preflight for the route's policy without
// contacting any backend, returning the status it wrote.
func writePreflight(w http.ResponseWriter, r *http.Request, policy *routing.CORSPolicy) int {
	origin := r.Header.Get("Origin")
	if !policy.AllowsOrigin(origin) {
		w.WriteHeader(http.StatusForbidden)
		return http.StatusForbidden
	}

	h := w.Header()
	setAllowOrigin(h, policy, origin)
	if len(policy.AllowMethods) > 0 {
		h.Set("Access-Control-Allow-Methods", strings.Join(policy.AllowMethods, ", "))
	} else if m := r.Header.Get("Access-Control-Request-Method"); m != "" {
		h.Set("Access-Control-Allow-Methods", m)
	}
	if len(policy.AllowHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(policy.AllowHeaders, ", "))
	} else if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		h.Set("Access-Control-Allow-Headers", requested)
	}
	if policy.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(int(policy.MaxAge.Seconds())))
	}
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent
}

// applyCORSHeaders decorates an actual response for an allowed origin.
func applyCORSHeaders(h http.Header, policy *routing.CORSPolicy, origin string) {
	if origin == "" || !policy.AllowsOrigin(origin) {
		return
	}
	setAllowOrigin(h, policy, origin)
	if len(policy.ExposeHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(policy.ExposeHeaders, ", "))
	}
}

func setAllowOrigin(h http.Header, policy *routing.CORSPolicy, origin string) {
	if policy.AllowCredentials {
		// A wildcard is invalid when credentials are allowed; echo the
		// origin instead.
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		return
	}
	for _, o := range policy.AllowOrigins {
		if o == "*" {
			h.Set("Access-Control-Allow-Origin", "*")
			return
		}
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
}
