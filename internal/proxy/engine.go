// Package proxy is the request path of the gateway: it matches the
// inbound request to a route, picks a healthy endpoint behind its
// destination service and forwards with retries, per-attempt and overall
// deadlines, and circuit breaking. Hooks observe every terminal outcome.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"vpc-gateway/internal/balancer"
	"vpc-gateway/internal/circuitbreaker"
	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/metrics"
	"vpc-gateway/internal/middleware"
	"vpc-gateway/internal/registry"
	"vpc-gateway/internal/routing"
)

// DefaultMaxBodyBytes caps buffered request bodies when the engine config
// does not set a limit.
const DefaultMaxBodyBytes = 4 << 20

const codePayloadTooLarge = "payload_too_large"

// EngineConfig carries the engine's collaborators. Table, Registry,
// Balancer and Breakers are required; the rest default sensibly.
type EngineConfig struct {
	Table     *routing.Table
	Registry  *registry.Registry
	Balancer  *balancer.Balancer
	Breakers  *circuitbreaker.Manager
	Chain     *middleware.Chain
	Forwarder *Forwarder
	Collector *metrics.Collector
	Logger    logging.Logger

	MaxBodyBytes int64
}

// Engine is the data-plane http.Handler.
type Engine struct {
	table        *routing.Table
	registry     *registry.Registry
	balancer     *balancer.Balancer
	breakers     *circuitbreaker.Manager
	chain        *middleware.Chain
	forwarder    *Forwarder
	collector    *metrics.Collector
	logger       logging.Logger
	maxBodyBytes int64
}

// NewEngine assembles the request path from its collaborators.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	forwarder := cfg.Forwarder
	if forwarder == nil {
		forwarder = NewForwarder(logger)
	}
	chain := cfg.Chain
	if chain == nil {
		chain = middleware.NewChain(logger)
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Engine{
		table:        cfg.Table,
		registry:     cfg.Registry,
		balancer:     cfg.Balancer,
		breakers:     cfg.Breakers,
		chain:        chain,
		forwarder:    forwarder,
		collector:    cfg.Collector,
		logger:       logger.WithFields(logging.String("component", "proxy")),
		maxBodyBytes: maxBody,
	}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := middleware.NewRequestContext(r)
	w.Header().Set(middleware.RequestIDHeader, rc.RequestID)

	meta := routing.RequestMeta{
		Path:     r.URL.Path,
		Method:   r.Method,
		Header:   r.Header,
		Query:    r.URL.Query(),
		ClientIP: rc.ClientIP,
	}

	route := e.table.Snapshot().Match(meta)
	if route == nil {
		appErr := apperrors.RouteNotFoundError(r.URL.Path)
		e.chain.OnError(rc.Context(r.Context()), rc, appErr)
		e.respondError(w, rc, appErr)
		return
	}
	rc.Route = route.ID

	ctx := rc.Context(r.Context())
	if err := e.chain.OnRequest(ctx, rc); err != nil {
		appErr := toAppError(err)
		e.chain.OnError(ctx, rc, appErr)
		e.respondError(w, rc, appErr)
		return
	}
	// Hooks may have established trace identifiers; rebuild the context
	// so downstream logs carry them.
	ctx = rc.Context(r.Context())

	if route.CORS != nil && isPreflight(r) {
		status := writePreflight(w, r, route.CORS)
		e.chain.OnResponse(ctx, rc, status)
		return
	}

	body, appErr := e.readBody(r)
	if appErr != nil {
		e.chain.OnError(ctx, rc, appErr)
		e.respondError(w, rc, appErr)
		return
	}
	rc.RequestBytes = int64(len(body))

	octx, cancel := context.WithTimeout(ctx, route.Timeout.Overall)
	defer cancel()

	maxAttempts := route.Retry.MaxRetries + 1
	var lastErr *apperrors.AppError

	for attempt := 0; attempt < maxAttempts; attempt++ {
		rc.Attempts = attempt + 1

		dest := balancer.ResolveDestination(route, meta)
		rc.Service = dest.Service

		candidates := e.healthyCandidates(dest.Service)
		if len(candidates) == 0 {
			// Nothing can serve this request now and a retry against the
			// same empty pool would not change that.
			lastErr = apperrors.NoHealthyEndpointError(dest.Service)
			break
		}

		ep, err := e.balancer.Select(route, meta, candidates)
		if err != nil {
			lastErr = toAppError(err)
			break
		}
		rc.Endpoint = ep.ID

		var res AttemptResult
		ran := false
		execErr := e.breakers.Get(ep.ID).Execute(func() error {
			ran = true
			res = e.forwarder.Forward(octx, ep, rc, r, body, route.Timeout.PerAttempt)
			if res.CountsAsFailure() {
				return res.Err
			}
			return nil
		})
		e.sampleConnections(ep)

		retryable := false
		switch {
		case !ran:
			// The breaker rejected the attempt: it opened after candidate
			// filtering or its half-open trial slot is taken. Uses up an
			// attempt like any other failure.
			lastErr = toAppError(execErr)
			retryable = true
		case res.Outcome == OutcomeSuccess:
			e.writeResponse(ctx, w, rc, route, r, res.Response)
			return
		case res.Outcome == OutcomeCanceled:
			// The client is gone; there is nobody to answer.
			e.chain.OnError(ctx, rc, res.Err)
			return
		case res.Outcome == OutcomeBackendError:
			retryable = route.Retry.IsRetryableStatus(res.Status)
			if !retryable || attempt == maxAttempts-1 {
				// The backend's answer stands, even when it is a 5xx.
				e.writeResponse(ctx, w, rc, route, r, res.Response)
				return
			}
			lastErr = res.Err
			drainAndClose(res.Response)
		case res.Outcome == OutcomeTimeout:
			lastErr = res.Err
			retryable = route.Retry.IsRetryableStatus(http.StatusGatewayTimeout)
		default: // OutcomeConnectionFailure
			lastErr = res.Err
			retryable = true
		}

		if !retryable || attempt == maxAttempts-1 {
			break
		}
		e.recordRetry(route.ID)
		if !e.sleepBackoff(octx, route.Retry.BackoffFor(attempt)) {
			lastErr = apperrors.TimeoutError("request")
			break
		}
	}

	if lastErr == nil {
		lastErr = apperrors.InternalError("request failed without a recorded cause", nil)
	}
	e.chain.OnError(ctx, rc, lastErr)
	e.respondError(w, rc, lastErr)
}

// healthyCandidates returns the endpoints of the service that are both
// health-check healthy and admitted by their circuit breakers.
func (e *Engine) healthyCandidates(service string) []*registry.Endpoint {
	eps := e.registry.Lookup(service)
	candidates := make([]*registry.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.Healthy() && e.breakers.Allows(ep.ID) {
			candidates = append(candidates, ep)
		}
	}
	return candidates
}

// readBody buffers the request body so it can be replayed across retries.
func (e *Engine) readBody(r *http.Request) ([]byte, *apperrors.AppError) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, e.maxBodyBytes+1))
	if err != nil {
		return nil, apperrors.ValidationError("failed to read request body")
	}
	if int64(len(body)) > e.maxBodyBytes {
		return nil, apperrors.ValidationError("request body exceeds the configured limit").WithCode(codePayloadTooLarge)
	}
	return body, nil
}

// writeResponse streams the backend response to the client and notifies
// the chain. Closing the body releases the endpoint's connection slot.
func (e *Engine) writeResponse(ctx context.Context, w http.ResponseWriter, rc *middleware.RequestContext, route *routing.Route, r *http.Request, resp *http.Response) {
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	if route.CORS != nil {
		applyCORSHeaders(w.Header(), route.CORS, r.Header.Get("Origin"))
	}
	w.Header().Set(middleware.RequestIDHeader, rc.RequestID)
	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	rc.ResponseBytes = n
	if err != nil {
		e.logger.Warn("Streaming response to client failed",
			logging.Err(err),
			logging.String("request_id", rc.RequestID),
			logging.String("endpoint", rc.Endpoint))
	}
	e.chain.OnResponse(ctx, rc, resp.StatusCode)
}

func (e *Engine) respondError(w http.ResponseWriter, rc *middleware.RequestContext, appErr *apperrors.AppError) {
	status := appErr.HTTPStatus()
	if appErr.Code == codePayloadTooLarge {
		status = http.StatusRequestEntityTooLarge
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(middleware.RequestIDHeader, rc.RequestID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":      appErr.Message,
		"type":       string(appErr.Type),
		"request_id": rc.RequestID,
	})
}

// sleepBackoff waits for the backoff delay, giving up early when the
// overall deadline expires. Reports whether the wait completed.
func (e *Engine) sleepBackoff(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) recordRetry(route string) {
	if e.collector != nil {
		e.collector.RecordRetry(route)
	}
}

func (e *Engine) sampleConnections(ep *registry.Endpoint) {
	if e.collector != nil {
		e.collector.SetEndpointConnections(ep.Service, ep.ID, ep.ActiveConnections())
	}
}

func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.InternalError("unexpected gateway error", err)
}

// drainAndClose discards a bounded amount of an abandoned response body so
// the pooled connection can be reused, then closes it.
func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// copyResponseHeaders copies backend response headers minus hop-by-hop
// ones.
func copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, name := range src.Values("Connection") {
		for _, token := range splitHeaderTokens(name) {
			dst.Del(token)
		}
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
}
