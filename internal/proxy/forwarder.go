package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/middleware"
	"vpc-gateway/internal/registry"
)

// Outcome classifies one forwarding attempt.
type Outcome int

const (
	// OutcomeSuccess covers any response below 500, including client
	// errors, which are the backend's answer, not its failure.
	OutcomeSuccess Outcome = iota
	// OutcomeBackendError means the endpoint answered with a 5xx.
	OutcomeBackendError
	// OutcomeTimeout means a deadline expired before the response arrived.
	OutcomeTimeout
	// OutcomeConnectionFailure means the endpoint could not be reached or
	// the connection broke mid-exchange.
	OutcomeConnectionFailure
	// OutcomeCanceled means the inbound client went away. It does not
	// count against the endpoint and a response is no longer deliverable.
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBackendError:
		return "backend_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeConnectionFailure:
		return "connection_failure"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// AttemptResult carries what the retry loop needs from one attempt.
// Response is non-nil whenever the backend produced one; its body must be
// closed by the consumer, which also releases the endpoint's connection
// slot.
type AttemptResult struct {
	Outcome  Outcome
	Status   int
	Response *http.Response
	Err      *apperrors.AppError
}

// CountsAsFailure reports whether the attempt counts against the
// endpoint's circuit breaker.
func (r AttemptResult) CountsAsFailure() bool {
	switch r.Outcome {
	case OutcomeBackendError, OutcomeTimeout, OutcomeConnectionFailure:
		return true
	default:
		return false
	}
}

// Hop-by-hop headers are connection-scoped and never forwarded (RFC 7230
// section 6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder performs single attempts against chosen endpoints over a
// shared pooled transport. Deadlines come from the caller per attempt;
// the client itself has none.
type Forwarder struct {
	client *http.Client
	logger logging.Logger
}

// NewForwarder creates a forwarder with a pooled transport.
func NewForwarder(logger logging.Logger) *Forwarder {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Forwarder{
		client: &http.Client{
			Transport: transport,
			// Redirects are the backend's answer; pass them through.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.WithFields(logging.String("component", "forwarder")),
	}
}

// Forward sends one attempt to the endpoint and classifies the outcome.
// The endpoint's connection count is incremented for the duration of the
// attempt and released exactly once: on the error path before returning,
// otherwise when the response body is closed.
func (f *Forwarder) Forward(ctx context.Context, ep *registry.Endpoint, rc *middleware.RequestContext, r *http.Request, body []byte, timeout time.Duration) AttemptResult {
	ep.IncActive()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	fail := func(res AttemptResult) AttemptResult {
		cancel()
		ep.DecActive()
		return res
	}

	out, err := http.NewRequestWithContext(attemptCtx, r.Method, "http://"+ep.Addr()+r.URL.RequestURI(), bytes.NewReader(body))
	if err != nil {
		return fail(AttemptResult{
			Outcome: OutcomeConnectionFailure,
			Err:     apperrors.ConnectionError("failed to build upstream request", err),
		})
	}
	out.ContentLength = int64(len(body))
	out.Host = r.Host
	f.prepareHeaders(out, r, rc)

	resp, err := f.client.Do(out)
	if err != nil {
		return fail(f.classifyError(ctx, ep, err))
	}

	// Hand ownership of the connection slot to the body: closing it
	// releases the slot and the attempt context exactly once.
	resp.Body = &trackedBody{
		ReadCloser: resp.Body,
		release: func() {
			cancel()
			ep.DecActive()
		},
	}

	if resp.StatusCode >= 500 {
		return AttemptResult{
			Outcome:  OutcomeBackendError,
			Status:   resp.StatusCode,
			Response: resp,
			Err:      apperrors.BackendError(resp.StatusCode),
		}
	}
	return AttemptResult{
		Outcome:  OutcomeSuccess,
		Status:   resp.StatusCode,
		Response: resp,
	}
}

// prepareHeaders copies the inbound headers minus hop-by-hop ones, then
// stamps forwarding and correlation headers for the outbound hop.
func (f *Forwarder) prepareHeaders(out, in *http.Request, rc *middleware.RequestContext) {
	for k, vv := range in.Header {
		for _, v := range vv {
			out.Header.Add(k, v)
		}
	}
	// Headers named by the Connection header are hop-by-hop too.
	for _, name := range in.Header.Values("Connection") {
		for _, token := range splitHeaderTokens(name) {
			out.Header.Del(token)
		}
	}
	for _, h := range hopByHopHeaders {
		out.Header.Del(h)
	}

	// Append the direct peer, not the trusted client IP, so the chain
	// records every hop.
	if peer, _, err := net.SplitHostPort(in.RemoteAddr); err == nil && peer != "" {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+peer)
		} else {
			out.Header.Set("X-Forwarded-For", peer)
		}
	}
	out.Header.Set("X-Forwarded-Host", in.Host)
	out.Header.Set("X-Forwarded-Proto", forwardedProto(in))

	out.Header.Set(middleware.RequestIDHeader, rc.RequestID)
	if rc.TraceID != "" {
		out.Header.Set(middleware.TraceparentHeader,
			middleware.FormatTraceparent(rc.TraceID, rc.SpanID, rc.TraceFlags))
	}
}

func (f *Forwarder) classifyError(parent context.Context, ep *registry.Endpoint, err error) AttemptResult {
	switch {
	case parent.Err() == context.Canceled:
		return AttemptResult{
			Outcome: OutcomeCanceled,
			Err:     apperrors.InternalError("request canceled by client", err),
		}
	case isTimeout(err):
		return AttemptResult{
			Outcome: OutcomeTimeout,
			Err:     apperrors.TimeoutError("forward to " + ep.ID),
		}
	default:
		return AttemptResult{
			Outcome: OutcomeConnectionFailure,
			Err:     apperrors.ConnectionError("forward to "+ep.ID+" failed", err),
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func splitHeaderTokens(value string) []string {
	var tokens []string
	for _, token := range strings.Split(value, ",") {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func forwardedProto(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// trackedBody releases the endpoint's connection slot exactly once when
// closed, no matter how many times Close is called.
type trackedBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *trackedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
