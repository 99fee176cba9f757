package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/common/utils"
)

// RequestIDHeader carries the request id to clients and backends.
const RequestIDHeader = "X-Request-ID"

// RequestContext carries one request's correlation and accounting state
// through the hook chain and the forwarding loop. The dispatcher fills in
// routing fields as decisions are made; hooks read and annotate it.
type RequestContext struct {
	RequestID string

	// Trace identifiers. TraceID and TraceFlags come from the inbound
	// traceparent when present; SpanID is this hop's own span and
	// ParentSpanID the caller's.
	TraceID      string
	SpanID       string
	ParentSpanID string
	TraceFlags   string

	// Routing decisions, filled as the request progresses.
	Route    string
	Service  string
	Endpoint string

	Method   string
	Path     string
	ClientIP string
	Header   http.Header

	StartTime     time.Time
	Attempts      int
	RequestBytes  int64
	ResponseBytes int64

	mu       sync.Mutex
	metadata map[string]string
}

// NewRequestContext derives a context from the inbound request. The
// request id is taken from the X-Request-ID header when the caller sent
// one, otherwise generated.
func NewRequestContext(r *http.Request) *RequestContext {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = utils.NewRequestID()
	}

	return &RequestContext{
		RequestID: requestID,
		Method:    r.Method,
		Path:      r.URL.Path,
		ClientIP:  ClientIP(r),
		Header:    r.Header,
		StartTime: time.Now(),
	}
}

// SetMetadata stores a hook-scoped annotation on the request.
func (rc *RequestContext) SetMetadata(key, value string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.metadata == nil {
		rc.metadata = make(map[string]string)
	}
	rc.metadata[key] = value
}

// GetMetadata reads an annotation stored by an earlier hook.
func (rc *RequestContext) GetMetadata(key string) (string, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.metadata[key]
	return v, ok
}

// Context returns ctx annotated with the correlation identifiers the
// logging layer picks up via Logger.WithContext.
func (rc *RequestContext) Context(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, logging.RequestIDKey, rc.RequestID)
	if rc.TraceID != "" {
		ctx = context.WithValue(ctx, logging.TraceIDKey, rc.TraceID)
	}
	if rc.SpanID != "" {
		ctx = context.WithValue(ctx, logging.SpanIDKey, rc.SpanID)
	}
	if rc.Route != "" {
		ctx = context.WithValue(ctx, logging.RouteKey, rc.Route)
	}
	return ctx
}

// Elapsed returns the time since the request was admitted.
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.StartTime)
}

// ClientIP extracts the originating client address: the first hop of
// X-Forwarded-For when present, then X-Real-IP, then the peer address
// with its port stripped.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
