package middleware

import (
	"context"
	"fmt"
	"strings"

	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/common/utils"
)

// TraceparentHeader is the W3C Trace Context header propagated to
// backends.
const TraceparentHeader = "traceparent"

// TracingHook joins or starts a W3C trace for every request: an inbound
// traceparent is continued with a fresh span for the outbound hop, and
// requests without one start a new trace.
type TracingHook struct {
	NopHook
	logger logging.Logger
}

// NewTracingHook creates the tracing hook.
func NewTracingHook(logger logging.Logger) *TracingHook {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TracingHook{logger: logger}
}

func (h *TracingHook) Name() string { return "tracing" }

func (h *TracingHook) OnRequest(ctx context.Context, rc *RequestContext) error {
	if traceID, spanID, flags, ok := ParseTraceparent(rc.Header.Get(TraceparentHeader)); ok {
		rc.TraceID = traceID
		rc.ParentSpanID = spanID
		rc.TraceFlags = flags
	} else {
		rc.TraceID = utils.NewTraceID()
		rc.TraceFlags = "01"
	}
	rc.SpanID = utils.NewSpanID()
	return nil
}

// ParseTraceparent validates a traceparent header value and extracts its
// trace id, parent span id, and flags. Malformed values are reported as
// not ok so the caller starts a fresh trace instead of propagating junk.
func ParseTraceparent(value string) (traceID, spanID, flags string, ok bool) {
	parts := strings.Split(value, "-")
	if len(parts) != 4 {
		return "", "", "", false
	}
	version, traceID, spanID, flags := parts[0], parts[1], parts[2], parts[3]

	if len(version) != 2 || !isLowerHex(version) || version == "ff" {
		return "", "", "", false
	}
	if len(traceID) != 32 || !isLowerHex(traceID) || isAllZero(traceID) {
		return "", "", "", false
	}
	if len(spanID) != 16 || !isLowerHex(spanID) || isAllZero(spanID) {
		return "", "", "", false
	}
	if len(flags) != 2 || !isLowerHex(flags) {
		return "", "", "", false
	}
	return traceID, spanID, flags, true
}

// FormatTraceparent renders the version-00 traceparent for this hop.
func FormatTraceparent(traceID, spanID, flags string) string {
	if flags == "" {
		flags = "01"
	}
	return fmt.Sprintf("00-%s-%s-%s", traceID, spanID, flags)
}

func isLowerHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func isAllZero(s string) bool {
	for _, c := range s {
		if c != '0' {
			return false
		}
	}
	return true
}
