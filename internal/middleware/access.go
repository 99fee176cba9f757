package middleware

import (
	"context"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
)

// AccessLogHook writes one structured line per request at completion,
// leveled by outcome. Arrival is logged at debug only.
type AccessLogHook struct {
	NopHook
	logger logging.Logger
}

// NewAccessLogHook creates the access logging hook.
func NewAccessLogHook(logger logging.Logger) *AccessLogHook {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &AccessLogHook{logger: logger}
}

func (h *AccessLogHook) Name() string { return "access_log" }

func (h *AccessLogHook) OnRequest(ctx context.Context, rc *RequestContext) error {
	h.logger.Debug("Request received",
		logging.String("request_id", rc.RequestID),
		logging.String("method", rc.Method),
		logging.String("path", rc.Path),
		logging.String("route", rc.Route),
		logging.String("client", rc.ClientIP),
		logging.String("trace_id", rc.TraceID),
	)
	return nil
}

func (h *AccessLogHook) OnResponse(ctx context.Context, rc *RequestContext, status int) error {
	fields := h.completionFields(rc)
	fields = append(fields, logging.Int("status", status))

	switch {
	case status >= 500:
		h.logger.Error("Request completed", nil, fields...)
	case status >= 400:
		h.logger.Warn("Request completed", fields...)
	default:
		h.logger.Info("Request completed", fields...)
	}
	return nil
}

func (h *AccessLogHook) OnError(ctx context.Context, rc *RequestContext, reqErr error) error {
	fields := h.completionFields(rc)
	fields = append(fields, logging.String("error_type", string(apperrors.GetType(reqErr))))
	h.logger.Error("Request failed", reqErr, fields...)
	return nil
}

func (h *AccessLogHook) completionFields(rc *RequestContext) []logging.Field {
	return []logging.Field{
		logging.String("request_id", rc.RequestID),
		logging.String("method", rc.Method),
		logging.String("path", rc.Path),
		logging.String("route", rc.Route),
		logging.String("endpoint", rc.Endpoint),
		logging.Int64("duration_ms", rc.Elapsed().Milliseconds()),
		logging.Int("attempts", rc.Attempts),
		logging.Int64("bytes_in", rc.RequestBytes),
		logging.Int64("bytes_out", rc.ResponseBytes),
		logging.String("client", rc.ClientIP),
		logging.String("trace_id", rc.TraceID),
	}
}
