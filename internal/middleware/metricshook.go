package middleware

import (
	"context"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/metrics"
)

// MetricsHook feeds the request-path Prometheus series. Error outcomes
// are counted both as a response (with the status the client received)
// and in the error counter by type.
type MetricsHook struct {
	NopHook
	collector *metrics.Collector
}

// NewMetricsHook creates the metrics hook.
func NewMetricsHook(collector *metrics.Collector) *MetricsHook {
	return &MetricsHook{collector: collector}
}

func (h *MetricsHook) Name() string { return "metrics" }

func (h *MetricsHook) OnRequest(ctx context.Context, rc *RequestContext) error {
	h.collector.RecordRequest(rc.Route, rc.Method)
	return nil
}

func (h *MetricsHook) OnResponse(ctx context.Context, rc *RequestContext, status int) error {
	h.collector.RecordResponse(rc.Route, status, rc.Elapsed(), rc.RequestBytes, rc.ResponseBytes)
	return nil
}

func (h *MetricsHook) OnError(ctx context.Context, rc *RequestContext, reqErr error) error {
	status := 500
	var appErr *apperrors.AppError
	if e, ok := reqErr.(*apperrors.AppError); ok {
		appErr = e
		status = e.HTTPStatus()
	}
	h.collector.RecordResponse(rc.Route, status, rc.Elapsed(), rc.RequestBytes, rc.ResponseBytes)
	if appErr != nil {
		h.collector.RecordError(string(appErr.Type))
	} else {
		h.collector.RecordError(string(apperrors.ErrTypeInternal))
	}
	return nil
}
