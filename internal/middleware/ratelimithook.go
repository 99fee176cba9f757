package middleware

import (
	"context"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/ratelimit"
)

// RateLimiter is the slice of the limiter the hook needs.
type RateLimiter interface {
	CheckDefaultLimit(ctx context.Context, key string) (*ratelimit.RateLimit, error)
}

// RateLimitHook vetoes requests that exceed the per-client or per-route
// limit. Limiter failures fail open: an unreachable Redis slows nobody
// down.
type RateLimitHook struct {
	NopHook
	limiter RateLimiter
	logger  logging.Logger
}

// NewRateLimitHook creates the rate limiting hook.
func NewRateLimitHook(limiter RateLimiter, logger logging.Logger) *RateLimitHook {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &RateLimitHook{limiter: limiter, logger: logger}
}

func (h *RateLimitHook) Name() string { return "rate_limit" }

func (h *RateLimitHook) OnRequest(ctx context.Context, rc *RequestContext) error {
	for _, key := range []string{
		ratelimit.ClientKey(rc.ClientIP),
		ratelimit.RouteKey(rc.Route),
	} {
		limit, err := h.limiter.CheckDefaultLimit(ctx, key)
		if err != nil {
			h.logger.Warn("Rate limit check failed, allowing request",
				logging.String("key", key),
				logging.String("request_id", rc.RequestID),
				logging.Err(err),
			)
			continue
		}
		if limit.Remaining <= 0 {
			return apperrors.RateLimitError(key)
		}
	}
	return nil
}
