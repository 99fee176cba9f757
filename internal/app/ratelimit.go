package app

import (
	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/ratelimit"
)

// initializeRateLimiter creates the shared rate limiter. Limits live in
// Redis so every instance counts against the same windows; without Redis
// there is nothing to count in and limiting stays off.
func (app *App) initializeRateLimiter() *ratelimit.Limiter {
	if !app.Config.RateLimitEnabled {
		return nil
	}
	if app.Redis == nil {
		app.Logger.Warn("Rate limiting requires Redis, disabled")
		return nil
	}

	app.Logger.Info("Rate Limiting: Enabled",
		logging.Int("limit", app.Config.RateLimitDefault),
		logging.Duration("window", app.Config.RateLimitWindow),
	)
	return ratelimit.NewLimiter(app.Redis, &ratelimit.Config{
		DefaultLimit:  app.Config.RateLimitDefault,
		DefaultWindow: app.Config.RateLimitWindow,
		Enabled:       true,
	})
}
