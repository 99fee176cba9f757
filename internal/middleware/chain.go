// Package middleware implements the hook chain wrapped around the
// request path, plus the HTTP middleware used by the admin server.
//
// Hooks observe requests and may veto them before dispatch; they never
// alter the routing decision itself. Request hooks run in registration
// order and the first error short-circuits dispatch. Response hooks run
// in reverse registration order once the outcome is known; their errors
// are logged and swallowed so one misbehaving hook cannot take down the
// response path.
package middleware

import (
	"context"

	"vpc-gateway/internal/common/logging"
)

// Hook observes the life of a request. OnResponse receives the status
// written to the client on success and passthrough outcomes; OnError
// receives the terminal gateway error otherwise.
type Hook interface {
	Name() string
	OnRequest(ctx context.Context, rc *RequestContext) error
	OnResponse(ctx context.Context, rc *RequestContext, status int) error
	OnError(ctx context.Context, rc *RequestContext, err error) error
}

// NopHook is a no-op Hook for embedding; override what you need.
type NopHook struct{}

func (NopHook) OnRequest(context.Context, *RequestContext) error { return nil }

func (NopHook) OnResponse(context.Context, *RequestContext, int) error { return nil }

func (NopHook) OnError(context.Context, *RequestContext, error) error { return nil }

// Chain runs a fixed set of hooks around every request. Build it fully
// before serving traffic; Use is not synchronized.
type Chain struct {
	hooks  []Hook
	logger logging.Logger
}

// NewChain creates a chain with the given hooks in order.
func NewChain(logger logging.Logger, hooks ...Hook) *Chain {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Chain{
		hooks:  hooks,
		logger: logger.WithFields(logging.String("component", "middleware")),
	}
}

// Use appends a hook to the chain.
func (c *Chain) Use(h Hook) {
	c.hooks = append(c.hooks, h)
}

// Len returns the number of registered hooks.
func (c *Chain) Len() int {
	return len(c.hooks)
}

// OnRequest runs the request hooks in order. The first error aborts the
// chain and is returned so the dispatcher can answer without forwarding.
func (c *Chain) OnRequest(ctx context.Context, rc *RequestContext) error {
	for _, h := range c.hooks {
		if err := h.OnRequest(ctx, rc); err != nil {
			c.logger.Debug("Request vetoed by hook",
				logging.String("hook", h.Name()),
				logging.String("request_id", rc.RequestID),
				logging.Err(err),
			)
			return err
		}
	}
	return nil
}

// OnResponse runs the response hooks in reverse order. Failures are
// logged and swallowed; the response has already been decided.
func (c *Chain) OnResponse(ctx context.Context, rc *RequestContext, status int) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		h := c.hooks[i]
		if err := h.OnResponse(ctx, rc, status); err != nil {
			c.logger.Warn("Response hook failed",
				logging.String("hook", h.Name()),
				logging.String("request_id", rc.RequestID),
				logging.Err(err),
			)
		}
	}
}

// OnError runs the error hooks in order. Failures are logged and
// swallowed.
func (c *Chain) OnError(ctx context.Context, rc *RequestContext, reqErr error) {
	for _, h := range c.hooks {
		if err := h.OnError(ctx, rc, reqErr); err != nil {
			c.logger.Warn("Error hook failed",
				logging.String("hook", h.Name()),
				logging.String("request_id", rc.RequestID),
				logging.Err(err),
			)
		}
	}
}
