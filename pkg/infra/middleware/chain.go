package middleware

import (
	"github.com/gin-gonic/gin"

	mwopts "github.com/kart-io/kgrag/pkg/options/middleware"
)

// Chain builds the enabled middleware in the configured order.
func Chain(opts *mwopts.Options) []gin.HandlerFunc {
	if opts == nil {
		opts = mwopts.NewOptions()
	}

	handlers := make([]gin.HandlerFunc, 0, len(opts.Middleware))
	for _, name := range opts.Middleware {
		switch name {
		case mwopts.MiddlewareRecovery:
			handlers = append(handlers, RecoveryWithOptions(*opts.Recovery, nil))
		case mwopts.MiddlewareRequestID:
			handlers = append(handlers, RequestID())
		case mwopts.MiddlewareLogger:
			handlers = append(handlers, Logger(*opts.Logger))
		case mwopts.MiddlewareTracing:
			handlers = append(handlers, Tracing(opts.Logger.SkipPaths...))
		case mwopts.MiddlewareCORS:
			handlers = append(handlers, CORS(*opts.CORS))
		case mwopts.MiddlewareTimeout:
			handlers = append(handlers, Timeout(*opts.Timeout))
		case mwopts.MiddlewareRateLimit:
			handlers = append(handlers, RateLimit(*opts.RateLimit))
		}
	}
	return handlers
}
