package middleware

import (
	"context"
	stderrors "errors"

	"github.com/gin-gonic/gin"

	mwopts "github.com/kart-io/kgrag/pkg/options/middleware"
	"github.com/kart-io/kgrag/pkg/utils/errors"
	"github.com/kart-io/kgrag/pkg/utils/response"
)

// Timeout returns a middleware that attaches a deadline to the request context.
// Handlers run on the request goroutine and must honour ctx; when the deadline
// passes and nothing has been written yet, a timeout envelope is returned.
func Timeout(opts mwopts.TimeoutOptions) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok || opts.Timeout <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), opts.Timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			response.Fail(c, errors.ErrTimeout)
		}
	}
}
