// Package middleware provides the gin middleware chain of the HTTP server.
package middleware

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	mwopts "github.com/kart-io/kgrag/pkg/options/middleware"
	"github.com/kart-io/kgrag/pkg/utils/errors"
	"github.com/kart-io/kgrag/pkg/utils/response"
)

// PanicHandler 定义 panic 处理器类型。
type PanicHandler func(c *gin.Context, err interface{}, stack []byte)

// Recovery 返回使用默认选项的 panic 恢复中间件。
func Recovery() gin.HandlerFunc {
	return RecoveryWithOptions(mwopts.RecoveryOptions{}, nil)
}

// RecoveryWithOptions 返回 panic 恢复中间件。
// 堆栈始终写入日志；仅在非生产环境且 EnableStackTrace 开启时返回给客户端。
func RecoveryWithOptions(opts mwopts.RecoveryOptions, onPanic PanicHandler) gin.HandlerFunc {
	withStack := opts.EnableStackTrace && !isProduction()
	if opts.EnableStackTrace && !withStack {
		logger.Warn("stack trace disabled in client responses for production environment")
	}

	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Errorw("panic recovered",
					"panic", r,
					"stack_trace", string(stack),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"request_id", c.GetString(response.RequestIDKey),
				)

				if onPanic != nil {
					onPanic(c, r, stack)
				}

				msg := fmt.Sprintf("panic: %v", r)
				if withStack {
					msg = fmt.Sprintf("panic: %v\n%s", r, stack)
				}
				response.Fail(c, errors.ErrPanic.WithMessage(msg))
			}
		}()
		c.Next()
	}
}

func isProduction() bool {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	switch env {
	case "production", "prod", "PRODUCTION", "PROD":
		return true
	default:
		return false
	}
}
