package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/kgrag/pkg/utils/id"
	"github.com/kart-io/kgrag/pkg/utils/response"
)

// HeaderXRequestID is the header carrying the request id.
const HeaderXRequestID = "X-Request-ID"

// maxRequestIDLength 客户端传入 ID 的最大长度，超出则重新生成。
const maxRequestIDLength = 128

// RequestID returns a middleware that assigns a request id.
// An incoming X-Request-ID header is reused; otherwise a ULID is generated.
// The id is echoed in the response header and stored under response.RequestIDKey.
func RequestID() gin.HandlerFunc {
	return RequestIDWithGenerator(id.NewULID)
}

// RequestIDWithGenerator is RequestID with a custom id generator.
func RequestIDWithGenerator(gen func() string) gin.HandlerFunc {
	if gen == nil {
		gen = id.NewULID
	}
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = gen()
		}
		c.Set(response.RequestIDKey, rid)
		c.Header(HeaderXRequestID, rid)
		c.Next()
	}
}

// GetRequestID returns the request id assigned by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(response.RequestIDKey)
}
