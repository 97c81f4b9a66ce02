// Package response provides the unified API response envelope.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/kgrag/pkg/utils/errors"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// Response is the unified API response structure.
type Response struct {
	// Code is the business error code (0 = success)
	Code int `json:"code"`

	// Message is a human-readable message
	Message string `json:"message"`

	// Data contains the response payload (nil for errors)
	Data interface{} `json:"data,omitempty"`

	// RequestID is the unique request identifier for tracing
	RequestID string `json:"request_id,omitempty"`
}

// Success creates a successful response with data.
func Success(data interface{}) *Response {
	return &Response{Code: 0, Message: "success", Data: data}
}

// Err creates an error response from an Errno.
func Err(e *errors.Errno) *Response {
	if e == nil {
		return Success(nil)
	}
	return &Response{Code: e.Code, Message: e.MessageEN}
}

// OK writes a successful envelope.
func OK(c *gin.Context, data interface{}) {
	r := Success(data)
	r.RequestID = c.GetString(RequestIDKey)
	c.JSON(http.StatusOK, r)
}

// Fail writes the envelope for err with the status mapped from its Errno.
// The language of the message follows the Accept-Language header.
func Fail(c *gin.Context, err error) {
	e := errors.FromError(err)
	r := &Response{
		Code:      e.Code,
		Message:   e.Message(c.GetHeader("Accept-Language")),
		RequestID: c.GetString(RequestIDKey),
	}
	c.AbortWithStatusJSON(e.HTTPStatus(), r)
}
