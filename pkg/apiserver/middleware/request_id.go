package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-Id"

// RequestID propagates the inbound request id or assigns one. The provider
// includes its own x-request-id on webhook deliveries, which also feeds the
// signature manifest.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set(HeaderRequestID, requestID)
		c.Next()
	}
}
