package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nawapolsungjun/borrow-it/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
)

// RequestLogger tags each request with an id and logs one line when it
// finishes. A caller-supplied X-Request-ID is kept.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" || len(reqID) > 64 {
			reqID = uuid.NewString()
		}
		c.Set(requestIDKey, reqID)
		c.Header(RequestIDHeader, reqID)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"ip", c.ClientIP(),
			"size", c.Writer.Size(),
		}
		if id, ok := CurrentIdentity(c); ok {
			kv = append(kv, "user_id", id.UserID)
		}
		switch {
		case status >= 500:
			logger.Log.Errorw("request", kv...)
		case status >= 400:
			logger.Log.Warnw("request", kv...)
		default:
			logger.Log.Infow("request", kv...)
		}
	}
}
