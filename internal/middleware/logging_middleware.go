// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scope-service/internal/monitor"
	"scope-service/internal/utils"
)

// LoggingMiddleware writes one access log entry per request and records it in
// the HTTP metrics. metrics may be nil.
func LoggingMiddleware(logger *utils.ServiceLogger, metrics *monitor.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		duration := time.Since(startTime)

		metrics.ObserveHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)

		requestLogger := logger
		if requestID := c.GetString("request_id"); requestID != "" {
			requestLogger = logger.WithRequestID(requestID)
		}
		requestLogger.LogAPIRequest(
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			duration,
		)
		for _, err := range c.Errors {
			requestLogger.Warn("Request error", zap.Error(err.Err))
		}
	}
}
