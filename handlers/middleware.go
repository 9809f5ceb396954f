package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rishivishwanath/autocont/logging"
)

// RequestLogger logs one line per request
func RequestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Errorw("Request failed", fields...)
		case status >= 400:
			logger.Warnw("Request rejected", fields...)
		default:
			logger.Infow("Request served", fields...)
		}
	}
}
