package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/moderation-engine/internal/handler"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
)

// Logger returns a middleware that logs HTTP requests
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}

		fields := []interface{}{
			"request_id", c.GetString(ContextRequestID),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"route", c.FullPath(),
			"status", statusCode,
			"latency", latency.String(),
			"user_agent", c.Request.UserAgent(),
		}
		if actor, ok := handler.Actor(c); ok {
			fields = append(fields, "actor_id", actor.ID.String())
		}

		var err error
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}

		// Log based on status code
		switch {
		case statusCode >= 500:
			log.Error(err, "Server error", fields...)
		case statusCode >= 400:
			log.Warn(err, "Client error", fields...)
		default:
			log.Info("Request processed", fields...)
		}
	}
}
