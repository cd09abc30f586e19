package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// RequestIDHeader carries the per-request correlation id.
	RequestIDHeader = "X-Request-Id"

	entryKey = "logging.entry"
)

// Middleware logs one entry per request with route, status and latency.
// Handlers can fetch the request-scoped entry with FromContext.
func Middleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		entry := logger.WithFields(logrus.Fields{
			"request-id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		})
		c.Set(entryKey, entry)

		c.Next()

		fields := logrus.Fields{
			"route":    c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}
		if company := c.GetString("company_id"); company != "" {
			fields["company_id"] = company
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		e := entry.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			e.Error("request completed")
		case c.Writer.Status() >= 400:
			e.Warn("request completed")
		default:
			e.Info("request completed")
		}
	}
}

// FromContext returns the request-scoped entry, or a discard entry when the
// middleware is not installed.
func FromContext(c *gin.Context) *logrus.Entry {
	if v, ok := c.Get(entryKey); ok {
		if e, ok := v.(*logrus.Entry); ok {
			return e
		}
	}
	return logrus.NewEntry(Discard())
}
