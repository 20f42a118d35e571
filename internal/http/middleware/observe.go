package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/shopcore/gateway/internal/http/respond"
	"github.com/shopcore/gateway/internal/ratelimit"
)

const requestIDHeader = "X-Request-ID"

// RequestID attaches a correlation id to the request, reusing the inbound
// header when a caller already set one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("requestID", requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// RequestLogger writes one structured line per completed request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  ratelimit.ClientIP(c.Request),
			"request_id": c.GetString("requestID"),
		}).Info("request completed")
	}
}

// Recovery converts panics into a generic 500 envelope without leaking
// internals.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.WithFields(log.Fields{
					"panic":      recovered,
					"path":       c.Request.URL.Path,
					"request_id": c.GetString("requestID"),
				}).Error("panic recovered")
				respond.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", "an unexpected error occurred")
			}
		}()
		c.Next()
	}
}
