// Package respond defines the gateway's JSON error envelope. Every
// rejection carries a human summary, a user-facing message, and a
// machine-readable code so clients never have to parse prose.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the stable rejection envelope.
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Error writes the envelope and aborts further processing.
func Error(c *gin.Context, status int, code, summary, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: summary, Message: message, Code: code})
}

// TooManyRequests writes a 429 envelope carrying retry-after guidance in
// whole seconds.
func TooManyRequests(c *gin.Context, retryAfter int) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorBody{
		Error:      "rate limit exceeded",
		Message:    "too many requests, please retry later",
		Code:       "RATE_LIMITED",
		RetryAfter: retryAfter,
	})
}
