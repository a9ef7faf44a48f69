package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKeyRequestID is the Gin context key for the request ID.
const ContextKeyRequestID = "request_id"

const maxRequestIDLen = 64

// RequestIDMiddleware tags every request with an ID.
// A caller-supplied X-Request-ID is kept when it is short and printable so a
// client can correlate its own retries; anything else is replaced.
// Server errors are logged once the handler chain returns.
func RequestIDMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if !validRequestID(reqID) {
			reqID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header("X-Request-ID", reqID)

		c.Next()

		if status := c.Writer.Status(); status >= 500 {
			ev := log.Error().
				Str("request_id", reqID).
				Int("status", status).
				Str("method", c.Request.Method).
				Str("path", c.FullPath())
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
			ev.Msg("Request failed")
		}
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.', ch == ':':
		default:
			return false
		}
	}
	return true
}
