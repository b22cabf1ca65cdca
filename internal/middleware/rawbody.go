package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hallhub/backend/pkg/response"
)

// ContextRawBody is the key for the buffered request body in gin context.
const ContextRawBody = "raw_body"

// RawBody reads the whole request body before any handler binds it, stores the bytes under
// ContextRawBody and replaces the body with a fresh reader over the same bytes.
// Bodies larger than maxBytes are rejected with 413.
func RawBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload too large")
			} else {
				response.BadRequest(c, "could not read body")
			}
			c.Abort()
			return
		}
		c.Set(ContextRawBody, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// GetRawBody returns the bytes buffered by RawBody.
func GetRawBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(ContextRawBody)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}
