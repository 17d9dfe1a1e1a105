package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/moderation-engine/internal/handler"
)

// SizeLimit rejects bodies larger than maxBytes up front and caps the reader
// for requests that do not announce a length.
func SizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			resp := handler.NewErrorResponse(fmt.Sprintf("request body exceeds %d bytes", maxBytes))
			resp.Code = "too_large"
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, resp)
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
