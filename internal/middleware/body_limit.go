package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BodyLimit caps request bodies. Multipart uploads get their own, larger cap.
func BodyLimit(limit, multipartLimit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil {
			c.Next()
			return
		}
		capBytes := limit
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			capBytes = multipartLimit
		}
		if capBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, capBytes)
		}
		c.Next()
	}
}
