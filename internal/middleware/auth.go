package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/shortener/internal/pkg/response"
)

// APIKey guards admin routes. The configured header must carry the exact
// admin key; comparison is constant-time.
func APIKey(header, key string) gin.HandlerFunc {
	expected := []byte(key)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(header))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			response.Unauthorized(c, "invalid or missing api key")
			return
		}
		c.Next()
	}
}
