package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const SessionContextKey = "session"

// SessionMiddleware rejects requests without the portal session cookie. The
// portal owns authentication; this service only checks that a session is
// present and exposes its value to handlers.
func SessionMiddleware(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, err := c.Cookie(cookieName)
		if err != nil || value == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
			return
		}

		c.Set(SessionContextKey, value)
		c.Next()
	}
}
