package router

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"difyline/controllers"

	"github.com/gin-gonic/gin"
)

// Adminizer blocks access unless the request carries the admin bearer token.
func Adminizer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			controllers.RespondError(c, "unauthorized", http.StatusUnauthorized)
			c.Abort()
			return
		}
		given := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token == "" || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			controllers.RespondError(c, "admin required", http.StatusForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
