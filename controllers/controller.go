package controllers

import "github.com/gin-gonic/gin"

// requestIDKey matches middleware.RequestIDKey.
const requestIDKey = "request_id"

func RespondError(c *gin.Context, msg string, code int) {
	c.JSON(code, gin.H{"error": msg})
}

// RespondDetail is the error shape webhook callers expect: {"detail": "..."}.
func RespondDetail(c *gin.Context, detail string, code int) {
	c.JSON(code, gin.H{"detail": detail})
}

func RespondSuccess(c *gin.Context, payload any) {
	c.JSON(200, payload)
}
