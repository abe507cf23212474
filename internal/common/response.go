package common

import "github.com/gin-gonic/gin"

// OK writes a plain JSON success payload.
func OK(c *gin.Context, data any) {
	c.JSON(200, data)
}

// Fail writes the error envelope clients render directly: a machine-readable
// error code plus a human-readable message.
func Fail(c *gin.Context, httpStatus int, errCode, msg string) {
	c.JSON(httpStatus, gin.H{
		"error":   errCode,
		"message": msg,
	})
}

// FailQuota is Fail plus the remaining/limit pair a 429 must carry.
func FailQuota(c *gin.Context, httpStatus int, errCode, msg string, remaining, limit int) {
	c.JSON(httpStatus, gin.H{
		"error":     errCode,
		"message":   msg,
		"remaining": remaining,
		"limit":     limit,
	})
}
