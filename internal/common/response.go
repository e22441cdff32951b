package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func OK(c *gin.Context, data any) {
	Respond(c, http.StatusOK, data)
}

// Respond writes a success envelope with a non-default status, e.g. 201 or 202.
func Respond(c *gin.Context, httpStatus int, data any) {
	c.JSON(httpStatus, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

// Fail writes the error envelope. kind is the machine readable error class
// ("validation", "not_found", ...), msg is safe to show to callers.
func Fail(c *gin.Context, httpStatus int, code int, kind, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":    code,
		"kind":    kind,
		"message": msg,
		"data":    nil,
	})
}
