package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-prompt-service/internal/common"
	"github.com/suPer8Hu/ai-prompt-service/internal/logging"
)

// Recovery turns a panic into the standard error envelope. The stack goes to
// the log only.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("http", "panic recovered",
					"request_id", c.GetString(RequestIDKey),
					"path", c.Request.URL.Path,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal", "internal server error")
			}
		}()
		c.Next()
	}
}
