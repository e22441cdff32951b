package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-prompt-service/internal/metrics"
)

// Metrics records one observation per request, labelled by route template so
// that ids do not explode label cardinality.
func Metrics(m metrics.Metrics) gin.HandlerFunc {
	if m == nil {
		m = metrics.Noop{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
