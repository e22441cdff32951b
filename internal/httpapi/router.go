package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-prompt-service/internal/common"
	"github.com/suPer8Hu/ai-prompt-service/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-prompt-service/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-prompt-service/internal/metrics"
)

// NewRouter wires every route. metricsHandler may be nil to hide /metrics.
func NewRouter(h *handlers.Handler, m metrics.Metrics, metricsHandler http.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "not_found", "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method_not_allowed", "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics(m))

	r.GET("/health", h.Health)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := r.Group("/api")
	// ad hoc
	api.POST("/prompt", h.Prompt)

	// sessions
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.DeleteSession)
	api.GET("/sessions/:id/messages", h.ListMessages)
	api.POST("/sessions/:id/messages", h.SendMessage)
	api.POST("/sessions/:id/messages/async", h.SendMessageAsync)

	api.GET("/jobs/:id", h.GetJob)
	return r
}
