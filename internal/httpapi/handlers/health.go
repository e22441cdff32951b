package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func pingStatus(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "unavailable"
	}
	return "ok"
}

// Health is 200 while the database answers. Redis and the queue are
// reported but optional.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var queue Pinger
	if h.Queue != nil {
		queue = h.Queue
	}
	body := gin.H{
		"status":   "ok",
		"database": pingStatus(ctx, h.DB),
		"redis":    pingStatus(ctx, h.Redis),
		"queue":    pingStatus(ctx, queue),
	}
	status := http.StatusOK
	if body["database"] != "ok" {
		body["status"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}
