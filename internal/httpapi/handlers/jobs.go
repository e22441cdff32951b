package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-prompt-service/internal/common"
)

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.ChatSvc.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, job)
}
