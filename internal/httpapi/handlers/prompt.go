package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-prompt-service/internal/ai"
	"github.com/suPer8Hu/ai-prompt-service/internal/chat"
	"github.com/suPer8Hu/ai-prompt-service/internal/common"
)

type promptReq struct {
	SystemPrompt        string       `json:"system_prompt"`
	HumanInput          string       `json:"human_input" binding:"required"`
	ConversationHistory []ai.Message `json:"conversation_history"`
	Provider            string       `json:"provider"`
	AIProvider          string       `json:"ai_provider"` // older clients
	Model               string       `json:"model"`
	Parameters          ai.Params    `json:"parameters"`
}

func pickProvider(provider, alias string) string {
	if provider != "" {
		return provider
	}
	return alias
}

// Prompt answers a single prompt without a session.
func (h *Handler) Prompt(c *gin.Context) {
	var req promptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}

	out, err := h.ChatSvc.SendAdHoc(c.Request.Context(), chat.AdHocRequest{
		SystemPrompt: req.SystemPrompt,
		HumanInput:   req.HumanInput,
		History:      req.ConversationHistory,
		Provider:     pickProvider(req.Provider, req.AIProvider),
		Model:        req.Model,
		Params:       req.Parameters,
	})
	if err != nil {
		failErr(c, err)
		return
	}

	common.OK(c, gin.H{
		"response":    out.Text,
		"ai_provider": out.Provider,
		"model":       out.Model,
		"usage":       out.Usage,
		"metadata":    out.Metadata,
	})
}
