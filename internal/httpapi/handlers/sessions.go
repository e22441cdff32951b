package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-prompt-service/internal/ai"
	"github.com/suPer8Hu/ai-prompt-service/internal/chat"
	"github.com/suPer8Hu/ai-prompt-service/internal/common"
	"github.com/suPer8Hu/ai-prompt-service/internal/logging"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
)

type createSessionReq struct {
	Provider     string `json:"provider"`
	AIProvider   string `json:"ai_provider"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

type sessionResp struct {
	*chat.Session
	Messages []chat.Message `json:"messages"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), pickProvider(req.Provider, req.AIProvider), req.Model, req.SystemPrompt)
	if err != nil {
		failErr(c, err)
		return
	}
	common.Respond(c, http.StatusCreated, sessionResp{Session: sess, Messages: []chat.Message{}})
}

func (h *Handler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	sess, err := h.ChatSvc.GetSession(ctx, id)
	if err != nil {
		failErr(c, err)
		return
	}
	msgs, err := h.ChatSvc.ListMessages(ctx, id)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, sessionResp{Session: sess, Messages: msgs})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.ChatSvc.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListMessages(c *gin.Context) {
	id := c.Param("id")
	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{
		"session_id": id,
		"messages":   msgs,
	})
}

type sendMessageReq struct {
	Content    string    `json:"content" binding:"required"`
	Parameters ai.Params `json:"parameters"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}
	id := c.Param("id")

	reply, err := h.ChatSvc.SendMessage(c.Request.Context(), id, req.Content, req.Parameters)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{
		"session_id":  id,
		"message":     reply.Message,
		"ai_provider": reply.Provider,
		"model":       reply.Model,
		"usage":       reply.Usage,
		"metadata":    reply.Metadata,
	})
}

// SendMessageAsync stores the human turn and queues generation. A repeated
// Idempotency-Key returns the original job.
func (h *Handler) SendMessageAsync(c *gin.Context) {
	if h.Queue == nil {
		common.Fail(c, http.StatusServiceUnavailable, codeQueueUnavailable, "queue_unavailable", "async messaging is not configured")
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		common.Fail(c, http.StatusBadRequest, codeValidation, "validation", "Idempotency-Key must be at most 128 characters")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, err)
		return
	}

	ctx := c.Request.Context()
	job, created, err := h.ChatSvc.EnqueueMessage(ctx, c.Param("id"), req.Content, req.Parameters, key)
	if err != nil {
		failErr(c, err)
		return
	}

	if created {
		if err := h.Queue.PublishJob(ctx, job.ID); err != nil {
			logging.Error("http", "publish job failed", "job_id", job.ID, "err", err)
			if ferr := h.ChatSvc.FailJob(ctx, job.ID, "could not be queued"); ferr != nil {
				logging.Error("http", "mark unqueued job failed", "job_id", job.ID, "err", ferr)
			}
			common.Fail(c, http.StatusServiceUnavailable, codeQueueUnavailable, "queue_unavailable", "failed to enqueue job")
			return
		}
	}

	common.Respond(c, http.StatusAccepted, gin.H{
		"job":     job,
		"created": created,
	})
}
