package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-prompt-service/internal/chat"
	"github.com/suPer8Hu/ai-prompt-service/internal/common"
	"github.com/suPer8Hu/ai-prompt-service/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-prompt-service/internal/logging"
)

const (
	codeInvalidJSON      = 10001
	codeValidation       = 10002
	codeNotFound         = 40004
	codeConflict         = 40900
	codeInternal         = 50000
	codeGeneration       = 50200
	codeStoreUnavailable = 50300
	codeQueueUnavailable = 50301
)

func badJSON(c *gin.Context, err error) {
	common.Fail(c, http.StatusBadRequest, codeInvalidJSON, "validation", "invalid json: "+err.Error())
}

// failErr maps a service error onto the envelope. Internal details are
// logged, never returned.
func failErr(c *gin.Context, err error) {
	var genErr *chat.GenerationError
	switch {
	case errors.Is(err, chat.ErrValidation):
		common.Fail(c, http.StatusBadRequest, codeValidation, "validation", err.Error())
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, codeNotFound, "not_found", err.Error())
	case errors.Is(err, chat.ErrConflict):
		common.Fail(c, http.StatusConflict, codeConflict, "conflict", "concurrent update, please retry")
	case errors.As(err, &genErr):
		common.Fail(c, http.StatusBadGateway, codeGeneration, "generation_error",
			"error generating AI response ("+genErr.Provider+"): "+genErr.Detail())
	case errors.Is(err, chat.ErrStoreUnavailable):
		logging.Error("http", "store unavailable", "request_id", c.GetString(middleware.RequestIDKey), "err", err)
		common.Fail(c, http.StatusServiceUnavailable, codeStoreUnavailable, "store_unavailable", "database unavailable")
	default:
		logging.Error("http", "unhandled error", "request_id", c.GetString(middleware.RequestIDKey), "err", err)
		common.Fail(c, http.StatusInternalServerError, codeInternal, "internal", "an unexpected error occurred")
	}
}
