package handlers

import (
	"context"

	"github.com/suPer8Hu/ai-prompt-service/internal/chat"
)

// Pinger is anything /health can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobQueue hands queued jobs to the worker.
type JobQueue interface {
	Pinger
	PublishJob(ctx context.Context, jobID string) error
}

type Handler struct {
	ChatSvc *chat.Service
	DB      Pinger
	// optional; nil disables async sends
	Queue JobQueue
	// optional
	Redis Pinger
}

func NewHandler(svc *chat.Service, db Pinger, queue JobQueue, redis Pinger) *Handler {
	return &Handler{ChatSvc: svc, DB: db, Queue: queue, Redis: redis}
}
