package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-prompt-service/internal/ai"
	"github.com/suPer8Hu/ai-prompt-service/internal/common"
	"github.com/suPer8Hu/ai-prompt-service/internal/logging"
	"github.com/suPer8Hu/ai-prompt-service/internal/metrics"
)

// DefaultModels picks the model for a provider when a caller names none.
type DefaultModels map[Provider]string

type Service struct {
	store    *Store
	registry *ai.Registry
	defaults DefaultModels
	metrics  metrics.Metrics
}

func NewService(store *Store, registry *ai.Registry, defaults DefaultModels, m metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Noop{}
	}
	if defaults == nil {
		defaults = DefaultModels{}
	}
	return &Service{store: store, registry: registry, defaults: defaults, metrics: m}
}

// Reply is the assistant turn produced by SendMessage.
type Reply struct {
	Message  *Message
	Provider Provider
	Model    string
	Usage    *ai.Usage
	Metadata map[string]string
}

type AdHocRequest struct {
	SystemPrompt string
	HumanInput   string
	History      []ai.Message
	Provider     string
	Model        string
	Params       ai.Params
}

type AdHocReply struct {
	Text     string
	Provider Provider
	Model    string
	Usage    *ai.Usage
	Metadata map[string]string
}

func (s *Service) modelFor(p Provider, model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return s.defaults[p]
}

func (s *Service) CreateSession(ctx context.Context, provider, model, systemPrompt string) (*Session, error) {
	p, err := ParseProvider(provider)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.CreateSession(ctx, p, s.modelFor(p, model), systemPrompt)
	if err != nil {
		return nil, err
	}
	logging.Info("chat", "created session", "session_id", sess.ID, "provider", sess.Provider, "model", sess.Model)
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.store.GetSession(ctx, id)
}

func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	return s.store.ListMessages(ctx, sessionID)
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	return s.store.DeleteSession(ctx, id)
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// FailJob records a job that can never run, e.g. because it could not be
// queued.
func (s *Service) FailJob(ctx context.Context, id, reason string) error {
	return s.store.MarkJobFailed(ctx, id, reason)
}

func (s *Service) providerFor(ctx context.Context, p Provider, model string) (ai.Provider, error) {
	prov, err := s.registry.Get(ctx, string(p), model)
	if err != nil {
		return nil, &GenerationError{Provider: string(p), Err: err}
	}
	return prov, nil
}

// generate calls the backend and normalizes its failures. No store
// connection is held while it runs.
func (s *Service) generate(ctx context.Context, p Provider, prov ai.Provider, systemPrompt string, history []ai.Message, params ai.Params) (*ai.Response, error) {
	start := time.Now()
	resp, err := prov.Generate(ctx, systemPrompt, history, params)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.metrics.ObserveGeneration(string(p), "error", elapsed)
		if errors.Is(err, ai.ErrInvalidParameter) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, &GenerationError{Provider: string(p), Err: err}
	}
	if strings.TrimSpace(resp.Text) == "" {
		s.metrics.ObserveGeneration(string(p), "empty", elapsed)
		return nil, &GenerationError{Provider: string(p), Err: errors.New("provider returned an empty response")}
	}
	s.metrics.ObserveGeneration(string(p), "ok", elapsed)
	return resp, nil
}

// SendMessage stores humanContent, asks the session's provider for the next
// turn over the full history and stores the answer. When generation fails the
// human turn stays stored and a *GenerationError is returned; a caller retry
// sends a new human turn.
func (s *Service) SendMessage(ctx context.Context, sessionID, humanContent string, params ai.Params) (*Reply, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if strings.TrimSpace(humanContent) == "" {
		return nil, fmt.Errorf("%w: content is empty", ErrValidation)
	}

	// 1) session
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// 2) human turn, stored even when the provider turns out to be unusable
	if _, err := s.store.AppendMessage(ctx, sessionID, RoleHuman, humanContent); err != nil {
		return nil, err
	}
	prov, err := s.providerFor(ctx, sess.Provider, sess.Model)
	if err != nil {
		logging.Error("chat", "provider unavailable", "session_id", sessionID, "provider", sess.Provider, "err", err)
		return nil, err
	}

	// 3) full ordered history, including the turn just stored
	history, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// 4) provider
	resp, err := s.generate(ctx, sess.Provider, prov, sess.SystemPrompt, toProviderHistory(history), params)
	if err != nil {
		logging.Error("chat", "generation failed", "session_id", sessionID, "provider", sess.Provider, "err", err)
		return nil, err
	}

	// 5) assistant turn
	msg, err := s.store.AppendMessage(ctx, sessionID, RoleAssistant, resp.Text)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Message:  msg,
		Provider: sess.Provider,
		Model:    sess.Model,
		Usage:    resp.Usage,
		Metadata: resp.Metadata,
	}, nil
}

// SendAdHoc is a single stateless generation; nothing is stored.
func (s *Service) SendAdHoc(ctx context.Context, req AdHocRequest) (*AdHocReply, error) {
	p, err := ParseProvider(req.Provider)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.HumanInput) == "" {
		return nil, fmt.Errorf("%w: human_input is empty", ErrValidation)
	}
	if err := req.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	model := s.modelFor(p, req.Model)
	prov, err := s.providerFor(ctx, p, model)
	if err != nil {
		return nil, err
	}
	history := make([]ai.Message, 0, len(req.History)+1)
	history = append(history, req.History...)
	history = append(history, ai.Message{Role: RoleHuman, Content: req.HumanInput})

	resp, err := s.generate(ctx, p, prov, req.SystemPrompt, history, req.Params)
	if err != nil {
		logging.Error("chat", "ad hoc generation failed", "provider", p, "model", model, "err", err)
		return nil, err
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return &AdHocReply{Text: resp.Text, Provider: p, Model: model, Usage: resp.Usage, Metadata: resp.Metadata}, nil
}

// EnqueueMessage stores the human turn and records a queued job for it in one
// transaction. A repeated idempotency key returns the original job and stores
// nothing.
func (s *Service) EnqueueMessage(ctx context.Context, sessionID, humanContent string, params ai.Params, idempotencyKey string) (*Job, bool, error) {
	if err := params.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, false, err
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, false, fmt.Errorf("%w: parameters: %v", ErrValidation, err)
	}
	jobID, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	job := &Job{
		ID:         jobID,
		SessionID:  sessionID,
		Parameters: string(encoded),
		Status:     JobQueued,
	}
	if idempotencyKey != "" {
		job.IdempotencyKey = &idempotencyKey
	}
	return s.store.EnqueueJob(ctx, job, humanContent)
}

// CompleteJob runs a queued job: generate over the session history up to the
// job's human turn and store the assistant turn. Jobs already finished are
// returned unchanged, so a redelivered queue message is harmless.
//
// Status writes after the job starts use a context that outlives ctx, so a
// cancelled caller never leaves the job running. An attempt interrupted by
// ctx, or by a transient store failure, puts the job back to queued and
// returns an error that is neither ErrGeneration nor ErrNotFound.
func (s *Service) CompleteJob(ctx context.Context, jobID string) (*Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if err := s.store.MarkJobRunning(ctx, jobID); err != nil {
		return nil, err
	}
	finishCtx := context.WithoutCancel(ctx)

	fail := func(cause error) (*Job, error) {
		detail := cause.Error()
		var genErr *GenerationError
		if errors.As(cause, &genErr) {
			detail = genErr.Detail()
		}
		if err := s.store.MarkJobFailed(finishCtx, jobID, detail); err != nil {
			logging.Error("chat", "mark job failed", "job_id", jobID, "err", err)
		}
		job.Status, job.Error = JobFailed, &detail
		return job, cause
	}
	requeue := func(cause error) (*Job, error) {
		if err := s.store.MarkJobQueued(finishCtx, jobID); err != nil {
			logging.Error("chat", "requeue job", "job_id", jobID, "err", err)
		}
		logging.Warn("chat", "job attempt interrupted", "job_id", jobID, "err", cause)
		job.Status = JobQueued
		return job, cause
	}
	// failOrRequeue fails the job only for errors that a later attempt would
	// hit again.
	failOrRequeue := func(err error) (*Job, error) {
		if ctx.Err() != nil {
			return requeue(fmt.Errorf("job %s: %w", jobID, ctx.Err()))
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrGeneration) {
			return fail(err)
		}
		return requeue(err)
	}

	var params ai.Params
	if job.Parameters != "" {
		if err := json.Unmarshal([]byte(job.Parameters), &params); err != nil {
			return fail(fmt.Errorf("%w: stored parameters: %v", ErrValidation, err))
		}
	}
	sess, err := s.store.GetSession(ctx, job.SessionID)
	if err != nil {
		return failOrRequeue(err)
	}
	human, err := s.store.GetMessage(ctx, job.HumanMessageID)
	if err != nil {
		return failOrRequeue(err)
	}
	prov, err := s.providerFor(ctx, sess.Provider, sess.Model)
	if err != nil {
		return fail(err)
	}
	history, err := s.store.ListMessages(ctx, job.SessionID)
	if err != nil {
		return failOrRequeue(err)
	}
	history = historyThrough(history, human.Order)

	resp, err := s.generate(ctx, sess.Provider, prov, sess.SystemPrompt, toProviderHistory(history), params)
	if err != nil {
		return failOrRequeue(err)
	}
	msg, err := s.store.AppendMessage(finishCtx, job.SessionID, RoleAssistant, resp.Text)
	if err != nil {
		return failOrRequeue(err)
	}
	if err := s.store.MarkJobSucceeded(finishCtx, jobID, msg.ID); err != nil {
		return nil, err
	}
	job.Status, job.ResultMessageID, job.Error = JobSucceeded, &msg.ID, nil
	return job, nil
}

// historyThrough keeps the messages up to and including order; turns stored
// after a job's human turn belong to later requests.
func historyThrough(history []Message, order int) []Message {
	n := 0
	for n < len(history) && history[n].Order <= order {
		n++
	}
	return history[:n]
}
