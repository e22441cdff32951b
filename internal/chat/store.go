package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/ai-prompt-service/internal/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultAppendAttempts = 5

// Store persists sessions, their ordered messages and async jobs.
type Store struct {
	db             *gorm.DB
	now            func() time.Time
	appendAttempts int
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:             db,
		now:            func() time.Time { return time.Now().UTC() },
		appendAttempts: defaultAppendAttempts,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, provider Provider, model, systemPrompt string) (*Session, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrValidation, provider)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrValidation)
	}

	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		Provider:     provider,
		Model:        model,
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, classify(err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("session %s: %w", id, classify(err))
	}
	return &sess, nil
}

// ListMessages returns the session's messages in ascending order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	msgs := []Message{}
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&msgs).Error; err != nil {
		return nil, classify(err)
	}
	return msgs, nil
}

// AppendMessage stores a message with order = max(order)+1 and bumps the
// session's updated_at. Concurrent appends to one session are serialized by
// a row lock on the session (where the dialect has one) and by the unique
// (session_id, seq) index; a losing transaction is retried from scratch.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) (*Message, error) {
	if role != RoleHuman && role != RoleAssistant {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is empty", ErrValidation)
	}

	var msg *Message
	err := s.appendWithRetry(ctx, sessionID, func(tx *gorm.DB) error {
		if err := lockSession(tx, sessionID); err != nil {
			return err
		}
		m, err := s.insertMessage(tx, sessionID, role, content)
		msg = m
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// EnqueueJob stores content as a human turn and job as the queued request to
// answer it, in one transaction under the session lock. When job carries an
// idempotency key the session already used, the existing job is returned with
// created=false and nothing is written.
func (s *Store) EnqueueJob(ctx context.Context, job *Job, content string) (*Job, bool, error) {
	if strings.TrimSpace(content) == "" {
		return nil, false, fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if job.IdempotencyKey != nil && *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
	}

	var (
		out     *Job
		created bool
	)
	err := s.appendWithRetry(ctx, job.SessionID, func(tx *gorm.DB) error {
		if err := lockSession(tx, job.SessionID); err != nil {
			return err
		}
		if job.IdempotencyKey != nil {
			var existing []Job
			if err := tx.Where("session_id = ? AND idempotency_key = ?", job.SessionID, *job.IdempotencyKey).
				Limit(1).
				Find(&existing).Error; err != nil {
				return err
			}
			if len(existing) == 1 {
				out, created = &existing[0], false
				return nil
			}
		}

		m, err := s.insertMessage(tx, job.SessionID, RoleHuman, content)
		if err != nil {
			return err
		}
		j := *job
		j.HumanMessageID = m.ID
		if err := tx.Create(&j).Error; err != nil {
			return err
		}
		out, created = &j, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// appendWithRetry runs fn in a transaction, retrying it from scratch when it
// loses an order (or idempotency key) race.
func (s *Store) appendWithRetry(ctx context.Context, sessionID string, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.appendAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		if !isOrderConflict(err) {
			return classify(err)
		}
		lastErr = err
		logging.Warn("chat", "order conflict, retrying append", "session_id", sessionID, "attempt", attempt, "err", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: session %s after %d attempts: %v", ErrConflict, sessionID, s.appendAttempts, lastErr)
}

// lockSession takes the session row lock (a no-op on SQLite) and fails with
// gorm.ErrRecordNotFound when the session is gone.
func lockSession(tx *gorm.DB, sessionID string) error {
	var sess Session
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		First(&sess, "id = ?", sessionID).Error
}

func (s *Store) insertMessage(tx *gorm.DB, sessionID, role, content string) (*Message, error) {
	var next int
	if err := tx.Model(&Message{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(seq), -1) + 1").
		Scan(&next).Error; err != nil {
		return nil, err
	}

	now := s.now()
	m := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Order:     next,
		CreatedAt: now,
	}
	if err := tx.Create(m).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&Session{}).
		Where("id = ?", sessionID).
		Update("updated_at", now).Error; err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("message %s: %w", id, classify(err))
	}
	return &m, nil
}

// DeleteSession removes the session with its messages and jobs. Deleting an
// unknown id is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&Job{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Session{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return classify(err)
	}
	if deleted == 0 {
		logging.Info("chat", "delete of absent session ignored", "session_id", id)
	}
	return nil
}

// PurgeExpired deletes every session whose updated_at is before olderThan and
// returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UTC()
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&Session{}).Select("id").Where("updated_at < ?", cutoff)
		if err := tx.Where("session_id IN (?)", expired).Delete(&Job{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id IN (?)", expired).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("updated_at < ?", cutoff).Delete(&Session{})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := s.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("job %s: %w", id, classify(err))
	}
	return &j, nil
}

func (s *Store) MarkJobRunning(ctx context.Context, id string) error {
	return classify(s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error)
}

// MarkJobQueued hands a running job back to the queue after an interrupted
// attempt.
func (s *Store) MarkJobQueued(ctx context.Context, id string) error {
	return classify(s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobRunning).
		Update("status", JobQueued).Error)
}

func (s *Store) MarkJobSucceeded(ctx context.Context, id, assistantMsgID string) error {
	return classify(s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": assistantMsgID,
			"error":             nil,
		}).Error)
}

// MarkJobFailed records errMsg on any job that has not already succeeded.
func (s *Store) MarkJobFailed(ctx context.Context, id, errMsg string) error {
	return classify(s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status <> ?", id, JobSucceeded).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error)
}
