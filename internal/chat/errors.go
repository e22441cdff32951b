package chat

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/suPer8Hu/ai-prompt-service/internal/ai"
	"gorm.io/gorm"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("order conflict")
	ErrGeneration       = errors.New("generation failed")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// GenerationError is a failed provider call. It matches ErrGeneration.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// Detail is the provider's own message, without wrapping.
func (e *GenerationError) Detail() string {
	var perr *ai.Error
	if errors.As(e.Err, &perr) {
		return perr.Message
	}
	if e.Err == nil {
		return "unknown provider error"
	}
	return e.Err.Error()
}

func (e *GenerationError) Retryable() bool {
	var perr *ai.Error
	return errors.As(e.Err, &perr) && perr.Retryable
}

// classify maps driver level failures onto the package sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUnavailable(err):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "invalid connection")
}

// isOrderConflict reports failures the append transaction may retry.
func isOrderConflict(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "Deadlock found") ||
		strings.Contains(msg, "database is locked")
}
