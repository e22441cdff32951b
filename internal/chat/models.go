package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-prompt-service/internal/ai"
)

// Provider names the generation backend a session is bound to.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
)

func (p Provider) Valid() bool {
	return p == ProviderClaude || p == ProviderGemini
}

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown provider %q (want %q or %q)", ErrValidation, s, ProviderClaude, ProviderGemini)
	}
	return p, nil
}

const (
	RoleHuman     = ai.RoleHuman
	RoleAssistant = ai.RoleAssistant
)

type Session struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Provider     Provider  `gorm:"type:varchar(32);not null" json:"provider"`
	Model        string    `gorm:"type:varchar(100);not null" json:"model"`
	SystemPrompt string    `gorm:"type:text;not null" json:"system_prompt"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `gorm:"index" json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// Message is one turn of a session. Order is assigned by the store and is
// unique within the session; the column is "seq" since ORDER is reserved.
type Message struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID string    `gorm:"type:varchar(36);not null;uniqueIndex:uniq_messages_session_seq,priority:1" json:"session_id"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Order     int       `gorm:"column:seq;not null;uniqueIndex:uniq_messages_session_seq,priority:2" json:"order"`
	CreatedAt time.Time `json:"created_at"`

	Session *Session `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Message) TableName() string { return "messages" }

// Models lists everything the store migrates, parents first.
func Models() []any {
	return []any{&Session{}, &Message{}, &Job{}}
}

func toProviderHistory(msgs []Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
