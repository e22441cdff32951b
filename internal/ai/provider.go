package ai

import (
	"context"
	"strings"
)

const (
	RoleHuman     = "human"
	RoleAssistant = "assistant"
)

// Message is one conversation turn handed to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting reported by the backend, when it reports one.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Response struct {
	Text     string            `json:"text"`
	Model    string            `json:"model"`
	Usage    *Usage            `json:"usage,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Provider is a text generation backend bound to one model.
// history is ordered oldest first and already contains the turn to answer.
type Provider interface {
	Generate(ctx context.Context, systemPrompt string, history []Message, params Params) (*Response, error)
}

// mergeTurns drops unknown roles and empty turns, then joins consecutive
// turns of the same role. Both backends expect alternating roles, while a
// stored history can hold two human turns in a row after a failed generation.
func mergeTurns(history []Message) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == "user" {
			role = RoleHuman
		}
		if role != RoleHuman && role != RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}
