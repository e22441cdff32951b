// Package bootstrap holds the wiring shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/ai-prompt-service/internal/ai"
	"github.com/suPer8Hu/ai-prompt-service/internal/chat"
	"github.com/suPer8Hu/ai-prompt-service/internal/config"
	"github.com/suPer8Hu/ai-prompt-service/internal/db"
	"gorm.io/gorm"
)

// Registry registers the claude and gemini backends. A model argument of ""
// falls back to the configured default.
func Registry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register(string(chat.ProviderClaude), func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", ai.ErrNotConfigured)
		}
		if model == "" {
			model = cfg.DefaultClaudeModel
		}
		return ai.NewClaudeProvider(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, model, cfg.ProviderTimeout), nil
	})

	reg.Register(string(chat.ProviderGemini), func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		if cfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("%w: GOOGLE_API_KEY is not set", ai.ErrNotConfigured)
		}
		if model == "" {
			model = cfg.DefaultGeminiModel
		}
		return ai.NewGeminiProvider(cfg.GeminiBaseURL, cfg.GoogleAPIKey, model, cfg.ProviderTimeout), nil
	})

	return reg
}

func DefaultModels(cfg config.Config) chat.DefaultModels {
	return chat.DefaultModels{
		chat.ProviderClaude: cfg.DefaultClaudeModel,
		chat.ProviderGemini: cfg.DefaultGeminiModel,
	}
}

// OpenStore connects, migrates and returns the session store.
func OpenStore(cfg config.Config) (*chat.Store, *gorm.DB, error) {
	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN, cfg.DBEcho)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(gdb, chat.Models()...); err != nil {
		return nil, nil, err
	}
	return chat.NewStore(gdb), gdb, nil
}
