package ai

import (
	"context"
	"fmt"
	"strings"

	"cvtriage/internal/config"
)

// NewGenerator picks the backend named by cfg.Provider.
func NewGenerator(ctx context.Context, cfg config.InferenceConfig, apiKey string) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		return NewGeminiGenerator(ctx, apiKey, cfg.Model, cfg.Temperature)
	case "openai", "claude":
		return NewChatGenerator(ctx, ChatConfig{
			Provider:    strings.ToLower(cfg.Provider),
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			APIKey:      apiKey,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s", cfg.Provider)
	}
}
