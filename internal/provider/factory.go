package provider

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

// New builds the chat client for a stored config.
func New(ctx context.Context, cfg *ProviderConfig, logger *zap.Logger) (Provider, error) {
	params := Resolve(cfg)
	id := strconv.FormatInt(cfg.ID, 10)
	switch params.Kind {
	case KindAnthropic:
		return NewAnthropicProvider(id, cfg.Name, params, logger), nil
	case KindGemini:
		return NewGeminiProvider(ctx, id, cfg.Name, params, logger)
	default:
		return NewOpenAIProvider(id, cfg.Name, params, logger), nil
	}
}
