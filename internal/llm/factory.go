package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"envplan/internal/logging"
)

type ProviderOptions struct {
	Provider     string
	APIKey       string
	GeminiAPIKey string
	Model        string
	BaseURL      string
}

// NewProvider builds the configured backend. A nil Provider with a nil error
// means mock mode: the "mock" provider was requested or the credential failed
// the format check.
func NewProvider(ctx context.Context, opts ProviderOptions, logger *slog.Logger) (Provider, error) {
	logger = logging.OrDiscard(logger)
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "mock":
		logger.Info("llm provider set to mock")
		return nil, nil
	case "openai":
		if !ValidCredential(opts.APIKey) {
			logger.Warn("openai credential missing or malformed, generating mock text")
			return nil, nil
		}
		return NewOpenAI(opts.APIKey, opts.Model, opts.BaseURL), nil
	case "gemini":
		key := opts.GeminiAPIKey
		if key == "" {
			key = opts.APIKey
		}
		if !ValidCredential(key) {
			logger.Warn("gemini credential missing or malformed, generating mock text")
			return nil, nil
		}
		return NewGemini(ctx, key, opts.Model, opts.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", opts.Provider)
	}
}
