// File: internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lukerm/parallellm-qa/internal/agent"
	"github.com/lukerm/parallellm-qa/internal/config"
)

// NewClient constructs the configured decision client.
func NewClient(cfg config.LLMModelConfig, logger *zap.Logger) (agent.DecisionClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		client, err := NewGeminiClient(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		logger.Info("Instantiated decision client",
			zap.String("provider", string(cfg.Provider)), zap.String("model", cfg.Model))
		return client, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
