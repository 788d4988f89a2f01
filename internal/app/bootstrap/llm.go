package bootstrap

import (
	"context"
	"fmt"
	"strings"

	appconfig "github.com/wolfman30/receptionist-relay/internal/config"
	"github.com/wolfman30/receptionist-relay/internal/llm"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

// BedrockFactory builds the Bedrock client lazily so AWS config is only
// loaded when that provider is selected.
type BedrockFactory func(ctx context.Context) (llm.BedrockConverseAPI, error)

// BuildSummaryClient selects the history summarizer backend. A nil client
// with no error means summaries are disabled and only history signals are
// served.
func BuildSummaryClient(ctx context.Context, cfg *appconfig.Config, bedrock BedrockFactory, logger *logging.Logger) (llm.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.SummaryProvider)) {
	case "", "none", "disabled":
		logger.Info("history summaries disabled")
		return nil, nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			logger.Warn("openai summary provider selected but OPENAI_API_KEY empty; disabling summaries")
			return nil, nil
		}
		client, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		logger.Info("history summaries via openai", "model", cfg.OpenAIModel)
		return client, nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			logger.Warn("gemini summary provider selected but GEMINI_API_KEY empty; disabling summaries")
			return nil, nil
		}
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		logger.Info("history summaries via gemini", "model", cfg.GeminiModel)
		return client, nil
	case "bedrock":
		model := strings.TrimSpace(cfg.BedrockModelID)
		if model == "" {
			logger.Warn("bedrock summary provider selected but model id empty; disabling summaries")
			return nil, nil
		}
		if bedrock == nil {
			return nil, fmt.Errorf("bootstrap: bedrock client factory is required")
		}
		api, err := bedrock(ctx)
		if err != nil {
			return nil, err
		}
		var client llm.Client = llm.NewBedrockClient(api, model)
		if fallback := strings.TrimSpace(cfg.BedrockFallbackModelID); fallback != "" && fallback != model {
			client = llm.NewFallbackClient(client, llm.NewBedrockClient(api, fallback), logger)
		}
		logger.Info("history summaries via bedrock", "model", model, "fallback_model", cfg.BedrockFallbackModelID)
		return client, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown SUMMARY_PROVIDER %q", cfg.SummaryProvider)
	}
}
