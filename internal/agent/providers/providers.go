package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/gridiron/internal/agent"
)

// Config selects and configures one provider.
type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Region     string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// New builds the model for config, wrapping fallbacks in a Failover when
// any are given.
func New(ctx context.Context, logger *slog.Logger, config Config, fallbacks ...Config) (agent.Model, error) {
	primary, err := newModel(ctx, config)
	if err != nil {
		return nil, err
	}
	if len(fallbacks) == 0 {
		return primary, nil
	}
	chain := []agent.Model{primary}
	for _, fb := range fallbacks {
		m, err := newModel(ctx, fb)
		if err != nil {
			return nil, fmt.Errorf("fallback %s: %w", fb.Provider, err)
		}
		chain = append(chain, m)
	}
	return NewFailover(logger, chain...), nil
}

func newModel(ctx context.Context, c Config) (agent.Model, error) {
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "anthropic", "":
		return NewAnthropic(AnthropicConfig{
			APIKey: c.APIKey, BaseURL: c.BaseURL, Model: c.Model,
			MaxTokens: c.MaxTokens, MaxRetries: c.MaxRetries, RetryDelay: c.RetryDelay,
		})
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey: c.APIKey, BaseURL: c.BaseURL, Model: c.Model,
			MaxTokens: c.MaxTokens, MaxRetries: c.MaxRetries, RetryDelay: c.RetryDelay,
		})
	case "google", "gemini":
		return NewGoogle(ctx, GoogleConfig{
			APIKey: c.APIKey, Model: c.Model,
			MaxTokens: c.MaxTokens, MaxRetries: c.MaxRetries, RetryDelay: c.RetryDelay,
		})
	case "bedrock":
		return NewBedrock(ctx, BedrockConfig{
			Region: c.Region, Model: c.Model,
			MaxTokens: c.MaxTokens, MaxRetries: c.MaxRetries, RetryDelay: c.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", c.Provider)
	}
}
