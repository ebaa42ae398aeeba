package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"golang.org/x/time/rate"
)

const (
	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	defaultMaxTokens       = 1024
	defaultMaxRetries      = 3
	defaultBaseBackoff     = time.Second
	defaultRateLimit       = 50.0 / 60.0
	defaultBurst           = 5
)

// AnthropicGenerator implements TextGenerationProvider on top of
// anthropic-sdk-go, rate-limited and retried in the same shape the
// teacher's hand-rolled summarizer used before the SDK existed.
type AnthropicGenerator struct {
	client     anthropic.Client
	model      anthropic.Model
	maxTokens  int64
	limiter    *rate.Limiter
	maxRetries int
}

// AnthropicConfig configures an AnthropicGenerator.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// NewAnthropicGenerator constructs an AnthropicGenerator.
func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key required", libcore.ErrValidation)
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicGenerator{
		client:     anthropic.NewClient(opts...),
		model:      anthropic.Model(model),
		maxTokens:  maxTokens,
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: defaultMaxRetries,
	}, nil
}

// Generate implements TextGenerationProvider.
func (g *AnthropicGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		msg, err := g.client.Messages.New(ctx, params)
		if err == nil {
			return extractText(msg), nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", libcore.NewProviderError("anthropic", err)
		}
	}
	return "", libcore.NewProviderError("anthropic", fmt.Errorf("max retries exceeded: %w", lastErr))
}

func extractText(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// isRetryable treats connection failures and rate-limit/server errors as
// transient; anything else (bad request, auth failure) fails fast.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}
