// Package llm provides the generation service client and token counting.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// ErrEmptyCompletion is returned when the service answers without any content.
var ErrEmptyCompletion = errors.New("empty completion")

// Prompt is a two-part chat prompt.
type Prompt struct {
	System string
	User   string
}

// Completion is the generated text and its token usage as reported by the service.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

// Config points the client at an OpenAI-compatible endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// OpenAIClient calls an OpenAI-compatible chat completion endpoint.
// Retries are left to the caller's breaker, so the SDK's own retries are disabled.
type OpenAIClient struct {
	client openai.Client
	cfg    Config
	logger *zap.Logger
}

// Option configures an OpenAIClient.
type Option func(*OpenAIClient)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *OpenAIClient) { c.logger = l }
}

// NewOpenAIClient creates a client for cfg.
func NewOpenAIClient(cfg Config, opts ...Option) *OpenAIClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4oMini)
	}
	c := &OpenAIClient{
		client: openai.NewClient(reqOpts...),
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends p as a system and user message and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, p Prompt) (Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if p.System != "" {
		messages = append(messages, openai.SystemMessage(p.System))
	}
	messages = append(messages, openai.UserMessage(p.User))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(c.cfg.Model),
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.cfg.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Completion{}, ErrEmptyCompletion
	}
	out := Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}
	c.logger.Debug("completion received",
		zap.String("model", c.cfg.Model),
		zap.Int("prompt_tokens", out.PromptTokens),
		zap.Int("completion_tokens", out.CompletionTokens))
	return out, nil
}

// Ping lists the service's models. A 4xx answer still proves the service is up, since some
// compatible gateways do not expose the models endpoint.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.client.Models.List(ctx)
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, p Prompt) (Completion, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, p Prompt) (Completion, error) {
	return f(ctx, p)
}
