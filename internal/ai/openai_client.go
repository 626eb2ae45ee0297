package ai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
)

var (
	ErrNoAPIKey    = errors.New("ai: api key not set")
	ErrEmptyAnswer = errors.New("ai: empty answer")
)

const defaultMaxTokens = 800

type OpenAIOptions struct {
	APIKey string
	Model  string // defaults to gpt-4o-mini
	// BaseURL points the client at a compatible endpoint; empty means OpenAI.
	BaseURL string
}

type OpenAIClient struct {
	client *openai.Client
	model  string
	log    *logger.Logger
}

var _ AI = (*OpenAIClient)(nil)

func NewOpenAIClient(opts OpenAIOptions, log *logger.Logger) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		log:    log.With("component", "openai", "model", model),
	}, nil
}

func (c *OpenAIClient) GetReply(
	ctx context.Context,
	systemPrompt string,
	history []Message,
) (string, error) {

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Text,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: defaultMaxTokens,
	})
	if err != nil {
		c.log.Error("completion failed", "error", err)
		return "", err
	}

	if len(resp.Choices) == 0 {
		c.log.Warn("empty choices")
		return "", ErrEmptyAnswer
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if raw == "" {
		return "", ErrEmptyAnswer
	}

	c.log.Debug("completion received", "chars", len([]rune(raw)), "total_tokens", resp.Usage.TotalTokens)
	return raw, nil
}
