// Package ai answers free-form questions through an OpenAI-compatible API.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"

	"fleetbot/internal/infra/config"
)

var (
	// ErrDisabled is returned when no API key is configured.
	ErrDisabled = errors.New("ai is not configured")
	// ErrEmptyReply is returned when the model produced no text.
	ErrEmptyReply = errors.New("model returned an empty reply")
)

// Client wraps the chat completions endpoint.
type Client struct {
	client       *openai.Client
	model        string
	systemPrompt string
	enabled      bool
}

// NewClient creates a new Client. Extra options are applied after the
// configured ones.
func NewClient(cfg config.AIConfig, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	opts = append(opts, extra...)

	cl := openai.NewClient(opts...)
	return &Client{
		client:       &cl,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		enabled:      cfg.APIKey != "",
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c != nil && c.enabled }

// Ask sends a single question and returns the first choice.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if c.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Role:    constant.System("system"),
				Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(c.systemPrompt)},
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Role:    constant.User("user"),
			Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(question)},
		},
	})

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    shared.ChatModel(c.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	for _, choice := range resp.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text, nil
		}
	}
	return "", ErrEmptyReply
}
