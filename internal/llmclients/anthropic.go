package llmclients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/miclaldogan/bantz-sub008/internal/finalize"
)

// AnthropicConfig configures an AnthropicClient (APIKey required,
// everything else defaulted).
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicClient implements router.LLMClient and finalize.ChatClient
// against the Anthropic Messages API, non-streaming (the kernel only
// ever needs one completed response per call, never partial tokens).
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicClient constructs an AnthropicClient. Returns an error if
// cfg.APIKey is empty.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llmclients: anthropic API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// CompleteText satisfies router.LLMClient: a single blocking text
// completion with no system/role structure beyond the one prompt.
func (c *AnthropicClient) CompleteText(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	resp, err := c.ChatDetailed(ctx, []finalize.FinalizeMessage{{Role: "user", Content: prompt}}, temperature, maxTokens)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ChatDetailed satisfies finalize.ChatClient.
func (c *AnthropicClient) ChatDetailed(ctx context.Context, messages []finalize.FinalizeMessage, temperature float64, maxTokens int) (finalize.FinalizeResponse, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var system string
	var msgs []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		if m.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.defaultModel),
		Messages:    msgs,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	var msg *anthropic.Message
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		msg, err = c.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		if !isRetryableMessage(err.Error()) || attempt == c.maxRetries {
			return finalize.FinalizeResponse{}, fmt.Errorf("llmclients: anthropic request failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return finalize.FinalizeResponse{}, ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(1<<attempt)):
		}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb := block.AsText(); tb.Text != "" {
			text.WriteString(tb.Text)
		}
	}

	finishReason := string(msg.StopReason)
	return finalize.FinalizeResponse{
		Content:      text.String(),
		Model:        string(msg.Model),
		TokensUsed:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		FinishReason: finishReason,
	}, nil
}
