package llmclients

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/miclaldogan/bantz-sub008/internal/finalize"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIClient implements router.LLMClient and finalize.ChatClient
// against the OpenAI chat completions API, non-streaming.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenAIClient constructs an OpenAIClient. Returns an error if
// cfg.APIKey is empty.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llmclients: openai API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4oMini
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(config),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// CompleteText satisfies router.LLMClient.
func (c *OpenAIClient) CompleteText(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	resp, err := c.ChatDetailed(ctx, []finalize.FinalizeMessage{{Role: "user", Content: prompt}}, temperature, maxTokens)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ChatDetailed satisfies finalize.ChatClient.
func (c *OpenAIClient) ChatDetailed(ctx context.Context, messages []finalize.FinalizeMessage, temperature float64, maxTokens int) (finalize.FinalizeResponse, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	oaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		oaiMessages = append(oaiMessages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.defaultModel,
		Messages:    oaiMessages,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	}

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err = c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		if !isRetryableMessage(err.Error()) || attempt == c.maxRetries {
			return finalize.FinalizeResponse{}, fmt.Errorf("llmclients: openai request failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return finalize.FinalizeResponse{}, ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(1<<attempt)):
		}
	}

	if len(resp.Choices) == 0 {
		return finalize.FinalizeResponse{}, errors.New("llmclients: openai returned no choices")
	}

	choice := resp.Choices[0]
	return finalize.FinalizeResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}
