package llmclients

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/miclaldogan/bantz-sub008/internal/finalize"
)

// BedrockConfig configures a BedrockClient.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// BedrockClient implements router.LLMClient and finalize.ChatClient
// against the AWS Bedrock Converse API, non-streaming.
type BedrockClient struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewBedrockClient constructs a BedrockClient from the given
// configuration, loading AWS credentials from the default chain unless
// explicit keys are supplied.
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("llmclients: load aws config: %w", err)
	}

	return &BedrockClient{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// CompleteText satisfies router.LLMClient.
func (c *BedrockClient) CompleteText(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	resp, err := c.ChatDetailed(ctx, []finalize.FinalizeMessage{{Role: "user", Content: prompt}}, temperature, maxTokens)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ChatDetailed satisfies finalize.ChatClient.
func (c *BedrockClient) ChatDetailed(ctx context.Context, messages []finalize.FinalizeMessage, temperature float64, maxTokens int) (finalize.FinalizeResponse, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var system []types.SystemContentBlock
	var msgs []types.Message
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		msgs = append(msgs, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}

	temp32 := float32(temperature)
	maxTok32 := int32(maxTokens)
	input := &bedrockruntime.ConverseInput{
		ModelId:  &c.defaultModel,
		Messages: msgs,
		System:   system,
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: &temp32,
			MaxTokens:   &maxTok32,
		},
	}

	var out *bedrockruntime.ConverseOutput
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		out, err = c.client.Converse(ctx, input)
		if err == nil {
			break
		}
		if !isRetryableMessage(err.Error()) || attempt == c.maxRetries {
			return finalize.FinalizeResponse{}, fmt.Errorf("llmclients: bedrock request failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return finalize.FinalizeResponse{}, ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(1<<attempt)):
		}
	}

	outMsg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || len(outMsg.Value.Content) == 0 {
		return finalize.FinalizeResponse{}, errors.New("llmclients: bedrock returned no message content")
	}

	var text string
	for _, block := range outMsg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}

	var tokensUsed int
	if out.Usage != nil && out.Usage.TotalTokens != nil {
		tokensUsed = int(*out.Usage.TotalTokens)
	}

	return finalize.FinalizeResponse{
		Content:      text,
		Model:        c.defaultModel,
		TokensUsed:   tokensUsed,
		FinishReason: string(out.StopReason),
	}, nil
}
