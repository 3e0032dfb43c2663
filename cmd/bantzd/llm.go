package main

import (
	"context"
	"fmt"
	"os"

	"github.com/miclaldogan/bantz-sub008/internal/finalize"
	"github.com/miclaldogan/bantz-sub008/internal/googleauth"
	"github.com/miclaldogan/bantz-sub008/internal/llmclients"
	"github.com/miclaldogan/bantz-sub008/internal/router"
)

// llmBackends bundles the router-tier and finalizer-tier clients the
// orchestrator.Runtime needs. Fast is always populated (every
// deployment needs at least one working backend); Quality is nil when
// no higher-tier backend is configured, which finalize.TierPolicy
// treats as "quality unavailable, stay on fast".
type llmBackends struct {
	RouterClient router.LLMClient
	Fast         finalize.ChatClient
	Quality      finalize.ChatClient
}

// buildLLMBackends selects and constructs LLM clients from environment
// variables, preferring Anthropic, then OpenAI, then Bedrock for the
// fast tier, and wiring a second distinct backend as the quality tier
// when credentials for more than one are present. This lets a single
// process exercise every adapter in internal/llmclients without
// requiring three separate binaries.
func buildLLMBackends(ctx context.Context) (llmBackends, error) {
	var candidates []finalize.ChatClient

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		client, err := llmclients.NewAnthropicClient(llmclients.AnthropicConfig{
			APIKey:       key,
			BaseURL:      os.Getenv("ANTHROPIC_BASE_URL"),
			DefaultModel: os.Getenv("ANTHROPIC_MODEL"),
		})
		if err != nil {
			return llmBackends{}, fmt.Errorf("bantzd: anthropic client: %w", err)
		}
		candidates = append(candidates, client)
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		client, err := llmclients.NewOpenAIClient(llmclients.OpenAIConfig{
			APIKey:       key,
			BaseURL:      os.Getenv("OPENAI_BASE_URL"),
			DefaultModel: os.Getenv("OPENAI_MODEL"),
		})
		if err != nil {
			return llmBackends{}, fmt.Errorf("bantzd: openai client: %w", err)
		}
		candidates = append(candidates, client)
	}

	if region := os.Getenv("AWS_REGION"); region != "" || os.Getenv("BANTZ_BEDROCK_ENABLED") == "true" {
		client, err := llmclients.NewBedrockClient(ctx, llmclients.BedrockConfig{
			Region:          region,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			DefaultModel:    os.Getenv("BEDROCK_MODEL"),
		})
		if err != nil {
			return llmBackends{}, fmt.Errorf("bantzd: bedrock client: %w", err)
		}
		candidates = append(candidates, client)
	}

	if len(candidates) == 0 {
		return llmBackends{}, fmt.Errorf("bantzd: no LLM backend configured (set ANTHROPIC_API_KEY, OPENAI_API_KEY, or AWS_REGION)")
	}

	fast := candidates[0]
	backends := llmBackends{
		RouterClient: fastAsRouterClient{fast},
		Fast:         fast,
	}
	if len(candidates) > 1 {
		backends.Quality = candidates[len(candidates)-1]
	}
	return backends, nil
}

// fastAsRouterClient adapts a finalize.ChatClient down to the
// single-method router.LLMClient the router only ever needs a plain
// text completion from.
type fastAsRouterClient struct {
	client finalize.ChatClient
}

func (f fastAsRouterClient) CompleteText(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	resp, err := f.client.ChatDetailed(ctx, []finalize.FinalizeMessage{{Role: "user", Content: prompt}}, temperature, maxTokens)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// googleAuthConfigFromEnv builds the googleauth.Config demo tools use
// to construct a Calendar/Gmail/Contacts-scoped token source. A zero
// value (ClientID empty) is valid: tools using it degrade to an
// "auth unconfigured" response rather than failing the whole process.
func googleAuthConfigFromEnv() googleauth.Config {
	return googleauth.Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		RefreshToken: os.Getenv("GOOGLE_REFRESH_TOKEN"),
	}
}
