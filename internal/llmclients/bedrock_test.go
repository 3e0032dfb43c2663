package llmclients

import (
	"context"
	"testing"
)

func TestNewBedrockClientDefaults(t *testing.T) {
	client, err := NewBedrockClient(context.Background(), BedrockConfig{
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secretexample",
	})
	if err != nil {
		t.Fatalf("NewBedrockClient() error = %v", err)
	}
	if client.defaultModel != "anthropic.claude-3-sonnet-20240229-v1:0" {
		t.Fatalf("expected default bedrock model, got %q", client.defaultModel)
	}
	if client.maxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", client.maxRetries)
	}
}

func TestNewBedrockClientHonorsRegionOverride(t *testing.T) {
	client, err := NewBedrockClient(context.Background(), BedrockConfig{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secretexample",
		DefaultModel:    "anthropic.claude-3-haiku-20240307-v1:0",
	})
	if err != nil {
		t.Fatalf("NewBedrockClient() error = %v", err)
	}
	if client.defaultModel != "anthropic.claude-3-haiku-20240307-v1:0" {
		t.Fatalf("expected custom model to be preserved, got %q", client.defaultModel)
	}
}
