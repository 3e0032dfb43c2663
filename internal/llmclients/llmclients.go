// Package llmclients provides concrete, narrowly-scoped implementations
// of the router.LLMClient and finalize.ChatClient contracts against
// real third-party LLM backends: Anthropic's Claude, OpenAI's GPT
// family, and AWS Bedrock. The core orchestration kernel treats LLM
// backends as external collaborators behind these two methods; nothing
// in this package is imported by the kernel itself except through those
// interfaces.
package llmclients

import (
	"strings"
)

// isRetryableMessage classifies a provider error message as transient,
// a string-matching fallback for the cases where the SDK doesn't
// expose a typed status code.
func isRetryableMessage(msg string) bool {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return true
	default:
		return false
	}
}
