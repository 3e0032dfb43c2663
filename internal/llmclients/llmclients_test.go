package llmclients

import "testing"

func TestIsRetryableMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want bool
	}{
		{"rate limit", "rate_limit_error: too many requests", true},
		{"http 429", "received 429 from server", true},
		{"http 503", "upstream returned 503 Service Unavailable", true},
		{"timeout", "context deadline exceeded", true},
		{"connection reset", "read: connection reset by peer", true},
		{"no such host", "dial tcp: lookup api.anthropic.com: no such host", true},
		{"auth error", "401 unauthorized: invalid api key", false},
		{"bad request", "400 bad request: invalid model", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableMessage(tt.msg); got != tt.want {
				t.Fatalf("isRetryableMessage(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}
