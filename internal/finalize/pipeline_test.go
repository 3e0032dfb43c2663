package finalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/router"
)

type stubClient struct {
	resp  FinalizeResponse
	err   error
	delay time.Duration
}

func (s *stubClient) ChatDetailed(ctx context.Context, messages []FinalizeMessage, temperature float64, maxTokens int) (FinalizeResponse, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return FinalizeResponse{}, ctx.Err()
		}
	}
	if s.err != nil {
		return FinalizeResponse{}, s.err
	}
	return s.resp, nil
}

func newTestPipeline(fast ChatClient, quality ChatClient) *Pipeline {
	policy := NewTierPolicy(WithQualityAvailable(func() bool { return quality != nil }), WithGetenv(func(string) string { return "" }))
	return NewPipeline(quality, fast, policy, NewPool(2))
}

func TestFinalizeUsesFastClientForRoutingOnly(t *testing.T) {
	fast := &stubClient{resp: FinalizeResponse{Content: "Tamam Efendim.", Model: "fast-model", TokensUsed: 10}}
	p := newTestPipeline(fast, nil)
	reply, meta, err := p.Finalize(context.Background(), router.Plan{Route: "calendar"}, nil, "create_event")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Tier != TierFast {
		t.Fatalf("expected fast tier, got %v", meta.Tier)
	}
	if reply == "" {
		t.Fatal("expected non-empty reply")
	}
}

func TestFinalizeFallsBackToAssistantReplyOnClientError(t *testing.T) {
	fast := &stubClient{err: errors.New("backend down")}
	p := newTestPipeline(fast, nil)
	plan := router.Plan{Route: "smalltalk", AssistantReply: "Merhaba Efendim."}
	reply, _, err := p.Finalize(context.Background(), plan, nil, "none")
	if err == nil {
		t.Fatal("expected error surfaced even though a fallback reply was produced")
	}
	if reply == "" {
		t.Fatal("expected fallback reply to plan.AssistantReply")
	}
}

func TestFinalizeFallsBackToApologyWhenNoAssistantReply(t *testing.T) {
	fast := &stubClient{err: errors.New("backend down")}
	p := newTestPipeline(fast, nil)
	reply, _, err := p.Finalize(context.Background(), router.Plan{Route: "unknown"}, nil, "none")
	if err == nil {
		t.Fatal("expected error")
	}
	if reply == "" {
		t.Fatal("expected Turkish apology fallback")
	}
}

func TestFinalizeRespectsContextCancellation(t *testing.T) {
	fast := &stubClient{delay: 50 * time.Millisecond, resp: FinalizeResponse{Content: "ok"}}
	p := newTestPipeline(fast, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, _, err := p.Finalize(ctx, router.Plan{Route: "unknown"}, nil, "none")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestPoolSubmitRespectsBoundedConcurrency(t *testing.T) {
	pool := NewPool(1)
	started := make(chan struct{})
	release := make(chan struct{})

	err := pool.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pool.Submit(ctx, func(ctx context.Context) {})
	if err == nil {
		t.Fatal("expected second submit to block until slot frees and then time out")
	}
	close(release)
}

func TestPoolShutdownDrainsInFlightWork(t *testing.T) {
	pool := NewPool(2)
	done := make(chan struct{})
	_ = pool.Submit(context.Background(), func(ctx context.Context) {
		time.Sleep(10 * time.Millisecond)
		close(done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("expected in-flight work to have completed before Shutdown returned")
	}
}

func TestPoolRejectsSubmitAfterShutdown(t *testing.T) {
	pool := NewPool(2)
	_ = pool.Shutdown(context.Background())
	if err := pool.Submit(context.Background(), func(ctx context.Context) {}); err == nil {
		t.Fatal("expected submit to be rejected after shutdown")
	}
}
