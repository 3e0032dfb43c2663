package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/metrics"
	"github.com/miclaldogan/bantz-sub008/internal/router"
)

// FinalizeMessage is one message of a finalizer chat request.
type FinalizeMessage struct {
	Role    string
	Content string
}

// FinalizeResponse is a finalizer's chat completion result.
type FinalizeResponse struct {
	Content      string
	Model        string
	TokensUsed   int
	FinishReason string
}

// ChatClient is the finalizer half of the two-method LLM client
// contract.
type ChatClient interface {
	ChatDetailed(ctx context.Context, messages []FinalizeMessage, temperature float64, maxTokens int) (FinalizeResponse, error)
}

// ToolOutcome is one verified tool result surfaced to the finalizer.
type ToolOutcome struct {
	Tool    string
	Success bool
	Summary string
}

// Metadata describes how a reply was produced, returned alongside the
// reply text.
type Metadata struct {
	Tier       Tier
	Model      string
	TokensUsed int
}

// apologyTR is the Turkish apology used whenever the finalizer fails
// and plan.assistantReply is unavailable.
const apologyTR = "Efendim, şu anda bu isteği tamamlayamıyorum."

// Pipeline builds finalization prompts, dispatches them to a tiered
// backend through a bounded worker pool, and applies the persona's
// voice-style transforms to the result.
type Pipeline struct {
	quality ChatClient
	fast    ChatClient
	policy  *TierPolicy
	style   VoiceStyle
	pool    *Pool
	metrics *metrics.Collector
	log     *slog.Logger
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithVoiceStyle overrides the default persona formatting.
func WithVoiceStyle(style VoiceStyle) Option {
	return func(p *Pipeline) { p.style = style }
}

// WithMetrics wires a metrics.Collector to receive finalize_ms.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// NewPipeline creates a Pipeline. quality may be nil (fast-only
// installation); fast must not be nil.
func NewPipeline(quality, fast ChatClient, policy *TierPolicy, pool *Pool, opts ...Option) *Pipeline {
	p := &Pipeline{
		quality: quality,
		fast:    fast,
		policy:  policy,
		style:   DefaultVoiceStyle(),
		pool:    pool,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) clientFor(tier Tier) ChatClient {
	if tier == TierQuality && p.quality != nil {
		return p.quality
	}
	return p.fast
}

// buildMessages assembles the finalizer's system+user prompt from the
// plan, verified tool outcomes, and persona constraints.
func buildMessages(plan router.Plan, outcomes []ToolOutcome) []FinalizeMessage {
	system := "Sen Efendim'e hizmet eden, sıcak ve öz konuşan bir Türkçe sesli asistansın. " +
		"En fazla bir kez 'Efendim' de. Kısa ve net cevap ver."

	var userBuf string
	userBuf += fmt.Sprintf("Rota: %s\n", plan.Route)
	if plan.AssistantReply != "" {
		userBuf += fmt.Sprintf("Taslak yanıt: %s\n", plan.AssistantReply)
	}
	if len(outcomes) > 0 {
		userBuf += "Araç sonuçları:\n"
		anyFailed := false
		for _, o := range outcomes {
			status := "başarılı"
			if !o.Success {
				status = "başarısız"
				anyFailed = true
			}
			userBuf += fmt.Sprintf("- %s (%s): %s\n", o.Tool, status, o.Summary)
		}
		if anyFailed {
			userBuf += "Bazı araçlar başarısız oldu; gerekirse kibarca özür dile veya eksik bilgiyi belirt.\n"
		}
	}

	return []FinalizeMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: userBuf},
	}
}

// Finalize selects a tier via TierPolicy, runs the finalizer call
// through the bounded pool, applies voice-style transforms, and
// returns the reply plus its metadata. On finalizer failure it falls
// back to plan.AssistantReply, else a Turkish apology. If ctx is
// cancelled before the pool slot runs, Finalize returns immediately
// with the cancellation reflected by ctx.Err().
func (p *Pipeline) Finalize(ctx context.Context, plan router.Plan, outcomes []ToolOutcome, intent string) (string, Metadata, error) {
	start := time.Now()
	decision := p.policy.Select(intent)
	client := p.clientFor(decision.Tier)

	messages := buildMessages(plan, outcomes)

	type result struct {
		resp FinalizeResponse
		err  error
	}
	respCh := make(chan result, 1)

	submitErr := p.pool.Submit(ctx, func(taskCtx context.Context) {
		resp, err := client.ChatDetailed(taskCtx, messages, 0.4, 512)
		respCh <- result{resp: resp, err: err}
	})

	var meta Metadata
	meta.Tier = decision.Tier

	var reply string
	var finalizeErr error

	if submitErr != nil {
		finalizeErr = submitErr
	} else {
		select {
		case <-ctx.Done():
			finalizeErr = ctx.Err()
		case r := <-respCh:
			if r.err != nil {
				finalizeErr = r.err
			} else {
				reply = r.resp.Content
				meta.Model = r.resp.Model
				meta.TokensUsed = r.resp.TokensUsed
			}
		}
	}

	if finalizeErr != nil {
		p.log.Warn("finalize: backend failed, falling back", "tier", decision.Tier, "reason", decision.Reason, "error", finalizeErr)
		if plan.AssistantReply != "" {
			reply = plan.AssistantReply
		} else {
			reply = apologyTR
		}
	}

	reply = p.style.Apply(reply)

	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0
	if p.metrics != nil {
		p.metrics.Record("metrics.finalize_ms", elapsedMs, "ms", map[string]string{
			"tier":   string(decision.Tier),
			"reason": decision.Reason,
		})
	}

	return reply, meta, finalizeErr
}

// Pool is a bounded worker pool for finalizer calls: at most size
// calls run concurrently, backpressure blocks Submit until a slot
// frees or ctx is cancelled. It registers itself for graceful
// shutdown so in-flight calls can drain before process exit.
type Pool struct {
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	draining bool
}

// NewPool creates a Pool with size concurrent slots.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit runs fn on the pool, blocking until a slot is available or
// ctx is cancelled. Returns an error if the pool is draining or ctx
// was already cancelled.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	p.mu.Lock()
	draining := p.draining
	p.mu.Unlock()
	if draining {
		return fmt.Errorf("finalize: pool is shutting down")
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		fn(ctx)
	}()
	return nil
}

// Shutdown marks the pool as draining (rejecting new Submit calls)
// and waits for in-flight calls to finish or ctx to expire. Suitable
// as an infra.ShutdownFunc.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
