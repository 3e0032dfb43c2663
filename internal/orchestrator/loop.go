package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/auditlog"
	"github.com/miclaldogan/bantz-sub008/internal/finalize"
	"github.com/miclaldogan/bantz-sub008/internal/fsm"
	"github.com/miclaldogan/bantz-sub008/internal/permission"
	"github.com/miclaldogan/bantz-sub008/internal/planverify"
	"github.com/miclaldogan/bantz-sub008/internal/registry"
	"github.com/miclaldogan/bantz-sub008/internal/router"
	"github.com/miclaldogan/bantz-sub008/internal/runtracker"
	"github.com/miclaldogan/bantz-sub008/internal/safety"
	"github.com/miclaldogan/bantz-sub008/internal/toolexec"
	"github.com/miclaldogan/bantz-sub008/internal/tracing"
	"github.com/miclaldogan/bantz-sub008/internal/turn"
	"github.com/miclaldogan/bantz-sub008/internal/verify"
)

// confirmationTTL bounds how long a PendingConfirmation waits for its
// matching ResumeConfirmation call before the token is treated as
// expired on consumption. Matches the permission engine's own
// confirmation-token expiry so the stored entry and its JWT age out
// together.
const confirmationTTL = 5 * time.Minute

// WaitingConfirmation describes the single tool step a turn stopped on
// to ask the user for confirmation, surfaced to the caller so a voice
// or chat frontend can prompt for it.
type WaitingConfirmation struct {
	Tool               string
	ConfirmationToken  string
	ConfirmationPrompt string
}

// Output is what a turn produces, whichever phase it stopped at.
// TurnCancelled marks the empty-output sentinel a barge-in produces:
// the turn's token fired mid-flight and no partial reply was safe to
// emit.
type Output struct {
	Reply         string
	Plan          router.Plan
	ToolResults   []turn.Result
	Verify        verify.Result
	Metadata      finalize.Metadata
	FSMState      fsm.State
	Waiting       *WaitingConfirmation
	TurnNumber    int
	TurnCancelled bool
}

// ProcessTurn runs one full turn through Phases 0-6: turn start,
// planning, permission/confirmation gating, tool execution,
// verification, finalization, and session-state update. If a tool step
// needs a confirmation the user hasn't yet given, ProcessTurn stops
// early at Phase 2 with Output.Waiting populated; the caller resumes
// with ResumeConfirmation once it has the user's token.
func ProcessTurn(ctx context.Context, rt *Runtime, sessionID, userInput string, state *State) (Output, error) {
	turnNumber := state.NextTurnNumber()
	turnCtx := turn.New()

	ctx, turnSpan := rt.Tracer.StartTurn(ctx, sessionID, turnNumber)
	defer turnSpan.End()

	// Phase 0: turn start. A turn arriving while the FSM is mid-reply or
	// mid-execution is a barge-in; Bridge.OnTurnStart resets to IDLE
	// first and Bridge publishes the barge_in trigger itself.
	rt.BargeIn.StartTurn(turnCtx)
	fsmState := rt.Bridge.OnTurnStart(turnNumber)

	// Phase 1: planning.
	planCtx, planSpan := rt.Tracer.StartPhase(ctx, tracing.PhasePlan)
	recent := toRouterTurns(state.RecentConversation(3))
	sessionContext := state.SessionContext()
	memory := ""
	if rt.MemoryLookup != nil {
		memory = rt.MemoryLookup(userInput)
	}

	plan, err := rt.Router.Plan(planCtx, userInput, recent, sessionContext, memory)
	if err != nil {
		rt.Log.Warn("processTurn: router failed, using empty plan", "session", sessionID, "error", err)
		plan = router.EmptyPlan()
		tracing.RecordError(planSpan, err)
	}
	planSpan.End()

	if _, issues := planverify.VerifyPlan(plan.ToVerifyPlan(), userInput, rt.ValidTools, rt.Log); len(issues) > 0 {
		state.UpdateTrace("plan_verifier", issues)
		if hard := planverify.HardIssues(issues); len(hard) > 0 {
			rt.Log.Warn("processTurn: plan failed verification, degrading to no-tool reply",
				"session", sessionID, "issues", hard)
			plan.ToolPlan = nil
			plan.ToolPlanWithArgs = nil
			if plan.AssistantReply == "" {
				plan.AssistantReply = "Üzgünüm, isteğinizi tam olarak anlayamadım."
			}
		}
	}

	if len(plan.ToolPlanWithArgs) == 0 || (plan.AskUser && plan.Confidence < rt.ConfidenceThreshold) {
		fsmState = rt.Bridge.OnNoTools(turnNumber)
		reply := plan.Question
		if reply == "" {
			reply = plan.AssistantReply
		}
		if reply == "" {
			reply = "Üzgünüm, isteğinizi şu anda işleyemiyorum."
		}
		state.AddConversationTurn(ConversationTurn{User: userInput, Assistant: reply, TurnNumber: turnNumber, Timestamp: time.Now()})
		rt.BargeIn.FinishTurn(turnCtx.TurnID)
		fsmState = rt.Bridge.OnResponseDelivered(turnNumber)
		return Output{Reply: reply, Plan: plan, FSMState: fsmState, TurnNumber: turnNumber}, nil
	}

	fsmState = rt.Bridge.OnPlanReady(turnNumber)

	// Phase 2: permission/confirmation gate, then Phase 3: execution,
	// one tool step at a time and in plan order; steps never run in
	// parallel.
	for i, step := range plan.ToolPlanWithArgs {
		if turnCtx.IsCancelled() {
			break
		}

		gate, waiting := rt.gateStep(sessionID, turnNumber, step)
		if waiting != nil {
			fsmState = rt.Bridge.OnConfirmationRequired(turnNumber, map[string]any{"tool": step.Name})
			token := waiting.ConfirmationToken
			state.AddPendingConfirmation(PendingConfirmation{
				Tool:              step.Name,
				Args:              step.Args,
				ConfirmationToken: token,
				ExpiresAt:         time.Now().Add(confirmationTTL),
			})
			rt.BargeIn.FinishTurn(turnCtx.TurnID)
			return Output{
				Plan:       plan,
				FSMState:   fsmState,
				Waiting:    waiting,
				TurnNumber: turnNumber,
			}, nil
		}

		toolCtx, toolSpan := rt.Tracer.StartTool(ctx, step.Name)
		result := rt.executeStep(toolCtx, turnCtx, step, gate, i)
		if result.Error != "" {
			tracing.RecordError(toolSpan, fmt.Errorf("%s", result.Error))
		}
		toolSpan.End()
		turnCtx.AddToolResult(result)
		rt.publishAndAudit(toolCtx, sessionID, turnNumber, step, gate, result)
	}

	rt.Bridge.OnToolsComplete(turnNumber)

	return rt.finishTurn(ctx, finishArgs{
		turnCtx:    turnCtx,
		state:      state,
		sessionID:  sessionID,
		userInput:  userInput,
		plan:       plan,
		turnNumber: turnNumber,
	})
}

// ResumeConfirmation completes a turn that stopped at Phase 2 awaiting
// a confirmation token: it consumes the matching PendingConfirmation,
// verifies the token, executes exactly that tool, and runs Phases 4-6
// on the single-tool result.
func ResumeConfirmation(ctx context.Context, rt *Runtime, sessionID, userInput string, state *State, confirmationToken string) (Output, error) {
	pending, ok := state.ConsumePendingConfirmation(confirmationToken)
	if !ok {
		return Output{}, fmt.Errorf("orchestrator: no pending confirmation matches token")
	}

	argsHash, _ := auditlog.HashValue(pending.Args)
	if err := rt.Permission.VerifyConfirmationToken(confirmationToken, pending.Tool, argsHash); err != nil {
		return Output{}, fmt.Errorf("orchestrator: confirmation token invalid: %w", err)
	}

	turnNumber := state.TurnNumber()
	turnCtx := turn.New()

	ctx, turnSpan := rt.Tracer.StartTurn(ctx, sessionID, turnNumber)
	defer turnSpan.End()

	rt.BargeIn.StartTurn(turnCtx)
	rt.Bridge.OnUserConfirmed(turnNumber)

	step := router.ToolStep{Name: pending.Tool, Args: pending.Args}
	action := rt.ActionFor(step.Name)
	classification := rt.Safety.Classify(action, safety.Context{})
	gate := stepGate{action: action, classification: classification, decision: permission.DecisionAllow}

	toolCtx, toolSpan := rt.Tracer.StartTool(ctx, step.Name)
	result := rt.executeStep(toolCtx, turnCtx, step, gate, 0)
	if result.Error != "" {
		tracing.RecordError(toolSpan, fmt.Errorf("%s", result.Error))
	}
	toolSpan.End()
	turnCtx.AddToolResult(result)
	rt.publishAndAudit(toolCtx, sessionID, turnNumber, step, gate, result)

	rt.Bridge.OnToolsComplete(turnNumber)

	plan := router.Plan{Route: "unknown", ToolPlan: []string{pending.Tool}}

	return rt.finishTurn(ctx, finishArgs{
		turnCtx:    turnCtx,
		state:      state,
		sessionID:  sessionID,
		userInput:  userInput,
		plan:       plan,
		turnNumber: turnNumber,
	})
}

// stepGate is the outcome of gating a single tool step: its classified
// action, safety classification, and permission decision.
type stepGate struct {
	action         string
	classification safety.Classification
	decision       permission.Decision
}

// gateStep classifies and evaluates one tool step. If it needs a
// confirmation the caller hasn't supplied yet, it issues a fresh token
// and returns it as waiting instead of a gate the caller can execute
// against.
func (rt *Runtime) gateStep(sessionID string, turnNumber int, step router.ToolStep) (stepGate, *WaitingConfirmation) {
	action := rt.ActionFor(step.Name)
	classification := rt.Safety.Classify(action, safety.Context{})
	decision := rt.Permission.Evaluate(sessionID, step.Name, action)

	// A guardrail hit only ever tightens the decision: Blocked forces
	// Deny, ConfirmationRequired upgrades Allow to Confirm. A
	// ConfirmationRequired hit on a decision that is already Confirm or
	// Deny (including a rate-limit Deny) changes nothing, since both are
	// at least as strict.
	if cmd, ok := commandArg(step.Args); ok {
		grResult := safety.Check(cmd)
		if grResult.Blocked {
			decision = permission.DecisionDeny
		} else if grResult.ConfirmationRequired && decision == permission.DecisionAllow {
			decision = permission.DecisionConfirm
		}
	}

	// An explicit Allow rule is the policy owner's word for medium-risk
	// actions, but registry-flagged tools and high-risk classifications
	// still confirm regardless.
	if decision == permission.DecisionAllow {
		if tool, found := rt.Registry.Get(step.Name); found && tool.RequiresConfirmation {
			decision = permission.DecisionConfirm
		} else if classification.Level >= safety.LevelHigh {
			decision = permission.DecisionConfirm
		}
	}

	gate := stepGate{action: action, classification: classification, decision: decision}

	if decision != permission.DecisionConfirm {
		return gate, nil
	}

	argsHash, _ := auditlog.HashValue(step.Args)
	token, err := rt.Permission.IssueConfirmationToken(step.Name, argsHash)
	if err != nil {
		rt.Log.Error("gateStep: failed to issue confirmation token", "tool", step.Name, "error", err)
		return gate, nil
	}

	return gate, &WaitingConfirmation{
		Tool:               step.Name,
		ConfirmationToken:  token,
		ConfirmationPrompt: fmt.Sprintf("%s işlemini onaylıyor musunuz?", step.Name),
	}
}

// commandArg extracts a shell-like "command" argument from args, if
// present, for guardrail scanning.
func commandArg(args map[string]any) (string, bool) {
	v, ok := args["command"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// executeStep runs (or rejects) a single tool step, always returning a
// stamped turn.Result, never a bare error - denial and safety rejection
// are themselves valid terminal outcomes for a step.
func (rt *Runtime) executeStep(ctx context.Context, turnCtx *turn.Context, step router.ToolStep, gate stepGate, index int) turn.Result {
	if gate.decision == permission.DecisionDeny {
		return turn.Result{
			Tool:           step.Name,
			Success:        false,
			Error:          "denied by permission engine",
			SafetyRejected: true,
			StepIndex:      index,
		}
	}

	tool, found := rt.Registry.Get(step.Name)
	if !found {
		return turn.Result{Tool: step.Name, Success: false, Error: "unknown tool", StepIndex: index}
	}

	if err := registry.ValidateArgs(tool, step.Args); err != nil {
		return turn.Result{Tool: step.Name, Success: false, Error: "invalid arguments: " + err.Error(), StepIndex: index}
	}

	task := toolexec.Task(func(taskCtx context.Context) (any, error) {
		return tool.Call(taskCtx, step.Args)
	})

	execResult := rt.ToolExec.Execute(ctx, step.Name, task, 0)

	return turn.Result{
		Tool:        execResult.Tool,
		Success:     execResult.Success,
		Value:       execResult.Value,
		Error:       execResult.Error,
		ElapsedMs:   int64(execResult.ElapsedMs),
		TimedOut:    execResult.TimedOut,
		CircuitOpen: execResult.CircuitOpen,
		StepIndex:   index,
	}
}

// publishAndAudit emits the tool.executed event and writes the audit
// trail entry for one executed step. ctx's active span (if any) is
// recorded on the audit line so it can be correlated back to a trace.
func (rt *Runtime) publishAndAudit(ctx context.Context, sessionID string, turnNumber int, step router.ToolStep, gate stepGate, result turn.Result) {
	rt.Bus.Publish("tool.executed", map[string]any{
		"tool":       result.Tool,
		"success":    result.Success,
		"elapsed_ms": result.ElapsedMs,
	}, "orchestrator")

	traceID, spanID := tracing.IDs(ctx)
	rt.Metrics.Record("tool_latency_ms", float64(result.ElapsedMs), "ms", map[string]string{
		"tool":     result.Tool,
		"success":  fmt.Sprintf("%t", result.Success),
		"trace_id": traceID,
	})

	argsHash, _ := auditlog.HashValue(step.Args)
	resultHash, _ := auditlog.HashValue(result.Value)
	success := result.Success
	latency := float64(result.ElapsedMs)
	tn := turnNumber

	var extra map[string]any
	if traceID != "" {
		extra = map[string]any{"trace_id": traceID, "span_id": spanID}
	}

	_ = rt.Audit.Log(auditlog.Event{
		EventType:      auditlog.EventToolCall,
		Timestamp:      time.Now(),
		Tool:           result.Tool,
		ArgsHash:       argsHash,
		Decision:       string(gate.decision),
		DecisionReason: gate.classification.Reason,
		ResultHash:     resultHash,
		Success:        &success,
		SessionID:      sessionID,
		TurnNumber:     &tn,
		LatencyMs:      &latency,
		RiskLevel:      gate.classification.Level.String(),
		Extra:          extra,
	})
}

// finishArgs bundles Phases 4-6's inputs so ProcessTurn and
// ResumeConfirmation can share one tail.
type finishArgs struct {
	turnCtx    *turn.Context
	state      *State
	sessionID  string
	userInput  string
	plan       router.Plan
	turnNumber int
}

// finishTurn runs Phase 4 (verify), Phase 5 (finalize), and Phase 6
// (state update) against whatever tool results the turn accumulated.
func (rt *Runtime) finishTurn(ctx context.Context, a finishArgs) (Output, error) {
	toolResults := a.turnCtx.ToolResults()

	verifyInputs := make([]verify.ToolResult, 0, len(toolResults))
	for _, r := range toolResults {
		verifyInputs = append(verifyInputs, verify.ToolResult{
			Tool:           r.Tool,
			Success:        r.Success,
			Result:         r.Value,
			Error:          r.Error,
			SafetyRejected: r.SafetyRejected,
		})
	}

	verifyCtx, verifySpan := rt.Tracer.StartPhase(ctx, tracing.PhaseVerify)
	retryFn := rt.makeRetryFn(verifyCtx, a.plan)
	verifyResult := verify.VerifyToolResults(verifyInputs, verify.DefaultConfig(), retryFn, rt.Log)
	a.state.UpdateTrace("verify", verifyResult.TraceLine())
	verifySpan.End()

	intent := finalizeIntent(a.plan)

	var reply string
	var meta finalize.Metadata
	if a.turnCtx.IsCancelled() {
		reply = ""
	} else {
		finalizeCtx, finalizeSpan := rt.Tracer.StartPhase(ctx, tracing.PhaseFinalize)
		outcomes := make([]finalize.ToolOutcome, 0, len(verifyResult.VerifiedResults))
		for _, vr := range verifyResult.VerifiedResults {
			outcomes = append(outcomes, finalize.ToolOutcome{
				Tool:    vr.Tool,
				Success: vr.Success,
				Summary: summarizeResult(vr),
			})
		}
		var err error
		reply, meta, err = rt.Finalize.Finalize(finalizeCtx, a.plan, outcomes, intent)
		if err != nil {
			rt.Log.Warn("finishTurn: finalize returned an error alongside its fallback reply", "error", err)
			tracing.RecordError(finalizeSpan, err)
		}
		finalizeSpan.End()
	}

	decision := rt.TierPolicy.Select(intent)
	a.state.UpdateTrace("response_tier", string(meta.Tier))
	a.state.UpdateTrace("finalizer_used", meta.Model)
	a.state.UpdateTrace("response_tier_reason", decision.Reason)

	cancelled := a.turnCtx.IsCancelled()
	if !cancelled {
		a.state.AddConversationTurn(ConversationTurn{
			User:       a.userInput,
			Assistant:  reply,
			TurnNumber: a.turnNumber,
			Timestamp:  time.Now(),
		})
	}
	rt.BargeIn.FinishTurn(a.turnCtx.TurnID)
	fsmState := rt.Bridge.OnResponseDelivered(a.turnNumber)

	if rt.MemoryUpdate != nil && a.plan.MemoryUpdate != "" {
		rt.MemoryUpdate(a.plan.MemoryUpdate)
	}

	rt.recordRun(a, intent, string(meta.Tier), verifyResult)

	return Output{
		Reply:         reply,
		Plan:          a.plan,
		ToolResults:   toolResults,
		Verify:        verifyResult,
		Metadata:      meta,
		FSMState:      fsmState,
		TurnNumber:    a.turnNumber,
		TurnCancelled: cancelled,
	}, nil
}

// recordRun writes one ledger row for the just-finished turn. RunTracker
// failures are logged, not propagated - the ledger is a debugging aid,
// never a condition for failing the turn itself.
func (rt *Runtime) recordRun(a finishArgs, intent, tier string, verifyResult verify.Result) {
	status := runtracker.StatusCompleted
	errMsg := ""
	switch {
	case a.turnCtx.IsCancelled():
		status = runtracker.StatusCancelled
	case verifyResult.ToolsFail > 0:
		status = runtracker.StatusFailed
		errMsg = fmt.Sprintf("%d tool(s) failed verification", verifyResult.ToolsFail)
	}

	run := runtracker.Run{
		ID:         a.turnCtx.TurnID,
		SessionID:  a.sessionID,
		TurnNumber: a.turnNumber,
		Intent:     intent,
		Tier:       tier,
		Status:     status,
		LatencyMs:  time.Since(a.turnCtx.StartedAt).Milliseconds(),
		Error:      errMsg,
		CreatedAt:  time.Now(),
	}
	if err := rt.RunTracker.Record(context.Background(), run); err != nil {
		rt.Log.Warn("recordRun: failed to persist run ledger entry", "session", a.sessionID, "error", err)
	}
}

// makeRetryFn builds verify's RetryFn closure: it re-executes the named
// tool with the args from plan.ToolPlanWithArgs, for the whitelisted
// subset the verifier decides is safe to retry once.
func (rt *Runtime) makeRetryFn(ctx context.Context, plan router.Plan) verify.RetryFn {
	argsByTool := make(map[string]map[string]any, len(plan.ToolPlanWithArgs))
	for _, step := range plan.ToolPlanWithArgs {
		argsByTool[step.Name] = step.Args
	}

	return func(toolName string, original verify.ToolResult) (verify.ToolResult, error) {
		tool, found := rt.Registry.Get(toolName)
		if !found {
			return original, fmt.Errorf("retry: unknown tool %s", toolName)
		}
		args := argsByTool[toolName]
		task := toolexec.Task(func(taskCtx context.Context) (any, error) {
			return tool.Call(taskCtx, args)
		})
		execResult := rt.ToolExec.Execute(ctx, toolName, task, 0)
		return verify.ToolResult{
			Tool:    toolName,
			Success: execResult.Success,
			Result:  execResult.Value,
			Error:   execResult.Error,
			Retried: true,
		}, nil
	}
}

// maxResultSummaryLen caps how much of a tool's payload the finalizer
// prompt quotes; a long listing must not crowd out the rest of the
// prompt.
const maxResultSummaryLen = 600

// summarizeResult renders a verified tool result into the short text
// the finalizer prompt quotes: the precomputed summary if one exists,
// else the error, else the payload itself as compact JSON.
func summarizeResult(vr verify.ToolResult) string {
	if vr.ResultSummary != "" {
		return truncateSummary(vr.ResultSummary)
	}
	if vr.Error != "" {
		return truncateSummary(vr.Error)
	}
	if vr.Result == nil {
		return ""
	}
	if s, ok := vr.Result.(string); ok {
		return truncateSummary(s)
	}
	raw, err := json.Marshal(vr.Result)
	if err != nil {
		return truncateSummary(fmt.Sprintf("%v", vr.Result))
	}
	return truncateSummary(string(raw))
}

func truncateSummary(s string) string {
	if len(s) <= maxResultSummaryLen {
		return s
	}
	return s[:maxResultSummaryLen] + "..."
}

// finalizeIntent derives the finalizer's intent key from a plan: the
// calendar/gmail intent when the route names one, else "none" for
// smalltalk/unknown routes.
func finalizeIntent(plan router.Plan) string {
	switch plan.Route {
	case "calendar":
		if plan.CalendarIntent != "" {
			return plan.CalendarIntent
		}
	case "gmail":
		if plan.GmailIntent != "" {
			return plan.GmailIntent
		}
	}
	return "none"
}

// toRouterTurns projects session ConversationTurn values onto the
// narrower shape the router's prompt builder consumes.
func toRouterTurns(turns []ConversationTurn) []router.ConversationTurn {
	out := make([]router.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, router.ConversationTurn{User: t.User, Assistant: t.Assistant})
	}
	return out
}
