// Package verify implements the verification phase that sits between
// tool execution and finalization: it flags empty/error tool results,
// retries a whitelisted subset once, and never retries safety-rejected
// results.
package verify

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ToolResult is the shape of a single tool's execution output as seen
// by the verify phase.
type ToolResult struct {
	Tool           string
	Success        bool
	Result         any
	RawResult      any
	ResultSummary  string
	Error          string
	SafetyRejected bool
	Blocked        bool
	Retried        bool
}

// Config configures the verification phase.
type Config struct {
	MaxRetries      int
	RetryEmpty      bool
	RetryErrors     bool
	RetryableTools  map[string]bool
	ValidEmptyTools map[string]bool
}

// retryableTools mirrors VerifyConfig.retryable_tools.
var retryableTools = map[string]bool{
	"calendar.list_events":     true,
	"calendar.find_free_slots": true,
	"gmail.list_messages":      true,
	"gmail.unread_count":       true,
	"gmail.get_message":        true,
	"gmail.smart_search":       true,
	"gmail.list_drafts":        true,
	"gmail.list_labels":        true,
	"gmail.query_from_nl":      true,
	"contacts.list":            true,
	"contacts.resolve":         true,
	"time.now":                 true,
	"system.status":            true,
}

// validEmptyTools mirrors VerifyConfig.valid_empty_tools.
var validEmptyTools = map[string]bool{
	"calendar.list_events":     true,
	"calendar.find_free_slots": true,
	"gmail.list_messages":      true,
	"gmail.smart_search":       true,
	"gmail.list_drafts":        true,
	"gmail.list_labels":        true,
	"contacts.list":            true,
}

// DefaultConfig returns the default verification configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      1,
		RetryEmpty:      true,
		RetryErrors:     true,
		RetryableTools:  retryableTools,
		ValidEmptyTools: validEmptyTools,
	}
}

// ToolVerification is the per-tool outcome of verification.
type ToolVerification struct {
	ToolName        string
	OriginalSuccess bool
	IsEmpty         bool
	IsError         bool
	Retried         bool
	RetrySuccess    bool
	FinalSuccess    bool
	ErrorMessage    string
}

// Result is the aggregate outcome for a turn's tool results.
type Result struct {
	Verified          bool
	ToolsOK           int
	ToolsRetry        int
	ToolsFail         int
	ToolVerifications []ToolVerification
	VerifiedResults   []ToolResult
	ElapsedMs         int64
}

// TraceLine renders the verify phase's one-line trace record.
func (r Result) TraceLine() string {
	return fmt.Sprintf("[verify] verified=%t tools_ok=%d tools_retry=%d tools_fail=%d elapsed=%dms",
		r.Verified, r.ToolsOK, r.ToolsRetry, r.ToolsFail, r.ElapsedMs)
}

func isEmptyResult(r ToolResult) bool {
	raw := r.Result
	if raw == nil {
		raw = r.RawResult
	}
	if raw == nil && r.ResultSummary == "" {
		return true
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

func isSafetyRejected(r ToolResult) bool {
	if r.SafetyRejected || r.Blocked {
		return true
	}
	e := strings.ToLower(r.Error)
	return strings.Contains(e, "safety") || strings.Contains(e, "blocked")
}

func isErrorResult(r ToolResult) bool {
	return !r.Success || r.Error != ""
}

// RetryFn retries a failed/empty tool call, returning a fresh result.
type RetryFn func(toolName string, original ToolResult) (ToolResult, error)

// VerifyToolResults verifies toolResults per cfg, invoking retryFn (if
// non-nil) at most once per retryable failing/empty tool.
func VerifyToolResults(toolResults []ToolResult, cfg Config, retryFn RetryFn, log *slog.Logger) Result {
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()

	var ok, retried, failed int
	var verifications []ToolVerification
	var verified []ToolResult

	for _, result := range toolResults {
		toolName := result.Tool
		if toolName == "" {
			toolName = "unknown"
		}
		tv := ToolVerification{ToolName: toolName}

		empty := isEmptyResult(result)
		errored := isErrorResult(result)
		tv.IsEmpty = empty
		tv.IsError = errored
		tv.OriginalSuccess = !errored

		if empty && !errored && cfg.ValidEmptyTools[toolName] {
			tv.FinalSuccess = true
			verified = append(verified, result)
			ok++
			verifications = append(verifications, tv)
			continue
		}

		if isSafetyRejected(result) {
			tv.FinalSuccess = false
			tv.ErrorMessage = "safety_rejected, not retriable"
			verified = append(verified, result)
			failed++
			verifications = append(verifications, tv)
			continue
		}

		needsRetry := ((empty && cfg.RetryEmpty) || (errored && cfg.RetryErrors)) && cfg.MaxRetries > 0 && retryFn != nil
		canRetry := cfg.RetryableTools[toolName]

		switch {
		case needsRetry && canRetry:
			tv.Retried = true
			retried++
			newResult, err := retryFn(toolName, result)
			if err != nil {
				tv.RetrySuccess = false
				tv.FinalSuccess = false
				tv.ErrorMessage = err.Error()
				verified = append(verified, result)
				failed++
				break
			}
			newErrored := isErrorResult(newResult)
			newEmpty := isEmptyResult(newResult)
			if !newErrored && !newEmpty {
				tv.RetrySuccess = true
				tv.FinalSuccess = true
				newResult.Retried = true
				verified = append(verified, newResult)
				ok++
			} else {
				tv.RetrySuccess = false
				tv.FinalSuccess = false
				tv.ErrorMessage = newResult.Error
				if tv.ErrorMessage == "" {
					tv.ErrorMessage = "retry failed"
				}
				verified = append(verified, result)
				failed++
			}

		case empty || errored:
			tv.FinalSuccess = false
			tv.ErrorMessage = result.Error
			if tv.ErrorMessage == "" {
				tv.ErrorMessage = "empty result"
			}
			verified = append(verified, result)
			failed++

		default:
			tv.FinalSuccess = true
			verified = append(verified, result)
			ok++
		}

		verifications = append(verifications, tv)
	}

	elapsed := time.Since(start).Milliseconds()
	allOK := failed == 0

	res := Result{
		Verified:          allOK,
		ToolsOK:           ok,
		ToolsRetry:        retried,
		ToolsFail:         failed,
		ToolVerifications: verifications,
		VerifiedResults:   verified,
		ElapsedMs:         elapsed,
	}

	if allOK {
		log.Debug(res.TraceLine())
	} else {
		log.Warn(res.TraceLine())
	}

	return res
}
