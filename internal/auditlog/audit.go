// Package auditlog implements an append-only JSONL audit trail with
// PII redaction and size-based rotation. The numbered-suffix rotation
// scheme (.jsonl.1 .. .jsonl.N, oldest dropped) is hand-rolled rather
// than delegated to gopkg.in/natefinch/lumberjack.v2 so existing audit
// archives using this naming convention remain readable after an
// upgrade; lumberjack handles the ambient slog file sink in cmd/bantzd
// instead, where no such constraint applies.
package auditlog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an AuditEvent.
type EventType string

const (
	EventToolCall           EventType = "tool_call"
	EventPermissionDecision EventType = "permission_decision"
	EventUserConfirmation   EventType = "user_confirmation"
	EventMemoryWrite        EventType = "memory_write"
	EventError              EventType = "error"
	EventSessionStart       EventType = "session_start"
	EventSessionEnd         EventType = "session_end"
)

// exemptKeys are never redacted because they hold structured, non-PII
// data (timestamps, hashes) rather than free text.
var exemptKeys = map[string]bool{
	"timestamp":   true,
	"event_type":  true,
	"args_hash":   true,
	"result_hash": true,
}

// Event is a single audit record. Fields are emitted compactly: absent
// (zero-value) optional fields are omitted from the serialized line.
type Event struct {
	ID             string         `json:"id,omitempty"`
	EventType      EventType      `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	Tool           string         `json:"tool,omitempty"`
	ArgsHash       string         `json:"args_hash,omitempty"`
	Decision       string         `json:"decision,omitempty"`
	DecisionReason string         `json:"decision_reason,omitempty"`
	UserConfirmed  *bool          `json:"user_confirmed,omitempty"`
	LatencyMs      *float64       `json:"latency_ms,omitempty"`
	ResultHash     string         `json:"result_hash,omitempty"`
	Success        *bool          `json:"success,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	TurnNumber     *int           `json:"turn_number,omitempty"`
	RiskLevel      string         `json:"risk_level,omitempty"`
	Message        string         `json:"message,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// HashValue returns "sha256:" followed by the first 16 hex characters of
// the SHA-256 digest of v's JSON-serialized, key-sorted form. Used to
// fingerprint tool args/results in an audit line without storing the
// plaintext payload.
func HashValue(v any) (string, error) {
	canon, err := canonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canon))
	return "sha256:" + hex.EncodeToString(sum[:])[:16], nil
}

// canonicalJSON serializes v with map keys sorted so the same logical
// value always hashes the same way regardless of field ordering.
func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		// Not JSON-shaped (e.g. a plain string); hash its direct form.
		return string(raw), nil
	}
	sorted, err := json.Marshal(sortKeys(generic))
	if err != nil {
		return "", err
	}
	return string(sorted), nil
}

func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortKeys(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sortKeys(item)
		}
		return out
	default:
		return v
	}
}

// ── PII redaction ────────────────────────────────────────────────────

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+\d{1,3}[-\s]?)?\(?\d{3}\)?[-\s]?\d{3}[-\s]?\d{4}`)
	tokenRe = regexp.MustCompile(`(?i)(?:token|secret|api[_-]?key|password|passwd|şifre|parola|auth[_-]?token)\s*[:=]\s*\S+`)
	pathRe  = regexp.MustCompile(`/home/[a-zA-Z0-9_.]+/`)
)

// RedactPII scrubs email addresses, phone numbers, token/secret
// assignments, and home-directory paths from text.
func RedactPII(text string) string {
	if text == "" {
		return text
	}
	text = emailRe.ReplaceAllStringFunc(text, redactEmail)
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	text = tokenRe.ReplaceAllString(text, "[REDACTED]")
	text = pathRe.ReplaceAllString(text, "~/.../")
	return text
}

func redactEmail(match string) string {
	local, domain, ok := strings.Cut(match, "@")
	if !ok || local == "" {
		return "[EMAIL]"
	}
	tld := "com"
	if idx := strings.LastIndex(domain, "."); idx >= 0 && idx+1 < len(domain) {
		tld = domain[idx+1:]
	}
	return fmt.Sprintf("%c***@***.%s", local[0], tld)
}

// redactValue recursively redacts string values in maps/slices, leaving
// exemptKeys untouched.
func redactValue(key string, v any) any {
	if exemptKeys[key] {
		return v
	}
	switch t := v.(type) {
	case string:
		return RedactPII(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = redactValue(k, val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue("", item)
		}
		return out
	default:
		return v
	}
}

// ── Logger ───────────────────────────────────────────────────────────

// Logger is an append-only JSONL audit logger with redaction and
// size-based rotation. Writes and rotation hold a single mutex so the
// file is only ever touched by one goroutine at a time.
type Logger struct {
	mu         sync.Mutex
	path       string
	maxBytes   int64
	maxBackups int
	redact     bool
}

// Config configures a Logger.
type Config struct {
	Path       string
	MaxBytes   int64 // default 50 MiB
	MaxBackups int   // default 5
	Redact     bool  // zero value disables redaction
}

// New creates a Logger, ensuring the parent directory exists.
func New(cfg Config) (*Logger, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 50 * 1024 * 1024
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Logger{
		path:       cfg.Path,
		maxBytes:   cfg.MaxBytes,
		maxBackups: cfg.MaxBackups,
		redact:     cfg.Redact,
	}, nil
}

// Log appends event to the audit file, applying PII redaction unless the
// logger was configured with Redact=false.
func (l *Logger) Log(event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var line []byte
	if l.redact {
		var generic map[string]any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		redacted := make(map[string]any, len(generic))
		for k, v := range generic {
			redacted[k] = redactValue(k, v)
		}
		line, err = json.Marshal(redacted)
		if err != nil {
			return err
		}
	} else {
		line = raw
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.maybeRotate(); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// maybeRotate shifts .jsonl.N → .jsonl.N+1 (dropping the oldest) and
// moves the current file to .jsonl.1 when it has grown past maxBytes.
// Caller must hold l.mu.
func (l *Logger) maybeRotate() error {
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < l.maxBytes {
		return nil
	}

	for i := l.maxBackups; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", l.path, i)
		dst := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if i == l.maxBackups {
			if err := os.Remove(src); err != nil {
				return err
			}
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}

	return os.Rename(l.path, l.path+".1")
}

// Tail returns the last n events, newest last.
func (l *Logger) Tail(n int) ([]Event, error) {
	lines, err := l.readLines()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return parseLines(lines)
}

// SearchQuery narrows Search.
type SearchQuery struct {
	Query     string
	EventType EventType
	Since     time.Duration
	Limit     int
}

// Search scans the audit log newest-first, returning up to q.Limit
// matching events.
func (l *Logger) Search(q SearchQuery) ([]Event, error) {
	lines, err := l.readLines()
	if err != nil {
		return nil, err
	}

	var cutoff time.Time
	if q.Since > 0 {
		cutoff = time.Now().Add(-q.Since)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []Event
	for i := len(lines) - 1; i >= 0 && len(out) < limit; i-- {
		var raw map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &raw); err != nil {
			continue
		}
		if q.EventType != "" {
			if et, _ := raw["event_type"].(string); et != string(q.EventType) {
				continue
			}
		}
		if !cutoff.IsZero() {
			ts, _ := raw["timestamp"].(string)
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil || parsed.Before(cutoff) {
				continue
			}
		}
		if q.Query != "" && !strings.Contains(strings.ToLower(lines[i]), strings.ToLower(q.Query)) {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(lines[i]), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (l *Logger) readLines() ([]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func parseLines(lines []string) ([]Event, error) {
	out := make([]Event, 0, len(lines))
	for _, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// backupIndex extracts N from a "<path>.N" backup filename, used only by
// tests to assert rotation ordering.
func backupIndex(name string) (int, error) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return 0, fmt.Errorf("not a backup name: %s", name)
	}
	return strconv.Atoi(name[idx+1:])
}
