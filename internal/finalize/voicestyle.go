package finalize

import (
	"regexp"
	"strings"
)

// emojiPatterns mirrors VoiceStyle.strip_emoji's non-overlapping
// Unicode block list.
var emojiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\x{1F600}-\x{1F64F}]`), // emoticons
	regexp.MustCompile(`[\x{1F300}-\x{1F5FF}]`), // symbols & pictographs
	regexp.MustCompile(`[\x{1F680}-\x{1F6FF}]`), // transport & map
	regexp.MustCompile(`[\x{1F900}-\x{1F9FF}]`), // supplemental symbols
	regexp.MustCompile(`[\x{2702}-\x{27B0}]`),   // dingbats
}

// sentenceSplitRe mirrors limit_sentences' split-on-punctuation regex.
var sentenceSplitRe = regexp.MustCompile(`(?:[.!?])\s+`)

// efendimRe matches a standalone "Efendim" occurrence, case-insensitive.
var efendimRe = regexp.MustCompile(`(?i)\befendim\b`)

// VoiceStyle applies the persona's deterministic output formatting:
// strip emoji, cap sentence count, and ensure "Efendim" appears at
// most once.
type VoiceStyle struct {
	StripEmoji   bool
	MaxSentences int
}

// DefaultVoiceStyle returns the baseline persona formatting: emoji
// stripped, capped at 2 sentences.
func DefaultVoiceStyle() VoiceStyle {
	return VoiceStyle{StripEmoji: true, MaxSentences: 2}
}

// Apply runs all configured transforms over text, in order: emoji
// strip, sentence cap, then single-Efendim enforcement.
func (v VoiceStyle) Apply(text string) string {
	out := text
	if v.StripEmoji {
		out = stripEmoji(out)
	}
	if v.MaxSentences > 0 {
		out = limitSentences(out, v.MaxSentences)
	}
	out = enforceSingleEfendim(out)
	return out
}

func stripEmoji(text string) string {
	if text == "" {
		return ""
	}
	out := text
	for _, p := range emojiPatterns {
		out = p.ReplaceAllString(out, "")
	}
	return strings.TrimSpace(out)
}

func limitSentences(text string, maxSentences int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || maxSentences < 1 {
		return trimmed
	}
	bounds := sentenceSplitRe.FindAllStringIndex(trimmed, -1)
	if len(bounds)+1 <= maxSentences {
		return trimmed
	}
	return trimmed[:bounds[maxSentences-1][0]+1]
}

// enforceSingleEfendim keeps only the first "Efendim" occurrence in
// text, removing any later repeats so the persona never says it more
// than once per response.
func enforceSingleEfendim(text string) string {
	count := 0
	out := efendimRe.ReplaceAllStringFunc(text, func(match string) string {
		count++
		if count == 1 {
			return match
		}
		return ""
	})
	return collapseSpaces(out)
}

var multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)

func collapseSpaces(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// NormalizeOrdinalList rewrites "1)"/"1-" style list markers at the
// start of a line to a canonical "1." form, matching the numbered
// list style JarvisVoice's menu formatters already use.
func NormalizeOrdinalList(text string) string {
	lines := strings.Split(text, "\n")
	re := regexp.MustCompile(`^(\s*)(\d{1,2})[)\-]\s*`)
	for i, line := range lines {
		lines[i] = re.ReplaceAllString(line, "$1$2. ")
	}
	return strings.Join(lines, "\n")
}

// Acknowledge prefixes message with "Efendim" if it is not already
// present, matching VoiceStyle.acknowledge.
func Acknowledge(message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return "Efendim"
	}
	if strings.HasPrefix(strings.ToLower(msg), "efendim") {
		return msg
	}
	lowered := strings.ToLower(msg[:1]) + msg[1:]
	return "Efendim, " + lowered
}
