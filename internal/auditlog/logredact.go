package auditlog

import (
	"log/slog"
	"regexp"
)

// Ambient process logs carry free-form diagnostic text rather than the
// audit trail's structured hash fields, so they get a broader redaction
// pass: everything RedactPII covers plus national IDs, card numbers,
// bearer credentials, and private key blocks.
var (
	tcKimlikRe   = regexp.MustCompile(`\b[1-9]\d{10}\b`)
	cardRe       = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
	bearerRe     = regexp.MustCompile(`(?i)\b(?:bearer|basic)\s+[A-Za-z0-9._+/=-]{8,}`)
	privateKeyRe = regexp.MustCompile(`-----BEGIN[A-Z ]*PRIVATE KEY-----(?s:.*?)-----END[A-Z ]*PRIVATE KEY-----`)
)

// RedactLogText scrubs one free-form log string. Specific patterns run
// before RedactPII so an 11-digit national ID or a 16-digit card is not
// swallowed by the generic phone mask first.
func RedactLogText(text string) string {
	if text == "" {
		return text
	}
	text = privateKeyRe.ReplaceAllString(text, "[PRIVATE_KEY]")
	text = cardRe.ReplaceAllString(text, "[CARD]")
	text = tcKimlikRe.ReplaceAllString(text, "[TCKN]")
	text = bearerRe.ReplaceAllString(text, "[CREDENTIAL]")
	return RedactPII(text)
}

// RedactAttr is a slog HandlerOptions.ReplaceAttr hook that scrubs every
// string attribute value through RedactLogText before it is written.
func RedactAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		a.Value = slog.StringValue(RedactLogText(a.Value.String()))
	}
	return a
}
