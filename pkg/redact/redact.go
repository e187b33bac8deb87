package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe   = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	aadhaarRe = regexp.MustCompile(`\b\d{4}[\s\-]?\d{4}[\s\-]?\d{4}\b`)
	phoneRe   = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	panRe     = regexp.MustCompile(`\b[A-Z]{5}\d{4}[A-Z]\b`)
)

// SetEnabled toggles PII redaction for transcript logging.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails, Aadhaar and PAN numbers and phone numbers when
// enabled. Aadhaar runs before phone so 12-digit ids keep their label.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = aadhaarRe.ReplaceAllString(out, "[REDACTED_ID]")
	out = panRe.ReplaceAllString(out, "[REDACTED_ID]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}
