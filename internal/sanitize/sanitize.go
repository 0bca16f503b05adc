// Package sanitize redacts credentials and personal identifiers from data
// headed for the request log.  Secrets are redacted by key name; national ID
// and phone numbers are masked by pattern so they never land on disk in
// clear text.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	redacted = "***REDACTED***"
	maskedID = "***IDNUM***"
	maskedPh = "***PHONE***"
)

// sensitiveKeys are matched as substrings of lowercased key names.
var sensitiveKeys = []string{
	"password", "secret", "token", "key", "bearer", "authorization",
	"x-api-key", "x-ca-key", "x-ca-signature", "api_key", "app_secret",
	"facedata",
}

var sensitivePatterns = []struct {
	re   *regexp.Regexp
	mask string
}{
	// Phones run before the generic 10-digit ID pattern: a local mobile
	// number is 10 digits too and must mask as a phone, not an ID.
	{regexp.MustCompile(`\+9665\d{8}`), maskedPh},
	{regexp.MustCompile(`\b05\d{8}\b`), maskedPh},
	{regexp.MustCompile(`\b\d{14}\b`), maskedID}, // extended national ID numbers
	{regexp.MustCompile(`\b\d{10}\b`), maskedID}, // national ID numbers
}

const maxDepth = 10

// SensitiveKey reports whether a header or field name should have its value
// redacted entirely.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// String masks sensitive patterns inside a free-form string.
func String(s string) string {
	for _, p := range sensitivePatterns {
		s = p.re.ReplaceAllString(s, p.mask)
	}
	return s
}

// Value recursively sanitizes a decoded JSON value (maps, slices, strings).
// Non-string scalars pass through unchanged.
func Value(v any) any {
	return sanitizeValue(v, 0)
}

func sanitizeValue(v any, depth int) any {
	if depth > maxDepth {
		return "[MAX_DEPTH_REACHED]"
	}

	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if SensitiveKey(k) {
				out[k] = redacted
				continue
			}
			out[k] = sanitizeValue(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val, depth+1)
		}
		return out
	case string:
		return String(t)
	default:
		return v
	}
}
