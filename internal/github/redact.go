package github

import (
	"fmt"
	"regexp"
	"strings"
)

// RedactionMarker replaces any value that looks like a credential.
const RedactionMarker = "***REDACTED***"

// maxLoggedPayload bounds free-text fields in logs; anything longer is
// replaced with a length-only placeholder instead of being logged verbatim.
const maxLoggedPayload = 256

var secretFieldNames = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"access_token":  {},
	"api_key":       {},
	"apikey":        {},
	"secret":        {},
	"client_secret": {},
	"password":      {},
	"session":       {},
	"cookie":        {},
	"signature":     {},
}

var credentialExprs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbearer\s+\S+`),
	regexp.MustCompile(`(?i)\b(token|access_token|api_key|apikey|key|secret|client_secret|password|session)\s*[=:]\s*\S+`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{8,}\b`),
}

// Sanitize masks credential-shaped substrings in free text and replaces
// oversized payloads with a length-only placeholder.
func Sanitize(text string) string {
	if len(text) > maxLoggedPayload {
		return fmt.Sprintf("<redacted payload, length=%d>", len(text))
	}
	for _, expr := range credentialExprs {
		text = expr.ReplaceAllStringFunc(text, func(match string) string {
			if at := strings.IndexAny(match, "=:"); at >= 0 && !strings.HasPrefix(strings.ToLower(match), "bearer") {
				return match[:at+1] + RedactionMarker
			}
			return RedactionMarker
		})
	}
	return text
}

// SanitizeValue redacts a structured log value: known secret-bearing field
// names are replaced outright, nested maps are walked, and string values go
// through Sanitize.
func SanitizeValue(value any) any {
	switch typed := value.(type) {
	case string:
		return Sanitize(typed)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, inner := range typed {
			if _, secret := secretFieldNames[strings.ToLower(key)]; secret {
				out[key] = RedactionMarker
				continue
			}
			out[key] = SanitizeValue(inner)
		}
		return out
	case []string:
		out := make([]string, len(typed))
		for i, item := range typed {
			out[i] = Sanitize(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = SanitizeValue(item)
		}
		return out
	default:
		return value
	}
}

// SanitizeAttrs redacts alternating slog key/value pairs in place-safe copy.
func SanitizeAttrs(attrs ...any) []any {
	out := make([]any, len(attrs))
	for i := 0; i < len(attrs); i++ {
		if i%2 == 0 {
			out[i] = attrs[i]
			continue
		}
		key, _ := attrs[i-1].(string)
		if _, secret := secretFieldNames[strings.ToLower(key)]; secret {
			out[i] = RedactionMarker
			continue
		}
		out[i] = SanitizeValue(attrs[i])
	}
	return out
}
