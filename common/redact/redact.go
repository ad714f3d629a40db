// Package redact keeps credentials (the Gemini API key, the Matrix access
// token, the Sentry DSN) out of log output.
//
// Redaction is best-effort string replacement; it does not excuse logging a
// secret in the first place.
package redact

import (
	"log/slog"
	"strings"
)

const placeholder = "[REDACTED]"

// minSecretLen skips values short enough to match ordinary substrings.
const minSecretLen = 4

// String replaces every occurrence of each secret in s with [REDACTED].
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// sensitiveKeys are attribute-name fragments whose values are always hidden.
var sensitiveKeys = []string{"password", "token", "secret", "api_key", "apikey", "dsn", "authorization", "credential"}

// SensitiveKey reports whether an attribute name suggests a secret.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, w := range sensitiveKeys {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// ReplaceAttr returns a slog.HandlerOptions.ReplaceAttr function that hides
// the values of sensitive attributes and scrubs the given secrets from every
// string value, error included.
func ReplaceAttr(secrets ...string) func(groups []string, a slog.Attr) slog.Attr {
	kept := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if len(s) >= minSecretLen {
			kept = append(kept, s)
		}
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		if SensitiveKey(a.Key) {
			return slog.String(a.Key, placeholder)
		}
		if len(kept) == 0 {
			return a
		}
		switch a.Value.Kind() {
		case slog.KindString:
			return slog.String(a.Key, String(a.Value.String(), kept...))
		case slog.KindAny:
			if err, ok := a.Value.Any().(error); ok {
				return slog.String(a.Key, String(err.Error(), kept...))
			}
		}
		return a
	}
}

// Map returns a shallow copy of m with the string values of sensitive keys
// replaced.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok && s != "" && SensitiveKey(k) {
			out[k] = placeholder
			continue
		}
		out[k] = v
	}
	return out
}
