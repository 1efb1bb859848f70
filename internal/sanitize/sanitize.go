// Package sanitize normalizes user-supplied identifiers into storage-safe
// tokens. Grouping keys and per-item identifiers share the same rules so a
// raw value always maps to exactly one durable key.
package sanitize

import "strings"

// FallbackKey is returned when sanitization leaves nothing usable.
const FallbackKey = "default"

// Sanitize lowercases the input, maps whitespace runs and disallowed
// characters to underscores, collapses repeated underscores, and trims
// leading and trailing underscores. An input that reduces to the empty
// string yields FallbackKey. The function is total and deterministic.
func Sanitize(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))

	var builder strings.Builder
	builder.Grow(len(lowered))

	previousUnderscore := false
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			previousUnderscore = false
		default:
			if !previousUnderscore {
				builder.WriteByte('_')
				previousUnderscore = true
			}
		}
	}

	result := strings.Trim(builder.String(), "_")
	if result == "" {
		return FallbackKey
	}
	return result
}

// IsSanitized reports whether the value is already in canonical form.
// Configuration layers use this to fail fast on unsanitized grouping keys.
func IsSanitized(value string) bool {
	return value != "" && value == Sanitize(value)
}
