package logutil

import (
	"strings"

	"go.uber.org/zap"
)

// SanitizeForLog strips newlines and control characters from user-provided
// strings (paths, host names) so they cannot forge extra log entries.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 127:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Path is a zap field carrying a sanitized path.
func Path(key, p string) zap.Field {
	return zap.String(key, SanitizeForLog(p))
}
