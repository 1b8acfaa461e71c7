package requestid

import (
	"strings"

	"github.com/google/uuid"
)

const Header = "X-Request-Id"

// New returns a 32 character hex request id.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Sanitize trims a caller supplied id and rejects values that are too long
// or contain characters unsafe for logs and headers.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 128 {
		return ""
	}
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return ""
		}
	}
	return raw
}
