// Package requestid generates and sanitizes request identifiers for the
// HTTP frontend's logs.
package requestid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxRequestIDLength caps request ids at UUID length.
const MaxRequestIDLength = 36

var sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// Sanitize returns a log-safe request id. A caller-supplied id is
// stripped down to [a-zA-Z0-9-] and truncated; an empty or unusable id
// is replaced with a fresh UUID.
func Sanitize(customID string) string {
	cleaned := strings.ReplaceAll(customID, " ", "-")
	cleaned = sanitizeRegex.ReplaceAllString(cleaned, "")
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return uuid.NewString()
	}
	if len(cleaned) > MaxRequestIDLength {
		cleaned = cleaned[:MaxRequestIDLength]
	}
	return cleaned
}
