package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`)
	apiKeyPattern = regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9_\-]{12,}\b`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
)

const maxErrorLength = 500

// RedactError scrubs credentials and personal data from backend error text
// before it is persisted as a record's last_error.
func RedactError(message string) string {
	redacted := bearerPattern.ReplaceAllString(message, "Bearer [redacted]")
	redacted = apiKeyPattern.ReplaceAllString(redacted, "[key_redacted]")
	redacted = emailPattern.ReplaceAllString(redacted, "[email_redacted]")
	redacted = cardPattern.ReplaceAllStringFunc(redacted, maskCardNumber)
	redacted = strings.TrimSpace(redacted)
	if len(redacted) > maxErrorLength {
		redacted = redacted[:maxErrorLength] + "..."
	}
	return redacted
}

func maskCardNumber(value string) string {
	digits := make([]rune, 0, len(value))
	for _, char := range value {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	if len(digits) < 8 {
		return "[card_redacted]"
	}
	return "**** " + string(digits[len(digits)-4:])
}
