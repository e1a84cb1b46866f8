package utils

import (
	"regexp"
	"strings"
)

var dsnPasswordRegex = regexp.MustCompile(`(:)([^:@/]+)(@)`)

// MaskDSN hides the password part of a connection string (postgres://, redis://, amqp://).
func MaskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
}

// MaskToken keeps a short prefix of a credential so operators can tell tokens apart in logs.
// Values of eight characters or fewer are fully masked.
func MaskToken(token string) string {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return ""
	case len(token) <= 8:
		return "***"
	default:
		return token[:4] + "***"
	}
}
