package auth

import (
	"strings"
	"unicode"

	"mailoreply.ai/platform/internal/apperr"
)

const (
	minPasswordLen = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

type passwordRule struct {
	name  string
	match func(rune) bool
}

var passwordRules = []passwordRule{
	{"an uppercase letter", unicode.IsUpper},
	{"a lowercase letter", unicode.IsLower},
	{"a number", unicode.IsNumber},
	{"a special character", func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }},
}

// ValidatePassword enforces the sign-up policy. All unmet character rules are
// reported in one message.
func ValidatePassword(password string) error {
	if len([]rune(password)) < minPasswordLen {
		return apperr.Validation("Password must be at least 8 characters long")
	}
	if len(password) > maxPasswordBytes {
		return apperr.Validation("Password must not exceed 72 bytes")
	}

	var missing []string
	for _, rule := range passwordRules {
		if strings.IndexFunc(password, rule.match) < 0 {
			missing = append(missing, rule.name)
		}
	}
	if len(missing) > 0 {
		return apperr.Validation("Password must contain " + strings.Join(missing, ", "))
	}
	return nil
}
