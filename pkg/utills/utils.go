package utils

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"PolyChat/pkg/apperr"
)

// MinPasswordLength is the shortest password accepted at registration and
// on password change.
const MinPasswordLength = 6

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateEmail rejects empty or unparsable addresses.
func ValidateEmail(email string) error {
	if email == "" {
		return apperr.Validationf("Email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.Validationf("Email address is invalid")
	}
	return nil
}

// ValidatePassword checks length and, when confirm is non-nil, that both
// entries match.
func ValidatePassword(password string, confirm *string) error {
	if password == "" {
		return apperr.Validationf("Password is required")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperr.Validationf("Password must be at least %d characters", MinPasswordLength)
	}
	if confirm != nil && *confirm != password {
		return apperr.Validationf("Passwords do not match")
	}
	return nil
}
