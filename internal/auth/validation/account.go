package validation

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	apierr "github.com/victorgomez09/escuela/internal/auth"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const (
	maxEmailLength = 254
	maxNameLength  = 100
)

// NormalizeEmail trims and lower-cases an address. Accounts are keyed on the
// normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail expects an already normalized address.
func ValidateEmail(email string) error {
	if email == "" {
		return apierr.Validation("email is required")
	}
	if len(email) > maxEmailLength || !emailPattern.MatchString(email) {
		return apierr.Validation("email is not valid")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apierr.Validation("email is not valid")
	}
	return nil
}

// ValidateName checks a display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apierr.Validation("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return apierr.Validation("name is too long")
	}
	return nil
}
