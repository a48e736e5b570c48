package validation

import (
	"strings"
	"unicode"

	apierr "github.com/victorgomez09/escuela/internal/auth"
)

var (
	ErrPasswordTooShort = apierr.Validation("password is too short")
	ErrPasswordTooLong  = apierr.Validation("password is too long")
	ErrMissingUppercase = apierr.Validation("password must contain at least one uppercase letter")
	ErrMissingLowercase = apierr.Validation("password must contain at least one lowercase letter")
	ErrMissingNumber    = apierr.Validation("password must contain at least one number")
	ErrMissingSpecial   = apierr.Validation("password must contain at least one special character")
	ErrContainsEmail    = apierr.Validation("password cannot contain the email name")
	ErrCommonPassword   = apierr.Validation("password is too common")
	ErrConsecutiveChars = apierr.Validation("password contains too many repeated characters")
)

type PasswordPolicy struct {
	MinLength         int  `yaml:"min_length"`
	MaxLength         int  `yaml:"max_length"`
	RequireUppercase  bool `yaml:"require_uppercase"`
	RequireLowercase  bool `yaml:"require_lowercase"`
	RequireNumbers    bool `yaml:"require_numbers"`
	RequireSpecial    bool `yaml:"require_special"`
	MaxRepeatingChars int  `yaml:"max_repeating_chars"`
	PreventEmailPart  bool `yaml:"prevent_email_part"`
}

// DefaultPasswordPolicy mirrors the rules the site has always enforced:
// 8 characters minimum with every character class present. The upper bound is
// the bcrypt input limit.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:         8,
		MaxLength:         72,
		RequireUppercase:  true,
		RequireLowercase:  true,
		RequireNumbers:    true,
		RequireSpecial:    true,
		MaxRepeatingChars: 4,
		PreventEmailPart:  true,
	}
}

type PasswordValidator struct {
	policy PasswordPolicy
}

func NewPasswordValidator(policy PasswordPolicy) *PasswordValidator {
	if policy.MaxLength == 0 || policy.MaxLength > 72 {
		policy.MaxLength = 72
	}
	return &PasswordValidator{
		policy: policy,
	}
}

// ValidatePassword checks password against the policy. email is used to
// reject passwords that embed the mailbox name.
func (v *PasswordValidator) ValidatePassword(password string, email string) error {
	if len([]rune(password)) < v.policy.MinLength {
		return ErrPasswordTooShort
	}
	if len(password) > v.policy.MaxLength {
		return ErrPasswordTooLong
	}

	var (
		hasUpper   bool
		hasLower   bool
		hasNumber  bool
		hasSpecial bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char) || unicode.IsSpace(char):
			hasSpecial = true
		}
	}

	if v.policy.RequireUppercase && !hasUpper {
		return ErrMissingUppercase
	}
	if v.policy.RequireLowercase && !hasLower {
		return ErrMissingLowercase
	}
	if v.policy.RequireNumbers && !hasNumber {
		return ErrMissingNumber
	}
	if v.policy.RequireSpecial && !hasSpecial {
		return ErrMissingSpecial
	}

	if v.policy.MaxRepeatingChars > 0 && hasRepeatRun(password, v.policy.MaxRepeatingChars) {
		return ErrConsecutiveChars
	}

	if v.policy.PreventEmailPart && email != "" {
		local, _, _ := strings.Cut(strings.ToLower(email), "@")
		if len(local) >= 3 && strings.Contains(strings.ToLower(password), local) {
			return ErrContainsEmail
		}
	}

	if commonPasswords[strings.ToLower(password)] {
		return ErrCommonPassword
	}

	return nil
}

func hasRepeatRun(password string, max int) bool {
	var count int
	var last rune
	for i, char := range password {
		if i > 0 && char == last {
			count++
			if count > max {
				return true
			}
			continue
		}
		last = char
		count = 1
	}
	return false
}

// small deny-list of passwords that satisfy the character-class rules
var commonPasswords = map[string]bool{
	"password1!":   true,
	"password123!": true,
	"qwerty123!":   true,
	"admin123!":    true,
	"welcome1!":    true,
	"p@ssw0rd":     true,
	"escuela123!":  true,
}
