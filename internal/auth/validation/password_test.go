package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	apierr "github.com/victorgomez09/escuela/internal/auth"
)

func TestValidatePassword(t *testing.T) {
	v := NewPasswordValidator(DefaultPasswordPolicy())

	tests := []struct {
		name     string
		password string
		email    string
		want     error
	}{
		{"valid", "Secret#123", "ana@school.edu", nil},
		{"too short", "Se#1a", "", ErrPasswordTooShort},
		{"too long", "Aa1!" + strings.Repeat("x", 80), "", ErrPasswordTooLong},
		{"no upper", "secret#123", "", ErrMissingUppercase},
		{"no lower", "SECRET#123", "", ErrMissingLowercase},
		{"no number", "Secret#abc", "", ErrMissingNumber},
		{"no special", "Secret1234", "", ErrMissingSpecial},
		{"repeats", "Seeeeeecret#1", "", ErrConsecutiveChars},
		{"contains email", "Maria.Lopez#1", "maria.lopez@school.edu", ErrContainsEmail},
		{"common", "Password123!", "", ErrCommonPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePassword(tt.password, tt.email)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, err)
			assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
		})
	}
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail(NormalizeEmail("  Ana.Garcia@School.EDU ")))
	assert.Error(t, ValidateEmail(""))
	assert.Error(t, ValidateEmail("not-an-email"))
	assert.Error(t, ValidateEmail("ana@localhost"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("Ana"))
	assert.Error(t, ValidateName("   "))
	assert.Error(t, ValidateName(strings.Repeat("a", 101)))
}

func TestCleanText(t *testing.T) {
	cases := map[string]string{
		"  Ana García ":                     "Ana García",
		"<script>alert(1)</script>Hola":     "Hola",
		`<b onclick="x()">Matemáticas</b>`:  "Matemáticas",
		"O'Brien & Sons":                    "O'Brien & Sons",
		"<img src=x onerror=alert(1)>texto": "texto",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanText(in), in)
	}
}
