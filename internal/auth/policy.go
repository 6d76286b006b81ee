// AngelaMos | 2026
// policy.go

package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
)

var (
	ErrWeakPassword           = errors.New("password does not meet policy")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrEmailNotVerified       = errors.New("email not verified")
)

// WeakPasswordError lists every rule the candidate failed.
type WeakPasswordError struct {
	Unmet []string
}

func (e *WeakPasswordError) Error() string {
	return "password must contain " + strings.Join(e.Unmet, ", ")
}

func (e *WeakPasswordError) Unwrap() error {
	return ErrWeakPassword
}

type PasswordPolicy struct {
	rules config.PasswordPolicy
}

func NewPasswordPolicy(rules config.PasswordPolicy) *PasswordPolicy {
	return &PasswordPolicy{rules: rules}
}

func (p *PasswordPolicy) Validate(password string) error {
	var unmet []string

	length := utf8.RuneCountInString(password)
	if length < p.rules.MinLength {
		unmet = append(unmet, fmt.Sprintf("at least %d characters", p.rules.MinLength))
	}
	if p.rules.MaxLength > 0 && length > p.rules.MaxLength {
		unmet = append(unmet, fmt.Sprintf("at most %d characters", p.rules.MaxLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if p.rules.RequireUpper && !hasUpper {
		unmet = append(unmet, "an uppercase letter")
	}
	if p.rules.RequireLower && !hasLower {
		unmet = append(unmet, "a lowercase letter")
	}
	if p.rules.RequireDigit && !hasDigit {
		unmet = append(unmet, "a digit")
	}
	if p.rules.RequireSpecial && !hasSpecial {
		unmet = append(unmet, "a special character")
	}

	if len(unmet) > 0 {
		return &WeakPasswordError{Unmet: unmet}
	}
	return nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
