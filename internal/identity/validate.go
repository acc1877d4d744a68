package identity

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/havenlist/service-identity/internal/apperror"
)

// Method selects which identifier an account is reached by.
type Method string

const (
	MethodEmail Method = "email"
	MethodPhone Method = "phone"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

const (
	nameMinLen = 2
	nameMaxLen = 50
	passMinLen = 8
)

func validateName(name string) error {
	n := len(strings.TrimSpace(name))
	if n < nameMinLen || n > nameMaxLen {
		return apperror.BadRequest("name must be between 2 and 50 characters")
	}
	return nil
}

// validatePassword enforces the complexity policy: minimum length plus at
// least one uppercase letter, one digit, and one special character.
func validatePassword(password string) error {
	if len(password) < passMinLen {
		return apperror.BadRequest("password must be at least 8 characters")
	}
	var upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper || !digit || !special {
		return apperror.BadRequest("password must contain an uppercase letter, a digit, and a special character")
	}
	return nil
}

// NormalizeIdentifier validates the identifier against the method's format
// and returns its canonical form.
func NormalizeIdentifier(method Method, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	switch method {
	case MethodEmail:
		identifier = strings.ToLower(identifier)
		if !emailRe.MatchString(identifier) {
			return "", apperror.BadRequest("invalid email address")
		}
	case MethodPhone:
		identifier = strings.ReplaceAll(identifier, " ", "")
		if !phoneRe.MatchString(identifier) {
			return "", apperror.BadRequest("invalid phone number")
		}
	default:
		return "", apperror.BadRequest("method must be email or phone")
	}
	return identifier, nil
}
