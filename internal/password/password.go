// Package password hashes and verifies user passwords with bcrypt and
// enforces reuse prevention against a bounded history of prior hashes.
package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HistoryLimit is how many prior password hashes are retained for reuse
// checks; the oldest entry is evicted once this limit is reached.
const HistoryLimit = 5

const minLength = 10

// PolicyMinLength is the registration/reset-time floor enforced by
// ValidatePolicy, stricter than the bcrypt-level minLength this package also
// enforces on every Hash call.
const PolicyMinLength = 12

const specialChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"

var ErrTooShort = errors.New("password must be at least 10 characters")

// ErrPolicyViolation is returned by ValidatePolicy when plaintext does not
// meet the registration/reset password policy.
var ErrPolicyViolation = errors.New("password must be at least 12 characters and include lowercase, uppercase, a digit, and a special character")

// ValidatePolicy enforces the registration/reset password policy: at least
// PolicyMinLength characters, with lowercase, uppercase, digit, and special
// characters all present.
func ValidatePolicy(plaintext string) error {
	if len(plaintext) < PolicyMinLength {
		return ErrPolicyViolation
	}
	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range plaintext {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(specialChars, r):
			hasSpecial = true
		}
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSpecial {
		return ErrPolicyViolation
	}
	return nil
}

// Hash bcrypt-hashes the given plaintext password.
func Hash(plaintext string) (string, error) {
	if len(plaintext) < minLength {
		return "", ErrTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches the bcrypt hash.
func Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// InHistory reports whether plaintext matches any hash in history, used to
// reject password changes that reuse one of the last HistoryLimit passwords.
func InHistory(plaintext string, history []string) bool {
	for _, h := range history {
		if Verify(plaintext, h) {
			return true
		}
	}
	return false
}

// PushHistory appends newHash to history, evicting the oldest entry once
// HistoryLimit is exceeded.
func PushHistory(history []string, newHash string) []string {
	updated := append(history, newHash)
	if len(updated) > HistoryLimit {
		updated = updated[len(updated)-HistoryLimit:]
	}
	return updated
}
