// Package passhash hashes passwords with bcrypt and enforces the password
// strength policy shared by registration and password changes.
package passhash

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor used for new hashes.
const Cost = 10

const (
	minLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxBytes = 72
)

var (
	// ErrWeak is returned by Validate for passwords that violate the policy.
	ErrWeak = errors.New("password does not meet the strength policy")

	hashPattern = regexp.MustCompile(`^\$2[aby]\$\d{2}\$[./A-Za-z0-9]{53}$`)
)

// common holds passwords that satisfy the character classes but are still
// among the first guesses of any dictionary attack.
var common = map[string]struct{}{
	"password":      {},
	"password1!":    {},
	"password123!":  {},
	"passw0rd!":     {},
	"p@ssw0rd":      {},
	"p@ssw0rd1":     {},
	"p@ssw0rd!":     {},
	"p@ssword1":     {},
	"qwerty123!":    {},
	"qwerty1!":      {},
	"welcome1!":     {},
	"welcome123!":   {},
	"letmein1!":     {},
	"admin123!":     {},
	"admin@123":     {},
	"abc123!@#":     {},
	"iloveyou1!":    {},
	"changeme1!":    {},
	"summer2024!":   {},
	"winter2024!":   {},
	"12345678aa!":   {},
	"speisekarte1!": {},
}

// Validate reports ErrWeak unless password has at least eight characters,
// fits into bcrypt's 72 byte limit, mixes upper case, lower case, digits and
// special characters, and is not a well-known password.
func Validate(password string) error {
	if len([]rune(password)) < minLength || len(password) > maxBytes {
		return ErrWeak
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsSpace(r):
		default:
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return ErrWeak
	}

	if _, ok := common[strings.ToLower(password)]; ok {
		return ErrWeak
	}
	return nil
}

// Hash returns the bcrypt hash of password.
func Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify reports whether password matches hash. Values that are not bcrypt
// hashes never match.
func Verify(hash, password string) bool {
	if !IsHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IsHash reports whether s looks like a bcrypt hash.
func IsHash(s string) bool {
	return hashPattern.MatchString(s)
}

// Ensure returns s unchanged when it is already a bcrypt hash and hashes it
// otherwise. Old deployments kept plaintext passwords in pending.json.
func Ensure(s string) (string, error) {
	if IsHash(s) {
		return s, nil
	}
	return Hash(s)
}
