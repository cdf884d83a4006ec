package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password using bcrypt. The salt is
// embedded in the resulting digest.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches the stored digest. A
// malformed digest is a mismatch, never a panic.
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const passwordSpecials = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// ValidatePasswordStrength enforces the account password policy: at least
// 8 characters with upper, lower, digit and special characters.
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: at least 8 characters required", ErrWeakPassword)
	}
	var upper, lower, digit, special bool
	for _, c := range password {
		switch {
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= '0' && c <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, c):
			special = true
		}
	}
	switch {
	case !upper:
		return fmt.Errorf("%w: uppercase letter required", ErrWeakPassword)
	case !lower:
		return fmt.Errorf("%w: lowercase letter required", ErrWeakPassword)
	case !digit:
		return fmt.Errorf("%w: digit required", ErrWeakPassword)
	case !special:
		return fmt.Errorf("%w: special character required", ErrWeakPassword)
	}
	return nil
}
