package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLen is enforced before hashing; bcrypt itself only caps the
// upper bound (72 bytes).
const MinPasswordLen = 8

var ErrPasswordTooShort = errors.New("password too short")

// HashPassword bcrypt-hashes a plaintext password. A cost outside
// bcrypt's valid range falls back to the library default.
func HashPassword(plain string, cost int) (string, error) {
	if len(plain) < MinPasswordLen {
		return "", ErrPasswordTooShort
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether plain matches the stored bcrypt hash.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
