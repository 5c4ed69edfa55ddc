package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 10

// ErrPasswordMismatch indicates the supplied password does not match the stored hash.
var ErrPasswordMismatch = errors.New("auth: password mismatch")

var errEmptyPassword = errors.New("auth: password must not be empty")

// HashPassword derives a bcrypt hash suitable for storage.
func HashPassword(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword checks a plaintext password against a stored bcrypt hash.
func ComparePassword(hashed, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
