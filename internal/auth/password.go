// Package auth handles credentials: username rules, password hashing and
// the bearer tokens issued after login.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6
	// bcrypt ignores input past 72 bytes
	MaxPasswordBytes = 72
)

var (
	ErrEmptyUsername      = errors.New("username is required")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// NormalizeUsername trims and lowercases a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidateCredentials checks registration input and returns the normalized
// username.
func ValidateCredentials(username, password string) (string, error) {
	normalized := NormalizeUsername(username)
	if normalized == "" {
		return "", ErrEmptyUsername
	}
	if len([]rune(password)) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	return normalized, nil
}

// HashPassword returns a bcrypt hash. bcrypt embeds its own salt, so records
// created here keep an empty Salt field.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against a stored hash. Hashes that are not
// bcrypt are treated as legacy hex sha256 of "password:salt"; a match on
// one of those reports needsRehash so the caller can upgrade the record.
func VerifyPassword(hash, salt, password string) (ok, needsRehash bool) {
	if isBcrypt(hash) {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, false
	}
	if hash == "" {
		return false, false
	}
	want := legacyHash(password, salt)
	if subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(hash))) != 1 {
		return false, false
	}
	return true, true
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

func legacyHash(password, salt string) string {
	sum := sha256.Sum256([]byte(password + ":" + salt))
	return hex.EncodeToString(sum[:])
}
