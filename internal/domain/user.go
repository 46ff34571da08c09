// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserExists      = errors.New("username exists")
)

// User is a registered account. The username is the identity bound to
// every connection and recorded as the author of messages.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    int64  `json:"created_at"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(username, passwordHash string, createdAt int64) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	return &User{Username: username, PasswordHash: passwordHash, CreatedAt: createdAt}, nil
}

func ValidateUsername(username string) error {
	if len(strings.TrimSpace(username)) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
