// Package auth issues credentials. The board only ever sees the resulting
// identity through core.IdentityVerifier.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials is the body of register and login requests.
type Credentials struct {
	Username string `json:"username" validate:"required,max=36,printascii"`
	Password string `json:"password" validate:"required,max=72"`
}

var validate = validator.New()

func (c Credentials) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return domain.ValidateUsername(c.Username)
}

type UserStore interface {
	Create(ctx context.Context, user domain.User) error
	Get(ctx context.Context, username string) (domain.User, error)
}

type Accounts struct {
	users  UserStore
	tokens *Tokens
}

func NewAccounts(users UserStore, tokens *Tokens) *Accounts {
	return &Accounts{users: users, tokens: tokens}
}

// Register creates the account and returns a token for it.
func (a *Accounts) Register(ctx context.Context, c Credentials) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	hash, err := HashPassword(c.Password)
	if err != nil {
		return "", err
	}
	user, err := domain.NewUser(c.Username, hash, time.Now().Unix())
	if err != nil {
		return "", err
	}
	if err := a.users.Create(ctx, *user); err != nil {
		return "", err
	}
	log.Info().Str("module", "auth").Str("user", c.Username).Msg("account registered")
	return a.tokens.Issue(c.Username)
}

// Login checks the password and returns a fresh token.
func (a *Accounts) Login(ctx context.Context, c Credentials) (string, error) {
	if c.Username == "" || c.Password == "" {
		return "", ErrInvalidCredentials
	}
	user, err := a.users.Get(ctx, c.Username)
	if errors.Is(err, core.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if !CheckPassword(user.PasswordHash, c.Password) {
		return "", ErrInvalidCredentials
	}
	return a.tokens.Issue(user.Username)
}
