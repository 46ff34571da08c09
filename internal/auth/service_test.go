package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/stretchr/testify/require"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func (m *memUsers) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; ok {
		return domain.ErrUserExists
	}
	m.users[user.Username] = user
	return nil
}

func (m *memUsers) Get(_ context.Context, username string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return domain.User{}, core.ErrNotFound
	}
	return u, nil
}

func TestAccounts_Register(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokens("secret", time.Hour)
	accounts := NewAccounts(&memUsers{users: map[string]domain.User{}}, tokens)

	t.Run("should register and issue a token for the username", func(t *testing.T) {
		req := require.New(t)
		tok, err := accounts.Register(ctx, Credentials{Username: "alice", Password: "pw"})
		req.NoError(err)
		username, ok := tokens.Verify(tok)
		req.True(ok)
		req.Equal("alice", username)
	})

	t.Run("should refuse an existing username", func(t *testing.T) {
		_, err := accounts.Register(ctx, Credentials{Username: "alice", Password: "pw2"})
		require.ErrorIs(t, err, domain.ErrUserExists)
	})

	t.Run("should refuse invalid input", func(t *testing.T) {
		req := require.New(t)
		_, err := accounts.Register(ctx, Credentials{Username: "", Password: "pw"})
		req.ErrorIs(err, ErrInvalidCredentials)
		_, err = accounts.Register(ctx, Credentials{Username: strings.Repeat("a", 37), Password: "pw"})
		req.ErrorIs(err, ErrInvalidCredentials)
		_, err = accounts.Register(ctx, Credentials{Username: "bob", Password: ""})
		req.ErrorIs(err, ErrInvalidCredentials)
	})
}

func TestAccounts_Login(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokens("secret", time.Hour)
	accounts := NewAccounts(&memUsers{users: map[string]domain.User{}}, tokens)
	_, err := accounts.Register(ctx, Credentials{Username: "alice", Password: "correct"})
	require.NoError(t, err)

	t.Run("should login with correct credentials", func(t *testing.T) {
		req := require.New(t)
		tok, err := accounts.Login(ctx, Credentials{Username: "alice", Password: "correct"})
		req.NoError(err)
		username, ok := tokens.Verify(tok)
		req.True(ok)
		req.Equal("alice", username)
	})

	t.Run("should refuse a wrong password", func(t *testing.T) {
		_, err := accounts.Login(ctx, Credentials{Username: "alice", Password: "wrong"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("should refuse an unknown user", func(t *testing.T) {
		_, err := accounts.Login(ctx, Credentials{Username: "nobody", Password: "x"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}
