package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/goccy/go-json"
)

// UserStore persists accounts under "user:{username}".
type UserStore struct {
	db *badger.DB
}

func NewUserStore(db *badger.DB) *UserStore {
	return &UserStore{db: db}
}

func userKey(username string) []byte {
	return []byte("user:" + username)
}

// Create stores u, failing with domain.ErrUserExists if the username is taken.
func (u *UserStore) Create(ctx context.Context, user domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return u.db.Update(func(txn *badger.Txn) error {
		key := userKey(user.Username)
		if _, err := txn.Get(key); err == nil {
			return domain.ErrUserExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// Get returns core.ErrNotFound for unknown usernames.
func (u *UserStore) Get(ctx context.Context, username string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	var user domain.User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	return user, err
}
