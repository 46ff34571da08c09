package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/goccy/go-json"
)

const (
	seqKey       = "seq:msg"
	seqBandwidth = 100
)

// MessageStore implements core.MessageLog.
//
// Keys:
//
//	msg:{id}         -> room name (id index)
//	room:{room}:{id} -> message JSON
//
// Ids are zero padded to 20 digits so a prefix scan of a room yields
// ascending id order. Ids come from a badger sequence and are never reused,
// even across restarts.
type MessageStore struct {
	db  *badger.DB
	seq *badger.Sequence
	now func() time.Time
}

type Option func(*MessageStore)

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *MessageStore) { s.now = now }
}

func NewMessageStore(db *badger.DB, opts ...Option) (*MessageStore, error) {
	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	s := &MessageStore{db: db, seq: seq, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the unused part of the leased id range.
func (s *MessageStore) Close() error {
	return s.seq.Release()
}

func indexKey(id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("msg:%020d", id))
}

func roomPrefix(room domain.RoomName) []byte {
	return []byte(fmt.Sprintf("room:%s:", room))
}

func roomKey(room domain.RoomName, id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("room:%s:%020d", room, id))
}

func (s *MessageStore) Insert(ctx context.Context, room domain.RoomName, author string, c domain.Content) (domain.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next message id: %w", err)
	}
	// badger sequences start at 0
	id := domain.MessageID(n + 1)
	msg := domain.Message{
		ID:        id,
		Room:      room,
		Author:    author,
		Text:      c.Text,
		Image:     c.Image,
		CreatedAt: s.now().Unix(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(indexKey(id), []byte(room)); err != nil {
			return err
		}
		return txn.Set(roomKey(room, id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("insert message %d: %w", id, err)
	}
	return id, nil
}

func (s *MessageStore) Get(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		msg, err = load(txn, id)
		return err
	})
	return msg, err
}

func (s *MessageStore) Update(ctx context.Context, id domain.MessageID, c domain.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		msg, err := load(txn, id)
		if err != nil {
			return err
		}
		data, err := json.Marshal(msg.WithContent(c))
		if err != nil {
			return err
		}
		return txn.Set(roomKey(msg.Room, id), data)
	})
}

func (s *MessageStore) Delete(ctx context.Context, id domain.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		room, err := roomOf(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(roomKey(room, id)); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
}

func (s *MessageStore) ListByRoom(ctx context.Context, room domain.RoomName) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []domain.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(room)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg domain.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return err
			}
			// "room:a:" is also a prefix of "room:a:b:..."
			if msg.Room != room {
				continue
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list room %q: %w", room, err)
	}
	return out, nil
}

func roomOf(txn *badger.Txn, id domain.MessageID) (domain.RoomName, error) {
	item, err := txn.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("message %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return domain.RoomName(val), nil
}

func load(txn *badger.Txn, id domain.MessageID) (domain.Message, error) {
	room, err := roomOf(txn, id)
	if err != nil {
		return domain.Message{}, err
	}
	item, err := txn.Get(roomKey(room, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, fmt.Errorf("message %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	})
	return msg, err
}
