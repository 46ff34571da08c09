package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrStorage   = errors.New("storage unavailable")
)

// Board applies mutations to the message log and pushes the resulting room
// view to every member of the room.
//
// Each room has one lock held across mutate, view recompute and fan-out, and
// across register plus initial snapshot on join. Views therefore reach every
// member in mutation order and a joining member never sees a view older than
// its snapshot.
type Board struct {
	registry *Registry
	log      core.MessageLog
	locks    map[domain.RoomName]*sync.Mutex
}

func NewBoard(set domain.RoomSet, registry *Registry, messages core.MessageLog) *Board {
	locks := make(map[domain.RoomName]*sync.Mutex)
	for _, name := range set.Names() {
		locks[name] = &sync.Mutex{}
	}
	return &Board{registry: registry, log: messages, locks: locks}
}

func (b *Board) lock(room domain.RoomName) (func(), error) {
	mu, ok := b.locks[room]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRoom, room)
	}
	mu.Lock()
	return mu.Unlock, nil
}

func (b *Board) Rooms() []core.RoomInfo { return b.registry.List() }

// Join registers ms and sends it the current view of its room.
// A storage failure leaves ms registered and is returned wrapped in ErrStorage.
func (b *Board) Join(ctx context.Context, ms core.MemberSession) error {
	room := ms.Meta().Room
	unlock, err := b.lock(room)
	if err != nil {
		return err
	}
	defer unlock()

	if err := b.registry.Register(ms); err != nil {
		return err
	}
	view, err := b.log.ListByRoom(context.WithoutCancel(ctx), room)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	frame, err := domain.EncodeView(view)
	if err != nil {
		return err
	}
	if err := ms.Signal().TrySend(frame); err != nil {
		b.registry.Deregister(room, ms.ID())
		return err
	}
	return nil
}

// Leave deregisters ms. It is safe to call more than once.
func (b *Board) Leave(ms core.MemberSession) {
	b.registry.Deregister(ms.Meta().Room, ms.ID())
}

// View returns the current authoritative view of room.
func (b *Board) View(ctx context.Context, room domain.RoomName) ([]domain.Message, error) {
	if _, ok := b.locks[room]; !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRoom, room)
	}
	view, err := b.log.ListByRoom(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return view, nil
}

// Send appends a message authored by actor. Any author the client claimed
// never reaches this point.
func (b *Board) Send(ctx context.Context, actor *domain.Member, c domain.Content) (domain.MessageID, error) {
	var id domain.MessageID
	err := b.mutate(ctx, actor, domain.ActionSend, func(ctx context.Context) error {
		if err := c.Validate(); err != nil {
			return err
		}
		var err error
		id, err = b.log.Insert(ctx, actor.Room, actor.Username, c)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		return nil
	})
	return id, err
}

// Edit replaces the content of message id if actor authored it.
func (b *Board) Edit(ctx context.Context, actor *domain.Member, id domain.MessageID, c domain.Content) error {
	return b.mutate(ctx, actor, domain.ActionEdit, func(ctx context.Context) error {
		if err := c.Validate(); err != nil {
			return err
		}
		if err := b.authorize(ctx, actor, id, domain.ActionEdit); err != nil {
			return err
		}
		return storageErr(b.log.Update(ctx, id, c))
	})
}

// Delete removes message id if actor authored it.
func (b *Board) Delete(ctx context.Context, actor *domain.Member, id domain.MessageID) error {
	return b.mutate(ctx, actor, domain.ActionDelete, func(ctx context.Context) error {
		if err := b.authorize(ctx, actor, id, domain.ActionDelete); err != nil {
			return err
		}
		return storageErr(b.log.Delete(ctx, id))
	})
}

// authorize re-reads the persisted record; messages of other rooms do not
// exist from the actor's point of view.
func (b *Board) authorize(ctx context.Context, actor *domain.Member, id domain.MessageID, action domain.Action) error {
	target, err := b.log.Get(ctx, id)
	if err != nil {
		return storageErr(err)
	}
	if target.Room != actor.Room {
		return core.ErrNotFound
	}
	if !core.Allow(actor.Username, &target, action) {
		return ErrForbidden
	}
	return nil
}

func storageErr(err error) error {
	if err == nil || errors.Is(err, core.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// mutate runs fn and, on success, broadcasts the fresh view, all under the
// room lock. Once started, a mutation is not abandoned because the caller
// went away. Only a failure of fn is reported to the caller.
func (b *Board) mutate(ctx context.Context, actor *domain.Member, action domain.Action, fn func(context.Context) error) error {
	unlock, err := b.lock(actor.Room)
	if err != nil {
		return err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	if err := fn(ctx); err != nil {
		metrics.Mutations.WithLabelValues(string(action), outcome(err)).Inc()
		log.Debug().Str("module", "app.board").Str("room", string(actor.Room)).Str("user", actor.Username).Str("action", string(action)).Err(err).Msg("mutation refused")
		return err
	}
	metrics.Mutations.WithLabelValues(string(action), "ok").Inc()
	// The write stands even if the view cannot be published.
	if err := b.publish(ctx, actor.Room); err != nil {
		log.Error().Str("module", "app.board").Str("room", string(actor.Room)).Str("user", actor.Username).Str("action", string(action)).Err(err).Msg("mutation applied, view not published")
	}
	return nil
}

func (b *Board) publish(ctx context.Context, room domain.RoomName) error {
	view, err := b.log.ListByRoom(ctx, room)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	frame, err := domain.EncodeView(view)
	if err != nil {
		return err
	}
	res := b.registry.Broadcast(room, frame)
	log.Debug().Str("module", "app.board").Str("room", string(room)).Int("messages", len(view)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("view published")
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrStorage):
		return "storage_error"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrEmptyMessage):
		return "bad_payload"
	default:
		return "error"
	}
}
