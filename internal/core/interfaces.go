//go:generate go run go.uber.org/mock/mockgen -source=interfaces.go -destination=../mocks/mock_interfaces.go -package=mocks

package core

import (
	"context"
	"errors"

	"github.com/dkeye/Board/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrBackpressure     = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

// Frame is one encoded outbound payload (a room view or an error frame).
type Frame []byte

type SessionID string

func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// SignalConnection abstracts the messaging transport of one client.
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	Meta() *domain.Member
	Signal() SignalConnection
}

// PublishResult reports delivery stats to the registry.
// Dropped members are already removed from the room.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SessionID SessionID `json:"session_id"`
	Username  string    `json:"username"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(ms MemberSession) bool
	RemoveMember(sid SessionID) bool
	Broadcast(data Frame) PublishResult
	// Drain removes and returns every member.
	Drain() []MemberSession
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
	Members     []MemberDTO     `json:"members"`
}

// MessageLog is the durable, ordered store of messages.
// Ids are assigned by the log, unique across rooms and never reused.
type MessageLog interface {
	Insert(ctx context.Context, room domain.RoomName, author string, c domain.Content) (domain.MessageID, error)
	Get(ctx context.Context, id domain.MessageID) (domain.Message, error)
	Update(ctx context.Context, id domain.MessageID, c domain.Content) error
	Delete(ctx context.Context, id domain.MessageID) error
	// ListByRoom returns the room's messages in ascending id order.
	ListByRoom(ctx context.Context, room domain.RoomName) ([]domain.Message, error)
}

// IdentityVerifier resolves a bearer token to the username it was issued for.
type IdentityVerifier interface {
	Verify(token string) (string, bool)
}
