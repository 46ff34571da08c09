package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrRejected is returned by Join when the connection must be closed with a
// policy violation.
var ErrRejected = errors.New("session rejected")

// Sessions carries what every session of the process shares.
type Sessions struct {
	Board    *Board
	Verifier core.IdentityVerifier
	Rooms    domain.RoomSet
	Limiter  *RateLimiter
	// ExplicitRejections sends an error frame to the requester for every
	// discarded request instead of ignoring it silently.
	ExplicitRejections bool
}

// Open starts a session for a freshly accepted connection.
func (s *Sessions) Open(conn core.SignalConnection) *Session {
	return &Session{id: core.NewSessionID(), deps: s, conn: conn}
}

// Session drives one connection from handshake to teardown.
// Identity and room are fixed once joined.
type Session struct {
	id     core.SessionID
	deps   *Sessions
	conn   core.SignalConnection
	state  atomic.Int32
	member core.MemberSession
	once   sync.Once
}

func (s *Session) ID() core.SessionID { return s.id }
func (s *Session) State() State       { return State(s.state.Load()) }

// Member is nil until the session has joined.
func (s *Session) Member() *domain.Member {
	if s.member == nil {
		return nil
	}
	return s.member.Meta()
}

// Join verifies token and room, registers the connection and sends it the
// room's current view. Any error means the caller must close the transport.
func (s *Session) Join(ctx context.Context, token, room string) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateJoined)) {
		return fmt.Errorf("%w: join in state %s", ErrRejected, s.State())
	}
	identity, ok := s.deps.Verifier.Verify(token)
	if !ok || identity == "" {
		return s.reject("identity not verified")
	}
	name, err := s.deps.Rooms.Lookup(room)
	if err != nil {
		return s.reject(err.Error())
	}

	s.member = core.NewMemberSession(s.id, domain.NewMember(identity, name), s.conn)
	err = s.deps.Board.Join(ctx, s.member)
	switch {
	case err == nil:
	case errors.Is(err, ErrStorage):
		s.logger().Error().Err(err).Msg("initial view unavailable")
		_ = s.conn.TrySend(domain.EncodeError(domain.CodeStorageUnavailable))
	default:
		s.Close()
		return err
	}

	s.state.Store(int32(StateActive))
	metrics.ConnectionsAccepted.Inc()
	s.logger().Info().Msg("session active")
	return nil
}

func (s *Session) reject(reason string) error {
	s.state.Store(int32(StateClosed))
	metrics.ConnectionsRejected.Inc()
	log.Info().Str("module", "app.session").Str("sid", string(s.id)).Str("reason", reason).Msg("session rejected")
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}

// Handle processes one inbound frame. Frames that cannot be honoured are
// discarded and the session stays active.
func (s *Session) Handle(ctx context.Context, data []byte) {
	if s.State() != StateActive {
		return
	}
	req, err := domain.ParseRequest(data)
	if err != nil {
		s.logger().Debug().Err(err).Msg("frame discarded")
		if errors.Is(err, domain.ErrUnknownAction) {
			s.refuse(domain.CodeUnknownAction)
		} else {
			s.refuse(domain.CodeBadPayload)
		}
		return
	}

	meta := s.member.Meta()
	if !s.deps.Limiter.Allow(meta.Username) {
		metrics.Mutations.WithLabelValues(string(req.Action), "rate_limited").Inc()
		s.refuse(domain.CodeRateLimited)
		return
	}

	switch req.Action {
	case domain.ActionSend:
		_, err = s.deps.Board.Send(ctx, meta, req.Content())
	case domain.ActionEdit:
		err = s.deps.Board.Edit(ctx, meta, *req.ID, req.Content())
	case domain.ActionDelete:
		err = s.deps.Board.Delete(ctx, meta, *req.ID)
	}
	if err != nil {
		s.fail(req.Action, err)
	}
}

// Discard accounts for a frame the transport dropped before decoding it.
func (s *Session) Discard(err error) {
	if s.State() != StateActive {
		return
	}
	s.logger().Debug().Err(err).Msg("frame discarded")
	s.refuse(domain.CodeBadPayload)
}

func (s *Session) fail(action domain.Action, err error) {
	switch {
	case errors.Is(err, ErrStorage):
		s.logger().Error().Str("action", string(action)).Err(err).Msg("mutation failed")
		_ = s.conn.TrySend(domain.EncodeError(domain.CodeStorageUnavailable))
	case errors.Is(err, ErrForbidden):
		s.refuse(domain.CodeForbidden)
	case errors.Is(err, core.ErrNotFound):
		s.refuse(domain.CodeNotFound)
	default:
		s.refuse(domain.CodeBadPayload)
	}
}

func (s *Session) refuse(code string) {
	if !s.deps.ExplicitRejections {
		return
	}
	_ = s.conn.TrySend(domain.EncodeError(code))
}

// Close deregisters the session exactly once. The transport belongs to the
// caller and is left open.
func (s *Session) Close() {
	s.once.Do(func() {
		s.state.Store(int32(StateClosing))
		if s.member != nil {
			s.deps.Board.Leave(s.member)
			s.deps.Limiter.Forget(s.member.Meta().Username)
			s.logger().Info().Msg("session closed")
		}
		s.state.Store(int32(StateClosed))
	})
}

func (s *Session) logger() *zerolog.Logger {
	ctx := log.With().Str("module", "app.session").Str("sid", string(s.id))
	if s.member != nil {
		meta := s.member.Meta()
		ctx = ctx.Str("room", string(meta.Room)).Str("user", meta.Username)
	}
	l := ctx.Logger()
	return &l
}
