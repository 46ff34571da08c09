package app

import (
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Board/internal/adapters/storage"
	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	if c.fail {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) received() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.frames...)
}

// views decodes every frame that is a room view.
func (c *fakeConn) views(t *testing.T) [][]domain.Message {
	t.Helper()
	var out [][]domain.Message
	for _, f := range c.received() {
		if len(f) == 0 || f[0] != '[' {
			continue
		}
		var view []domain.Message
		require.NoError(t, json.Unmarshal(f, &view))
		out = append(out, view)
	}
	return out
}

func (c *fakeConn) lastView(t *testing.T) []domain.Message {
	t.Helper()
	views := c.views(t)
	require.NotEmpty(t, views)
	return views[len(views)-1]
}

// errorCodes returns the codes of every error frame received.
func (c *fakeConn) errorCodes(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, f := range c.received() {
		if len(f) == 0 || f[0] != '{' {
			continue
		}
		var ef domain.ErrorFrame
		require.NoError(t, json.Unmarshal(f, &ef))
		out = append(out, ef.Error)
	}
	return out
}

type staticVerifier map[string]string

func (v staticVerifier) Verify(token string) (string, bool) {
	u, ok := v[token]
	return u, ok
}

func testRooms(t *testing.T) domain.RoomSet {
	t.Helper()
	set, err := domain.NewRoomSet(domain.DefaultRooms...)
	require.NoError(t, err)
	return set
}

func newTestLog(t *testing.T) *storage.MessageStore {
	t.Helper()
	db, err := storage.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	at := time.Unix(1700000000, 0)
	store, err := storage.NewMessageStore(db, storage.WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestBoard(t *testing.T, messages core.MessageLog) (*Board, *Registry) {
	t.Helper()
	set := testRooms(t)
	reg := NewRegistry(set, SimplePolicy{})
	return NewBoard(set, reg, messages), reg
}

func member(room domain.RoomName, user string, conn core.SignalConnection) core.MemberSession {
	return core.NewMemberSession(core.NewSessionID(), domain.NewMember(user, room), conn)
}

func usernames(members []core.MemberDTO) []string {
	return lo.Map(members, func(m core.MemberDTO, _ int) string { return m.Username })
}
