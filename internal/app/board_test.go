package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestBoard_Send_Reaches_Room_Only(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	board, _ := newTestBoard(t, newTestLog(t))

	// Given alice and bob in work and carol in school
	aliceConn, bobConn, carolConn := &fakeConn{}, &fakeConn{}, &fakeConn{}
	alice := member("work", "alice", aliceConn)
	req.NoError(board.Join(ctx, alice))
	req.NoError(board.Join(ctx, member("work", "bob", bobConn)))
	req.NoError(board.Join(ctx, member("school", "carol", carolConn)))

	// When alice sends "hi"
	id, err := board.Send(ctx, alice.Meta(), domain.Content{Text: "hi"})
	req.NoError(err)

	// Then both work members, alice included, see it authored by alice
	want := []domain.Message{{ID: id, Room: "work", Author: "alice", Text: "hi", CreatedAt: 1700000000}}
	req.Equal(want, aliceConn.lastView(t))
	req.Equal(want, bobConn.lastView(t))

	// And school only ever saw its initial empty snapshot
	req.Equal([][]domain.Message{{}}, carolConn.views(t))
}

func TestBoard_Edit_By_Other_User_Is_Denied(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	messages := newTestLog(t)
	board, _ := newTestBoard(t, messages)

	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	alice := member("work", "alice", aliceConn)
	bob := member("work", "bob", bobConn)
	req.NoError(board.Join(ctx, alice))
	req.NoError(board.Join(ctx, bob))

	id, err := board.Send(ctx, alice.Meta(), domain.Content{Text: "hi"})
	req.NoError(err)
	before := len(bobConn.received())

	// When bob tries to edit and delete alice's message
	req.ErrorIs(board.Edit(ctx, bob.Meta(), id, domain.Content{Text: "hacked"}), ErrForbidden)
	req.ErrorIs(board.Delete(ctx, bob.Meta(), id), ErrForbidden)

	// Then nothing changed and nothing was broadcast
	msg, err := messages.Get(ctx, id)
	req.NoError(err)
	req.Equal("hi", msg.Text)
	req.Len(bobConn.received(), before)
}

func TestBoard_Delete_Then_Edit_Is_Not_Found(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	board, _ := newTestBoard(t, newTestLog(t))

	conn := &fakeConn{}
	alice := member("work", "alice", conn)
	req.NoError(board.Join(ctx, alice))

	id, err := board.Send(ctx, alice.Meta(), domain.Content{Text: "hi"})
	req.NoError(err)

	// When alice deletes the message
	req.NoError(board.Delete(ctx, alice.Meta(), id))
	req.Empty(conn.lastView(t))
	sent := len(conn.received())

	// Then a later edit finds nothing and broadcasts nothing
	req.ErrorIs(board.Edit(ctx, alice.Meta(), id, domain.Content{Text: "again"}), core.ErrNotFound)
	req.Len(conn.received(), sent)
}

func TestBoard_Edit_Replaces_Content(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	board, _ := newTestBoard(t, newTestLog(t))

	conn := &fakeConn{}
	alice := member("work", "alice", conn)
	req.NoError(board.Join(ctx, alice))
	id, err := board.Send(ctx, alice.Meta(), domain.Content{Text: "draft"})
	req.NoError(err)

	req.NoError(board.Edit(ctx, alice.Meta(), id, domain.Content{Text: "final", Image: "img"}))

	req.Equal([]domain.Message{{ID: id, Room: "work", Author: "alice", Text: "final", Image: "img", CreatedAt: 1700000000}}, conn.lastView(t))
}

func TestBoard_Cannot_Touch_Other_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	board, _ := newTestBoard(t, newTestLog(t))

	// Given alice connected to both rooms
	inWork := member("work", "alice", &fakeConn{})
	inSchool := member("school", "alice", &fakeConn{})
	req.NoError(board.Join(ctx, inWork))
	req.NoError(board.Join(ctx, inSchool))

	id, err := board.Send(ctx, inWork.Meta(), domain.Content{Text: "work only"})
	req.NoError(err)

	// When she addresses it from the school connection
	req.ErrorIs(board.Edit(ctx, inSchool.Meta(), id, domain.Content{Text: "x"}), core.ErrNotFound)
	req.ErrorIs(board.Delete(ctx, inSchool.Meta(), id), core.ErrNotFound)
}

func TestBoard_Empty_Content_Is_Refused(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	board, _ := newTestBoard(t, newTestLog(t))
	alice := member("work", "alice", &fakeConn{})
	req.NoError(board.Join(ctx, alice))

	_, err := board.Send(ctx, alice.Meta(), domain.Content{})
	req.ErrorIs(err, domain.ErrEmptyMessage)

	id, err := board.Send(ctx, alice.Meta(), domain.Content{Text: "a"})
	req.NoError(err)
	req.ErrorIs(board.Edit(ctx, alice.Meta(), id, domain.Content{}), domain.ErrEmptyMessage)
}

func TestBoard_Failed_Recipient_Is_Pruned(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	board, reg := newTestBoard(t, newTestLog(t))

	// Given three members of school, one of which stops accepting frames
	a, b, dead := &fakeConn{}, &fakeConn{}, &fakeConn{}
	alice := member("school", "alice", a)
	req.NoError(board.Join(ctx, alice))
	req.NoError(board.Join(ctx, member("school", "bob", b)))
	req.NoError(board.Join(ctx, member("school", "dave", dead)))
	dead.mu.Lock()
	dead.fail = true
	dead.mu.Unlock()

	// When a message is broadcast
	_, err := board.Send(ctx, alice.Meta(), domain.Content{Text: "hello"})
	req.NoError(err)

	// Then the others still receive it and the dead member is gone
	req.Len(a.lastView(t), 1)
	req.Len(b.lastView(t), 1)
	req.True(dead.isClosed())
	rooms := reg.List()
	req.Equal(2, rooms[1].MemberCount)
	req.Equal([]string{"alice", "bob"}, usernames(rooms[1].Members))
}

func TestBoard_Two_Members_Observe_Same_View(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	board, _ := newTestBoard(t, newTestLog(t))

	c1, c2 := &fakeConn{}, &fakeConn{}
	m1 := member("school", "alice", c1)
	m2 := member("school", "bob", c2)
	req.NoError(board.Join(ctx, m1))
	req.NoError(board.Join(ctx, m2))

	id, err := board.Send(ctx, m1.Meta(), domain.Content{Text: "a"})
	req.NoError(err)
	_, err = board.Send(ctx, m2.Meta(), domain.Content{Text: "b"})
	req.NoError(err)
	req.NoError(board.Edit(ctx, m1.Meta(), id, domain.Content{Text: "a2"}))

	req.Equal(c1.views(t), c2.views(t))
	last := c1.lastView(t)
	req.Len(last, 2)
	req.Equal("a2", last[0].Text)
	req.Equal("bob", last[1].Author)
}

func TestBoard_Concurrent_Sends_Converge(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	board, _ := newTestBoard(t, newTestLog(t))

	const writers, perWriter = 4, 10
	conns := make([]*fakeConn, writers)
	members := make([]core.MemberSession, writers)
	for i := range conns {
		conns[i] = &fakeConn{}
		members[i] = member("work", fmt.Sprintf("user%d", i), conns[i])
		req.NoError(board.Join(ctx, members[i]))
	}

	// When every member sends concurrently
	var wg sync.WaitGroup
	for i := range members {
		wg.Add(1)
		go func(ms core.MemberSession) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := board.Send(ctx, ms.Meta(), domain.Content{Text: "x"})
				assert.NoError(t, err)
			}
		}(members[i])
	}
	wg.Wait()

	// Then every member saw the views in the same order and ends on the full view
	final, err := board.View(ctx, "work")
	req.NoError(err)
	req.Len(final, writers*perWriter)
	for _, c := range conns {
		views := c.views(t)
		req.Equal(final, views[len(views)-1])
		for i := 1; i < len(views); i++ {
			req.Len(views[i], len(views[i-1])+1)
		}
	}
}

func TestBoard_Join_Late_Member_Gets_Current_View(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	board, _ := newTestBoard(t, newTestLog(t))

	alice := member("work", "alice", &fakeConn{})
	req.NoError(board.Join(ctx, alice))
	_, err := board.Send(ctx, alice.Meta(), domain.Content{Text: "earlier"})
	req.NoError(err)

	late := &fakeConn{}
	req.NoError(board.Join(ctx, member("work", "bob", late)))

	views := late.views(t)
	req.Len(views, 1)
	req.Equal("earlier", views[0][0].Text)
}

func TestBoard_Storage_Failures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()
	down := errors.New("disk gone")

	t.Run("should report insert failure without broadcasting", func(t *testing.T) {
		req := require.New(t)
		messages := mocks.NewMockMessageLog(ctrl)
		board, _ := newTestBoard(t, messages)
		conn := &fakeConn{}
		alice := member("work", "alice", conn)

		messages.EXPECT().ListByRoom(gomock.Any(), domain.RoomName("work")).Return(nil, nil).Times(1)
		req.NoError(board.Join(ctx, alice))

		messages.EXPECT().
			Insert(gomock.Any(), domain.RoomName("work"), "alice", domain.Content{Text: "hi"}).
			Return(domain.MessageID(0), down).
			Times(1)

		_, err := board.Send(ctx, alice.Meta(), domain.Content{Text: "hi"})
		req.ErrorIs(err, ErrStorage)
		req.ErrorIs(err, down)
		req.Len(conn.received(), 1)
	})

	t.Run("should not report an applied send when the view cannot be read", func(t *testing.T) {
		req := require.New(t)
		messages := mocks.NewMockMessageLog(ctrl)
		board, _ := newTestBoard(t, messages)
		conn := &fakeConn{}
		alice := member("work", "alice", conn)

		messages.EXPECT().ListByRoom(gomock.Any(), domain.RoomName("work")).Return(nil, nil).Times(1)
		req.NoError(board.Join(ctx, alice))

		// Given an insert that succeeds and a view recompute that fails
		messages.EXPECT().
			Insert(gomock.Any(), domain.RoomName("work"), "alice", domain.Content{Text: "hi"}).
			Return(domain.MessageID(9), nil).
			Times(1)
		messages.EXPECT().ListByRoom(gomock.Any(), domain.RoomName("work")).Return(nil, down).Times(1)

		// When alice sends
		id, err := board.Send(ctx, alice.Meta(), domain.Content{Text: "hi"})

		// Then the send is reported as done and nothing new is broadcast
		req.NoError(err)
		req.Equal(domain.MessageID(9), id)
		req.Len(conn.received(), 1)
	})

	t.Run("should report lookup failure on edit", func(t *testing.T) {
		req := require.New(t)
		messages := mocks.NewMockMessageLog(ctrl)
		board, _ := newTestBoard(t, messages)
		alice := member("work", "alice", &fakeConn{})

		messages.EXPECT().Get(gomock.Any(), domain.MessageID(3)).Return(domain.Message{}, down).Times(1)
		messages.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		req.ErrorIs(board.Edit(ctx, alice.Meta(), 3, domain.Content{Text: "x"}), ErrStorage)
	})

	t.Run("should keep the member registered when the initial view fails", func(t *testing.T) {
		req := require.New(t)
		messages := mocks.NewMockMessageLog(ctrl)
		board, _ := newTestBoard(t, messages)
		alice := member("work", "alice", &fakeConn{})

		messages.EXPECT().ListByRoom(gomock.Any(), domain.RoomName("work")).Return(nil, down).Times(1)

		req.ErrorIs(board.Join(ctx, alice), ErrStorage)
		req.Equal(1, board.Rooms()[0].MemberCount)
	})

	t.Run("should not abandon a mutation when the caller is gone", func(t *testing.T) {
		req := require.New(t)
		messages := mocks.NewMockMessageLog(ctrl)
		board, _ := newTestBoard(t, messages)
		alice := member("work", "alice", &fakeConn{})
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		messages.EXPECT().
			Insert(gomock.Any(), domain.RoomName("work"), "alice", gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ domain.RoomName, _ string, _ domain.Content) (domain.MessageID, error) {
				req.NoError(ctx.Err())
				return 1, nil
			}).
			Times(1)
		messages.EXPECT().ListByRoom(gomock.Any(), domain.RoomName("work")).Return([]domain.Message{{ID: 1}}, nil).Times(1)

		_, err := board.Send(canceled, alice.Meta(), domain.Content{Text: "hi"})
		req.NoError(err)
	})
}
