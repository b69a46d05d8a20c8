package server

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/anonymeet/anonymeet/internal/database"
	"github.com/anonymeet/anonymeet/internal/filter"
	"github.com/anonymeet/anonymeet/internal/stats"
	"github.com/anonymeet/anonymeet/internal/testutil"
	"github.com/anonymeet/anonymeet/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatServer(t *testing.T, db database.AnonymeetRepository) *ChatServer {
	t.Helper()

	cs, err := NewChatServer(testutil.TestLogger(t), db, filter.Default(), &stats.MockStatsUpdater{}, 30*time.Second)
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}

	return cs
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockAnonymeetRepository{}
	defer db.AssertExpectations(t)

	logger := testutil.TestLogger(t)
	su := &stats.MockStatsUpdater{}
	cs, err := NewChatServer(logger, db, filter.Default(), su, 30*time.Second)
	assert.NoError(t, err)
	require.NotNil(t, cs)
	assert.Equal(t, logger, cs.log)
	assert.Equal(t, db, cs.db)
	assert.NotNil(t, cs.joinChan)
	assert.NotNil(t, cs.unloadRoomChan)
	assert.NotNil(t, cs.rooms)
	assert.Contains(t, su.Counts, "ActiveRooms", "expected metrics registered")
}

func Test_dispatcherJoin(t *testing.T) {
	t.Run("forwards to a loaded room", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockAnonymeetRepository{})
		room := newTestRoom(cs)
		cs.addRoom(room)

		c := newTestClient(cs, "user-1")
		msg := &ClientMessage{
			Join:   &JoinRoom{RoomId: room.id, UserId: "user-1", AnonymousId: "Anon#AB12"},
			client: c,
		}

		cs.handleJoin(msg)

		select {
		case got := <-room.joinChan:
			assert.Equal(t, msg, got)
		default:
			t.Error("expected join forwarded to room")
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db)
		c := newTestClient(cs, "user-1")

		db.On("GetRoomById", "room-missing").Return(database.Room{}, sql.ErrNoRows).Once()

		cs.handleJoin(&ClientMessage{
			Join:   &JoinRoom{RoomId: "room-missing", UserId: "user-1"},
			client: c,
		})

		msg := recvMessage(t, c)
		require.NotNil(t, msg.RoomError)
		assert.Equal(t, "Room not found", msg.RoomError.Error)
		assert.Empty(t, cs.rooms)
	})

	t.Run("ended room is not loaded", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db)
		c := newTestClient(cs, "user-1")

		db.On("GetRoomById", "room-1").Return(database.Room{Id: "room-1", IsActive: false}, nil).Once()

		cs.handleJoin(&ClientMessage{
			Join:   &JoinRoom{RoomId: "room-1", UserId: "user-1"},
			client: c,
		})

		msg := recvMessage(t, c)
		require.NotNil(t, msg.RoomError)
		assert.Equal(t, "Room not found or inactive", msg.RoomError.Error)
		assert.Empty(t, cs.rooms)
	})

	t.Run("loads room on first join", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db)
		c := newTestClient(cs, "user-1")

		db.On("GetRoomById", "room-1").Return(database.Room{
			Id:        "room-1",
			Name:      "standup",
			CreatedBy: "organizer-1",
			IsActive:  true,
		}, nil).Once()
		db.On("GetRecentMessages", "room-1", messageHistoryLimit).Return([]database.Message{}, nil).Once()
		db.On("GetActivePolls", "room-1").Return([]database.Poll{}, nil).Once()
		db.On("ActiveMemberExists", "room-1", "user-1", "Anon#AB12").Return(true).Once()

		cs.handleJoin(&ClientMessage{
			Join:   &JoinRoom{RoomId: "room-1", UserId: "user-1", AnonymousId: "Anon#AB12"},
			client: c,
		})

		assert.Equal(t, 1, cs.ActiveRooms())

		// The room goroutine hydrates and then services the queued join.
		assert.Eventually(t, func() bool {
			select {
			case msg := <-c.send:
				return msg.RoomState != nil
			default:
				return false
			}
		}, time.Second, 10*time.Millisecond, "expected room_state after hydration")

		room := cs.rooms["room-1"]
		require.NotNil(t, room)
		room.exit <- exitReq{}
		<-room.done
	})
}

func Test_handleUnload(t *testing.T) {
	t.Run("unloads a running room", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockAnonymeetRepository{})
		room := newTestRoom(cs)
		cs.addRoom(room)
		go room.run()

		reply := make(chan error, 1)
		cs.handleUnload(&unloadRoomRequest{roomId: room.id, reply: reply})

		assert.NoError(t, <-reply)
		assert.Empty(t, cs.rooms)

		select {
		case <-room.done:
		case <-time.After(time.Second):
			t.Error("timeout: room did not exit")
		}
	})

	t.Run("unknown room replies immediately", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockAnonymeetRepository{})

		reply := make(chan error, 1)
		cs.handleUnload(&unloadRoomRequest{roomId: "room-missing", reply: reply})
		assert.NoError(t, <-reply)
	})
}

func TestUnloadRoom(t *testing.T) {
	cs := newTestChatServer(t, &database.MockAnonymeetRepository{})
	room := newTestRoom(cs)
	cs.addRoom(room)

	go cs.Run()
	defer cs.Shutdown()

	c := newTestClient(cs, "user-1")
	joinTestMember(t, room, c, "Anon#AB12")
	go room.run()

	err := cs.UnloadRoom(context.Background(), room.id, true)
	assert.NoError(t, err)
	assert.Equal(t, 0, cs.ActiveRooms())

	msg := recvMessage(t, c)
	require.NotNil(t, msg.RoomEnded, "expected members notified the room ended")
	assert.Equal(t, room.id, msg.RoomEnded.RoomId)
}

func Test_addRemoveClient(t *testing.T) {
	cs := newTestChatServer(t, &database.MockAnonymeetRepository{})

	c := &Client{user: types.User{Id: "user-1"}}
	cs.addClient(c)
	assert.Equal(t, 1, cs.ConnectedClients())

	cs.removeClient(c)
	assert.Equal(t, 0, cs.ConnectedClients())
}

func TestShutdown(t *testing.T) {
	cs := newTestChatServer(t, &database.MockAnonymeetRepository{})
	room := newTestRoom(cs)
	cs.addRoom(room)
	go room.run()

	go cs.Run()
	cs.Shutdown()

	select {
	case <-room.done:
	case <-time.After(time.Second):
		t.Error("timeout: room did not exit on shutdown")
	}
}
