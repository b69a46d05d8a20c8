package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anonymeet/anonymeet/internal/config"
	"github.com/anonymeet/anonymeet/internal/database"
	"github.com/anonymeet/anonymeet/internal/filter"
	"github.com/anonymeet/anonymeet/internal/server"
	"github.com/anonymeet/anonymeet/internal/stats"
	"github.com/anonymeet/anonymeet/internal/testutil"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, db database.AnonymeetRepository) *AnonymeetApp {
	t.Helper()

	cfg := &config.Config{
		ServerAddr:      "localhost:0",
		SigningKey:      []byte("test-signing-key"),
		AllowedOrigins:  []string{"http://localhost:3000"},
		RoomIdleTimeout: 30 * time.Second,
	}

	logger := testutil.TestLogger(t)
	cs, err := server.NewChatServer(logger, db, filter.Default(), &stats.MockStatsUpdater{}, cfg.RoomIdleTimeout)
	require.NoError(t, err)

	go cs.Run()
	t.Cleanup(cs.Shutdown)

	return NewAnonymeetApp(http.NewServeMux(), logger, cs, db, cfg)
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()

	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

func authedRequest(method, target string, body *bytes.Buffer, userId string) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(WithUserId(req.Context(), userId))
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func Test_createAccount(t *testing.T) {
	t.Run("creates an account and starts a session", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("CreateAccount", mock.MatchedBy(func(p database.CreateAccountParams) bool {
			return p.Email == "newuser@example.com" && verifyPassword(p.PasswordHash, "password1")
		})).Return(database.User{Id: "user-1", Email: "newuser@example.com"}, nil).Once()

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
			jsonBody(t, RegisterRequest{Email: "NewUser@Example.com", Password: "password1"}))
		app.createAccount(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		cookie := findCookie(rr, tokenCookieKey)
		require.NotNil(t, cookie, "expected session cookie set")
		userId, err := app.extractUserIdFromToken(cookie.Value)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userId)
	})

	t.Run("invalid json body", func(t *testing.T) {
		app := newTestApp(t, &database.MockAnonymeetRepository{})

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader("invalid json"))
		app.createAccount(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects malformed email", func(t *testing.T) {
		app := newTestApp(t, &database.MockAnonymeetRepository{})

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
			jsonBody(t, RegisterRequest{Email: "not-an-email", Password: "password1"}))
		app.createAccount(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects short password", func(t *testing.T) {
		app := newTestApp(t, &database.MockAnonymeetRepository{})

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
			jsonBody(t, RegisterRequest{Email: "newuser@example.com", Password: "short"}))
		app.createAccount(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("duplicate email", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("CreateAccount", mock.Anything).
			Return(database.User{}, &pq.Error{Code: uniqueViolation}).Once()

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
			jsonBody(t, RegisterRequest{Email: "taken@example.com", Password: "password1"}))
		app.createAccount(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func Test_login(t *testing.T) {
	passwordHash, err := hashPassword("password1")
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetAccountByEmail", "user@example.com").Return(database.User{
			Id:           "user-1",
			Email:        "user@example.com",
			PasswordHash: passwordHash,
		}, nil).Once()

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			jsonBody(t, LoginRequest{Email: "user@example.com", Password: "password1"}))
		app.login(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.NotNil(t, findCookie(rr, tokenCookieKey), "expected session cookie set")
	})

	t.Run("unknown email", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetAccountByEmail", "missing@example.com").Return(database.User{}, sql.ErrNoRows).Once()

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			jsonBody(t, LoginRequest{Email: "missing@example.com", Password: "password1"}))
		app.login(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetAccountByEmail", "user@example.com").Return(database.User{
			Id:           "user-1",
			Email:        "user@example.com",
			PasswordHash: passwordHash,
		}, nil).Once()

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			jsonBody(t, LoginRequest{Email: "user@example.com", Password: "wrongpassword"}))
		app.login(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Nil(t, findCookie(rr, tokenCookieKey))
	})
}

func Test_session(t *testing.T) {
	t.Run("returns the authenticated user", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetAccountById", "user-1").Return(database.User{Id: "user-1", Email: "user@example.com"}, nil).Once()

		rr := httptest.NewRecorder()
		app.session(rr, authedRequest(http.MethodGet, "/api/auth/session", nil, "user-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "user@example.com")
	})

	t.Run("account no longer exists", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetAccountById", "user-1").Return(database.User{}, sql.ErrNoRows).Once()

		rr := httptest.NewRecorder()
		app.session(rr, authedRequest(http.MethodGet, "/api/auth/session", nil, "user-1"))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_logout(t *testing.T) {
	app := newTestApp(t, &database.MockAnonymeetRepository{})

	rr := httptest.NewRecorder()
	app.logout(rr, httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookie := findCookie(rr, tokenCookieKey)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value, "expected cookie cleared")
}

func Test_createRoom(t *testing.T) {
	t.Run("creates room and organizer membership", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("RoomCodeExists", mock.AnythingOfType("string")).Return(false, nil).Once()
		db.On("CreateRoom", mock.MatchedBy(func(p database.CreateRoomParams) bool {
			return p.Name == "standup" && p.CreatedBy == "user-1" &&
				len(p.Code) == roomCodeLength &&
				strings.HasPrefix(p.OrganizerAnonymousId, anonIdPrefix)
		})).Return(database.Room{
			Id:        "room-1",
			Name:      "standup",
			Code:      "AB12CD",
			CreatedBy: "user-1",
			IsActive:  true,
		}, nil).Once()
		db.On("CreateMember", "room-1", "user-1", mock.AnythingOfType("string")).
			Return(database.RoomMember{
				Id:          "member-1",
				RoomId:      "room-1",
				UserId:      "user-1",
				AnonymousId: "Anon#AB12",
				IsActive:    true,
			}, nil).Once()

		rr := httptest.NewRecorder()
		app.createRoom(rr, authedRequest(http.MethodPost, "/api/rooms",
			jsonBody(t, CreateRoomRequest{Name: "standup"}), "user-1"))

		assert.Equal(t, http.StatusCreated, rr.Code)

		var resp RoomMembershipResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "room-1", resp.Room.Id)
		assert.True(t, resp.IsOrganizer)
		assert.True(t, strings.HasPrefix(resp.AnonymousId, anonIdPrefix))
	})

	t.Run("name too short", func(t *testing.T) {
		app := newTestApp(t, &database.MockAnonymeetRepository{})

		rr := httptest.NewRecorder()
		app.createRoom(rr, authedRequest(http.MethodPost, "/api/rooms",
			jsonBody(t, CreateRoomRequest{Name: "ab"}), "user-1"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_joinRoom(t *testing.T) {
	activeRoom := database.Room{
		Id:        "room-1",
		Name:      "standup",
		Code:      "AB12CD",
		CreatedBy: "organizer-1",
		IsActive:  true,
	}

	t.Run("first join creates a membership", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		// codes are matched case-insensitively
		db.On("GetRoomByCode", "AB12CD").Return(activeRoom, nil).Once()
		db.On("GetMember", "room-1", "user-1").Return(database.RoomMember{}, sql.ErrNoRows).Once()
		db.On("CreateMember", "room-1", "user-1", mock.AnythingOfType("string")).
			Return(database.RoomMember{
				Id:          "member-1",
				RoomId:      "room-1",
				UserId:      "user-1",
				AnonymousId: "Anon#ZZ99",
				IsActive:    true,
			}, nil).Once()

		rr := httptest.NewRecorder()
		app.joinRoom(rr, authedRequest(http.MethodPost, "/api/rooms/join",
			jsonBody(t, JoinRoomRequest{Code: "ab12cd"}), "user-1"))

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp RoomMembershipResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "Anon#ZZ99", resp.AnonymousId)
		assert.False(t, resp.IsOrganizer)
	})

	t.Run("rejoin reactivates and keeps the anonymous id", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetRoomByCode", "AB12CD").Return(activeRoom, nil).Once()
		db.On("GetMember", "room-1", "user-1").Return(database.RoomMember{
			Id:          "member-1",
			RoomId:      "room-1",
			UserId:      "user-1",
			AnonymousId: "Anon#AB12",
			IsActive:    false,
		}, nil).Once()
		db.On("ReactivateMember", "room-1", "user-1").Return(nil).Once()

		rr := httptest.NewRecorder()
		app.joinRoom(rr, authedRequest(http.MethodPost, "/api/rooms/join",
			jsonBody(t, JoinRoomRequest{Code: "AB12CD"}), "user-1"))

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp RoomMembershipResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "Anon#AB12", resp.AnonymousId)
		assert.True(t, resp.Member.IsActive)
		db.AssertNotCalled(t, "CreateMember")
	})

	t.Run("ended room cannot be joined", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		ended := activeRoom
		ended.IsActive = false
		db.On("GetRoomByCode", "AB12CD").Return(ended, nil).Once()

		rr := httptest.NewRecorder()
		app.joinRoom(rr, authedRequest(http.MethodPost, "/api/rooms/join",
			jsonBody(t, JoinRoomRequest{Code: "AB12CD"}), "user-1"))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("unknown code", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetRoomByCode", "ZZZZZZ").Return(database.Room{}, sql.ErrNoRows).Once()

		rr := httptest.NewRecorder()
		app.joinRoom(rr, authedRequest(http.MethodPost, "/api/rooms/join",
			jsonBody(t, JoinRoomRequest{Code: "zzzzzz"}), "user-1"))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_leaveRoom(t *testing.T) {
	t.Run("deactivates the membership", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetMember", "room-1", "user-1").Return(database.RoomMember{
			Id: "member-1", RoomId: "room-1", UserId: "user-1", IsActive: true,
		}, nil).Once()
		db.On("DeactivateMember", "room-1", "user-1").Return(nil).Once()

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodPost, "/api/rooms/room-1/leave", nil, "user-1")
		req.SetPathValue("roomId", "room-1")
		app.leaveRoom(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("membership not found", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetMember", "room-1", "user-1").Return(database.RoomMember{}, sql.ErrNoRows).Once()

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodPost, "/api/rooms/room-1/leave", nil, "user-1")
		req.SetPathValue("roomId", "room-1")
		app.leaveRoom(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		db.AssertNotCalled(t, "DeactivateMember")
	})
}

func Test_endRoom(t *testing.T) {
	t.Run("organizer ends the room", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetRoomById", "room-1").Return(database.Room{
			Id: "room-1", CreatedBy: "user-1", IsActive: true,
		}, nil).Once()
		db.On("EndRoom", "room-1").Return(nil).Once()

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodPost, "/api/rooms/room-1/end", nil, "user-1")
		req.SetPathValue("roomId", "room-1")
		app.endRoom(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("only the organizer may end it", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetRoomById", "room-1").Return(database.Room{
			Id: "room-1", CreatedBy: "organizer-1", IsActive: true,
		}, nil).Once()

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodPost, "/api/rooms/room-1/end", nil, "user-2")
		req.SetPathValue("roomId", "room-1")
		app.endRoom(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		db.AssertNotCalled(t, "EndRoom")
	})
}

func Test_roomHistory(t *testing.T) {
	db := &database.MockAnonymeetRepository{}
	defer db.AssertExpectations(t)

	app := newTestApp(t, db)

	joined := time.Now().Add(-time.Hour)
	db.On("ListMemberships", "user-1").Return([]database.RoomMember{
		{Id: "member-1", RoomId: "room-1", UserId: "user-1", JoinedAt: joined, IsActive: true},
		{Id: "member-2", RoomId: "room-gone", UserId: "user-1", JoinedAt: joined, IsActive: false},
	}, nil).Once()
	db.On("GetRoomById", "room-1").Return(database.Room{
		Id: "room-1", Name: "standup", Code: "AB12CD", CreatedBy: "user-1", IsActive: true,
	}, nil).Once()
	db.On("GetRoomById", "room-gone").Return(database.Room{}, sql.ErrNoRows).Once()
	db.On("CountActiveMembers", "room-1").Return(3, nil).Once()

	rr := httptest.NewRecorder()
	app.roomHistory(rr, authedRequest(http.MethodGet, "/api/rooms/history", nil, "user-1"))

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp RoomHistoryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1, "expected unresolvable rooms skipped")
	assert.Equal(t, "room-1", resp.Rooms[0].Id)
	assert.Equal(t, 3, resp.Rooms[0].MemberCount)
	assert.True(t, resp.Rooms[0].MemberIsActive)
}

func Test_roomState(t *testing.T) {
	t.Run("returns members, polls and messages", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetRoomById", "room-1").Return(database.Room{
			Id: "room-1", Name: "standup", CreatedBy: "organizer-1", IsActive: true,
		}, nil).Once()
		db.On("GetMember", "room-1", "user-1").Return(database.RoomMember{
			Id: "member-1", RoomId: "room-1", UserId: "user-1", AnonymousId: "Anon#AB12", IsActive: true,
		}, nil).Once()
		db.On("ListActiveMembers", "room-1").Return([]database.RoomMember{
			{Id: "member-1", RoomId: "room-1", UserId: "user-1", AnonymousId: "Anon#AB12", IsActive: true},
		}, nil).Once()
		db.On("GetActivePolls", "room-1").Return([]database.Poll{
			{Id: "poll-1", RoomId: "room-1", Options: []string{"Yes", "No"}, IsActive: true},
		}, nil).Once()
		db.On("GetRecentMessages", "room-1", 200).Return([]database.Message{
			{Id: "msg-1", RoomId: "room-1", Content: "original", AnonymousId: "Anon#CD34"},
			{Id: "msg-2", RoomId: "room-1", Content: "a reply", ReplyTo: "msg-1"},
		}, nil).Once()

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodGet, "/api/rooms/room-1/state", nil, "user-1")
		req.SetPathValue("roomId", "room-1")
		app.roomState(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp RoomStateResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Len(t, resp.Members, 1)
		assert.Len(t, resp.Polls, 1)
		require.Len(t, resp.Messages, 2)
		require.NotNil(t, resp.Messages[1].ParentMessage, "expected reply preview resolved")
		assert.Equal(t, "original", resp.Messages[1].ParentMessage.Content)
	})

	t.Run("inactive member is forbidden", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetRoomById", "room-1").Return(database.Room{Id: "room-1", IsActive: true}, nil).Once()
		db.On("GetMember", "room-1", "user-1").Return(database.RoomMember{
			Id: "member-1", RoomId: "room-1", UserId: "user-1", IsActive: false,
		}, nil).Once()

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodGet, "/api/rooms/room-1/state", nil, "user-1")
		req.SetPathValue("roomId", "room-1")
		app.roomState(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unknown room", func(t *testing.T) {
		db := &database.MockAnonymeetRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		db.On("GetRoomById", "room-missing").Return(database.Room{}, sql.ErrNoRows).Once()

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodGet, "/api/rooms/room-missing/state", nil, "user-1")
		req.SetPathValue("roomId", "room-missing")
		app.roomState(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_health(t *testing.T) {
	app := newTestApp(t, &database.MockAnonymeetRepository{})

	rr := httptest.NewRecorder()
	app.health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, 0, resp.ActiveRooms)
}
