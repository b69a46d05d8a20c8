package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/anonymeet/anonymeet/internal/database"
	"github.com/anonymeet/anonymeet/internal/server"
	"github.com/anonymeet/anonymeet/internal/types"
	"github.com/gorilla/websocket"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

const uniqueViolation = "23505"

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type CreateRoomRequest struct {
	Name string `json:"name" validate:"required,min=3,max=100"`
}

type JoinRoomRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// RoomMembershipResponse is returned by both create and join; isOrganizer
// tells the client whether room controls should be shown.
type RoomMembershipResponse struct {
	Room        types.Room   `json:"room"`
	Member      types.Member `json:"member"`
	AnonymousId string       `json:"anonymousId"`
	IsOrganizer bool         `json:"isOrganizer"`
}

type RoomHistoryEntry struct {
	types.Room
	JoinedAt       time.Time `json:"joined_at"`
	MemberCount    int       `json:"member_count"`
	MemberIsActive bool      `json:"member_is_active"`
}

type RoomHistoryResponse struct {
	Rooms []RoomHistoryEntry `json:"rooms"`
}

type RoomStateResponse struct {
	Room     types.Room       `json:"room"`
	Members  []types.Member   `json:"members"`
	Polls    []*types.Poll    `json:"polls"`
	Messages []*types.Message `json:"messages"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	ActiveRooms    int       `json:"activeRooms"`
	ConnectedUsers int       `json:"connectedUsers"`
}

func (s *AnonymeetApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *AnonymeetApp) decodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}

	return s.validate.Struct(v)
}

func (s *AnonymeetApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newUser, err := s.db.CreateAccount(database.CreateAccountParams{
		Email:        strings.ToLower(req.Email),
		PasswordHash: pwdHash,
	})
	if err != nil {
		var errResp *ApiError
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			errResp = NewConflictError("email already in use")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(newUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusCreated, types.User{
		Id:        newUser.Id,
		Email:     newUser.Email,
		CreatedAt: newUser.CreatedAt,
	})
}

func (s *AnonymeetApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(strings.ToLower(req.Email))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, req.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(dbUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, types.User{
		Id:        dbUser.Id,
		Email:     dbUser.Email,
		CreatedAt: dbUser.CreatedAt,
	})
}

func (s *AnonymeetApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:        user.Id,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	})
}

func (s *AnonymeetApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *AnonymeetApp) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	code, err := s.generateRoomCode()
	if err != nil {
		s.log.Println("generate room code:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	anonymousId, err := generateAnonymousId()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newRoom, err := s.db.CreateRoom(database.CreateRoomParams{
		Name:                 req.Name,
		Code:                 code,
		CreatedBy:            userId,
		OrganizerAnonymousId: anonymousId,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.db.CreateMember(newRoom.Id, userId, anonymousId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, RoomMembershipResponse{
		Room:        toRoomPayload(newRoom),
		Member:      toMemberPayload(member),
		AnonymousId: anonymousId,
		IsOrganizer: true,
	})
}

func (s *AnonymeetApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req JoinRoomRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByCode(strings.ToUpper(req.Code))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if errors.Is(err, sql.ErrNoRows) || !room.IsActive {
		errResp := &ApiError{StatusCode: http.StatusNotFound, Message: "room not found or inactive"}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.db.GetMember(room.Id, userId)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		anonymousId, err := generateAnonymousId()
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		member, err = s.db.CreateMember(room.Id, userId, anonymousId)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	case err != nil:
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	default:
		// Rejoining keeps the member's original anonymous identity.
		if !member.IsActive {
			if err := s.db.ReactivateMember(room.Id, userId); err != nil {
				errResp := NewInternalServerError(err)
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
			member.IsActive = true
			member.JoinedAt = time.Now()
		}
	}

	s.writeJson(w, http.StatusOK, RoomMembershipResponse{
		Room:        toRoomPayload(room),
		Member:      toMemberPayload(member),
		AnonymousId: member.AnonymousId,
		IsOrganizer: room.CreatedBy == userId,
	})
}

func (s *AnonymeetApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("roomId")

	if _, err := s.db.GetMember(roomId, userId); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = &ApiError{StatusCode: http.StatusNotFound, Message: "membership not found"}
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeactivateMember(roomId, userId); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *AnonymeetApp) endRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("roomId")

	room, err := s.db.GetRoomById(roomId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.CreatedBy != userId {
		errResp := NewForbiddenError("only the organizer can end the room")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.EndRoom(room.Id); err != nil {
		s.log.Println("end room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.UnloadRoom(r.Context(), room.Id, true); err != nil {
		s.log.Println("unload room from chat server:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *AnonymeetApp) roomHistory(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	memberships, err := s.db.ListMemberships(userId)
	if err != nil {
		s.log.Println("list memberships:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms := make([]RoomHistoryEntry, 0, len(memberships))
	for _, membership := range memberships {
		room, err := s.db.GetRoomById(membership.RoomId)
		if err != nil {
			continue
		}

		memberCount, err := s.db.CountActiveMembers(room.Id)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		rooms = append(rooms, RoomHistoryEntry{
			Room:           toRoomPayload(room),
			JoinedAt:       membership.JoinedAt,
			MemberCount:    memberCount,
			MemberIsActive: membership.IsActive,
		})
	}

	s.writeJson(w, http.StatusOK, RoomHistoryResponse{Rooms: rooms})
}

func (s *AnonymeetApp) roomState(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("roomId")

	room, err := s.db.GetRoomById(roomId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	membership, err := s.db.GetMember(room.Id, userId)
	if err != nil || !membership.IsActive {
		errResp := NewForbiddenError("user is not an active member of this room")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMembers, err := s.db.ListActiveMembers(room.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbPolls, err := s.db.GetActivePolls(room.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMessages, err := s.db.GetRecentMessages(room.Id, 200)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	index := lo.KeyBy(dbMessages, func(m database.Message) string { return m.Id })

	s.writeJson(w, http.StatusOK, RoomStateResponse{
		Room:    toRoomPayload(room),
		Members: lo.Map(dbMembers, func(m database.RoomMember, _ int) types.Member { return toMemberPayload(m) }),
		Polls:   lo.Map(dbPolls, func(p database.Poll, _ int) *types.Poll { return toPollPayload(p) }),
		Messages: lo.Map(dbMessages, func(m database.Message, _ int) *types.Message {
			return toMessagePayload(m, index)
		}),
	})
}

func (s *AnonymeetApp) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, HealthResponse{
		Status:         "OK",
		Timestamp:      time.Now().UTC(),
		ActiveRooms:    s.cs.ActiveRooms(),
		ConnectedUsers: s.cs.ConnectedClients(),
	})
}

func (s *AnonymeetApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:        user.Id,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

func toRoomPayload(room database.Room) types.Room {
	return types.Room{
		Id:        room.Id,
		Name:      room.Name,
		Code:      room.Code,
		CreatedBy: room.CreatedBy,
		IsActive:  room.IsActive,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
}

func toMemberPayload(member database.RoomMember) types.Member {
	return types.Member{
		Id:          member.Id,
		RoomId:      member.RoomId,
		UserId:      member.UserId,
		AnonymousId: member.AnonymousId,
		JoinedAt:    member.JoinedAt,
		IsActive:    member.IsActive,
	}
}

func toPollPayload(p database.Poll) *types.Poll {
	payload := &types.Poll{
		Id:                 p.Id,
		RoomId:             p.RoomId,
		CreatedBy:          p.CreatedBy,
		CreatorAnonymousId: p.CreatorAnonymousId,
		Question:           p.Question,
		PollType:           p.PollType,
		Options:            p.Options,
		Votes:              p.Votes,
		VoteCounts:         p.VoteCounts,
		IsActive:           p.IsActive,
		CreatedAt:          p.CreatedAt,
	}

	if payload.Votes == nil {
		payload.Votes = make(map[string]int)
	}
	if payload.VoteCounts == nil {
		payload.VoteCounts = make([]int, len(p.Options))
	}

	return payload
}

func toMessagePayload(m database.Message, index map[string]database.Message) *types.Message {
	payload := &types.Message{
		Id:            m.Id,
		RoomId:        m.RoomId,
		UserId:        m.UserId,
		AnonymousId:   m.AnonymousId,
		Content:       m.Content,
		CreatedAt:     m.CreatedAt,
		ReplyTo:       m.ReplyTo,
		Reactions:     m.Reactions,
		UserReactions: m.UserReactions,
	}

	if payload.Reactions == nil {
		payload.Reactions = make(map[string]int)
	}
	if payload.UserReactions == nil {
		payload.UserReactions = make(map[string]string)
	}

	if m.ReplyTo != "" {
		if parent, ok := index[m.ReplyTo]; ok {
			payload.ParentMessage = &types.ParentMessage{
				Id:          parent.Id,
				Content:     parent.Content,
				AnonymousId: parent.AnonymousId,
			}
		}
	}

	return payload
}
