package database

import (
	"github.com/stretchr/testify/mock"
)

type MockAnonymeetRepository struct {
	mock.Mock
}

func (m *MockAnonymeetRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockAnonymeetRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockAnonymeetRepository) GetAccountById(id string) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockAnonymeetRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockAnonymeetRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockAnonymeetRepository) GetRoomById(id string) (Room, error) {
	args := m.Called(id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockAnonymeetRepository) GetRoomByCode(code string) (Room, error) {
	args := m.Called(code)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockAnonymeetRepository) RoomCodeExists(code string) (bool, error) {
	args := m.Called(code)
	return args.Bool(0), args.Error(1)
}
func (m *MockAnonymeetRepository) EndRoom(roomId string) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockAnonymeetRepository) CreateMember(roomId, userId, anonymousId string) (RoomMember, error) {
	args := m.Called(roomId, userId, anonymousId)
	return args.Get(0).(RoomMember), args.Error(1)
}
func (m *MockAnonymeetRepository) GetMember(roomId, userId string) (RoomMember, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(RoomMember), args.Error(1)
}
func (m *MockAnonymeetRepository) ReactivateMember(roomId, userId string) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockAnonymeetRepository) DeactivateMember(roomId, userId string) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockAnonymeetRepository) ActiveMemberExists(roomId, userId, anonymousId string) bool {
	args := m.Called(roomId, userId, anonymousId)
	return args.Bool(0)
}
func (m *MockAnonymeetRepository) ListActiveMembers(roomId string) ([]RoomMember, error) {
	args := m.Called(roomId)
	return args.Get(0).([]RoomMember), args.Error(1)
}
func (m *MockAnonymeetRepository) ListMemberships(userId string) ([]RoomMember, error) {
	args := m.Called(userId)
	return args.Get(0).([]RoomMember), args.Error(1)
}
func (m *MockAnonymeetRepository) CountActiveMembers(roomId string) (int, error) {
	args := m.Called(roomId)
	return args.Int(0), args.Error(1)
}
func (m *MockAnonymeetRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockAnonymeetRepository) GetMessageById(id string) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockAnonymeetRepository) UpdateMessageReactions(id string, reactions map[string]int, userReactions map[string]string) error {
	args := m.Called(id, reactions, userReactions)
	return args.Error(0)
}
func (m *MockAnonymeetRepository) GetRecentMessages(roomId string, limit int) ([]Message, error) {
	args := m.Called(roomId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockAnonymeetRepository) CreatePoll(params CreatePollParams) (Poll, error) {
	args := m.Called(params)
	return args.Get(0).(Poll), args.Error(1)
}
func (m *MockAnonymeetRepository) GetPollById(id string) (Poll, error) {
	args := m.Called(id)
	return args.Get(0).(Poll), args.Error(1)
}
func (m *MockAnonymeetRepository) UpdatePollVotes(id string, votes map[string]int, voteCounts []int) error {
	args := m.Called(id, votes, voteCounts)
	return args.Error(0)
}
func (m *MockAnonymeetRepository) EndPoll(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockAnonymeetRepository) GetActivePolls(roomId string) ([]Poll, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Poll), args.Error(1)
}
