package database

type AnonymeetRepository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(id string) (User, error)
	GetAccountByEmail(email string) (User, error)

	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomById(id string) (Room, error)
	GetRoomByCode(code string) (Room, error)
	RoomCodeExists(code string) (bool, error)
	EndRoom(roomId string) error

	CreateMember(roomId, userId, anonymousId string) (RoomMember, error)
	GetMember(roomId, userId string) (RoomMember, error)
	ReactivateMember(roomId, userId string) error
	DeactivateMember(roomId, userId string) error
	ActiveMemberExists(roomId, userId, anonymousId string) bool
	ListActiveMembers(roomId string) ([]RoomMember, error)
	ListMemberships(userId string) ([]RoomMember, error)
	CountActiveMembers(roomId string) (int, error)

	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessageById(id string) (Message, error)
	UpdateMessageReactions(id string, reactions map[string]int, userReactions map[string]string) error
	GetRecentMessages(roomId string, limit int) ([]Message, error)

	CreatePoll(params CreatePollParams) (Poll, error)
	GetPollById(id string) (Poll, error)
	UpdatePollVotes(id string, votes map[string]int, voteCounts []int) error
	EndPoll(id string) error
	GetActivePolls(roomId string) ([]Poll, error)
}
