package database

import "time"

type User struct {
	Id           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id                   string
	Name                 string
	Code                 string
	CreatedBy            string
	OrganizerAnonymousId string
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type RoomMember struct {
	Id          string
	RoomId      string
	UserId      string
	AnonymousId string
	JoinedAt    time.Time
	IsActive    bool
}

type Message struct {
	Id            string
	RoomId        string
	UserId        string
	AnonymousId   string
	Content       string
	ReplyTo       string
	Reactions     map[string]int
	UserReactions map[string]string
	CreatedAt     time.Time
}

type Poll struct {
	Id                 string
	RoomId             string
	CreatedBy          string
	CreatorAnonymousId string
	Question           string
	PollType           string
	Options            []string
	Votes              map[string]int
	VoteCounts         []int
	IsActive           bool
	CreatedAt          time.Time
}

type CreateAccountParams struct {
	Email        string
	PasswordHash string
}

type CreateRoomParams struct {
	Name                 string
	Code                 string
	CreatedBy            string
	OrganizerAnonymousId string
}

type CreateMessageParams struct {
	RoomId      string
	UserId      string
	AnonymousId string
	Content     string
	ReplyTo     string
}

type CreatePollParams struct {
	RoomId             string
	CreatedBy          string
	CreatorAnonymousId string
	Question           string
	PollType           string
	Options            []string
}
