package types

import (
	"time"
)

type User struct {
	Id        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Room struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedBy string    `json:"created_by"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Member struct {
	Id          string    `json:"id,omitempty"`
	RoomId      string    `json:"room_id,omitempty"`
	UserId      string    `json:"userId"`
	AnonymousId string    `json:"anonymousId"`
	JoinedAt    time.Time `json:"joinedAt"`
	IsActive    bool      `json:"is_active,omitempty"`
}

// ParentMessage is the embedded preview of the message a reply points at.
type ParentMessage struct {
	Id          string `json:"id"`
	Content     string `json:"content"`
	AnonymousId string `json:"anonymous_id"`
}

type Message struct {
	Id            string            `json:"id"`
	RoomId        string            `json:"room_id"`
	UserId        string            `json:"user_id"`
	AnonymousId   string            `json:"anonymous_id"`
	Content       string            `json:"content"`
	CreatedAt     time.Time         `json:"created_at"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	ParentMessage *ParentMessage    `json:"parent_message"`
	Reactions     map[string]int    `json:"reactions"`
	UserReactions map[string]string `json:"user_reactions"`
}

type Poll struct {
	Id                 string         `json:"id"`
	RoomId             string         `json:"roomId"`
	CreatedBy          string         `json:"createdBy"`
	CreatorAnonymousId string         `json:"creatorAnonymousId"`
	Question           string         `json:"question"`
	PollType           string         `json:"pollType"`
	Options            []string       `json:"options"`
	Votes              map[string]int `json:"votes"`
	VoteCounts         []int          `json:"voteCounts"`
	IsActive           bool           `json:"isActive"`
	CreatedAt          time.Time      `json:"createdAt"`
}
