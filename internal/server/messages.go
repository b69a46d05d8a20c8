package server

import (
	"github.com/anonymeet/anonymeet/internal/types"
)

// ClientMessage is the inbound event envelope. Exactly one event field is set;
// the JSON key is the event name.
type ClientMessage struct {
	Join       *JoinRoom    `json:"join_room,omitempty"`
	Leave      *LeaveRoom   `json:"leave_room,omitempty"`
	Publish    *SendMessage `json:"send_message,omitempty"`
	Reaction   *AddReaction `json:"add_reaction,omitempty"`
	CreatePoll *CreatePoll  `json:"create_poll,omitempty"`
	VotePoll   *VotePoll    `json:"vote_poll,omitempty"`
	EndPoll    *EndPoll     `json:"end_poll,omitempty"`

	client *Client
}

type JoinRoom struct {
	RoomId      string `json:"roomId"`
	UserId      string `json:"userId"`
	AnonymousId string `json:"anonymousId"`
}

type LeaveRoom struct {
	RoomId      string `json:"roomId"`
	UserId      string `json:"userId"`
	AnonymousId string `json:"anonymousId"`
}

type SendMessage struct {
	RoomId      string `json:"roomId"`
	UserId      string `json:"userId"`
	Content     string `json:"content"`
	AnonymousId string `json:"anonymousId"`
	ReplyTo     string `json:"replyTo,omitempty"`
}

type AddReaction struct {
	RoomId       string `json:"roomId"`
	MessageId    string `json:"messageId"`
	UserId       string `json:"userId"`
	ReactionType string `json:"reactionType"`
}

type CreatePoll struct {
	RoomId      string   `json:"roomId"`
	UserId      string   `json:"userId"`
	Question    string   `json:"question"`
	PollType    string   `json:"pollType"`
	Options     []string `json:"options"`
	AnonymousId string   `json:"anonymousId"`
}

type VotePoll struct {
	RoomId      string `json:"roomId"`
	PollId      string `json:"pollId"`
	UserId      string `json:"userId"`
	OptionIndex int    `json:"optionIndex"`
	AnonymousId string `json:"anonymousId"`
}

type EndPoll struct {
	RoomId string `json:"roomId"`
	PollId string `json:"pollId"`
	UserId string `json:"userId"`
}

// ServerMessage is the outbound event envelope, mirroring ClientMessage.
type ServerMessage struct {
	RoomState      *RoomState      `json:"room_state,omitempty"`
	UserJoined     *UserJoined     `json:"user_joined,omitempty"`
	UserLeft       *UserLeft       `json:"user_left,omitempty"`
	NewMessage     *types.Message  `json:"new_message,omitempty"`
	ReactionUpdate *ReactionUpdate `json:"reaction_update,omitempty"`
	NewPoll        *types.Poll     `json:"new_poll,omitempty"`
	PollVoteUpdate *PollVoteUpdate `json:"poll_vote_update,omitempty"`
	PollEnded      *PollEnded      `json:"poll_ended,omitempty"`
	RoomEnded      *RoomEnded      `json:"room_ended,omitempty"`
	RoomError      *EventError     `json:"room_error,omitempty"`
	MessageError   *EventError     `json:"message_error,omitempty"`
	PollError      *EventError     `json:"poll_error,omitempty"`

	SkipClient *Client `json:"-"`
}

// RoomState is the full snapshot sent to a joining connection only.
type RoomState struct {
	Members  []types.Member   `json:"members"`
	Messages []*types.Message `json:"messages"`
	Polls    []*types.Poll    `json:"polls"`
}

type UserJoined struct {
	UserId      string         `json:"userId"`
	AnonymousId string         `json:"anonymousId"`
	Members     []types.Member `json:"members"`
	OrganizerId string         `json:"organizer_id"`
}

type UserLeft struct {
	UserId      string         `json:"userId"`
	AnonymousId string         `json:"anonymousId"`
	Members     []types.Member `json:"members"`
}

type ReactionUpdate struct {
	MessageId     string            `json:"messageId"`
	Reactions     map[string]int    `json:"reactions"`
	UserReactions map[string]string `json:"user_reactions"`
}

type PollVoteUpdate struct {
	PollId      string `json:"pollId"`
	UserId      string `json:"userId"`
	OptionIndex int    `json:"optionIndex"`
	AnonymousId string `json:"anonymousId"`
	VoteCounts  []int  `json:"voteCounts"`
	TotalVotes  int    `json:"totalVotes"`
}

type PollEnded struct {
	PollId string `json:"pollId"`
}

type RoomEnded struct {
	RoomId string `json:"roomId"`
}

// EventError is a scoped error delivered to the initiating connection only.
type EventError struct {
	Error string `json:"error"`
}

func RoomErr(msg string) *ServerMessage {
	return &ServerMessage{RoomError: &EventError{Error: msg}}
}

func MessageErr(msg string) *ServerMessage {
	return &ServerMessage{MessageError: &EventError{Error: msg}}
}

func PollErr(msg string) *ServerMessage {
	return &ServerMessage{PollError: &EventError{Error: msg}}
}
