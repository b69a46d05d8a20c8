package server

import (
	"log"
	"sort"
	"time"

	"github.com/anonymeet/anonymeet/internal/database"
	"github.com/anonymeet/anonymeet/internal/types"
)

const (
	// messageWindowSize caps the in-memory history; older messages are
	// evicted oldest-first but remain in the database.
	messageWindowSize = 500
	// messageHistoryLimit is how many recent messages are loaded when a
	// room is brought into memory.
	messageHistoryLimit = 200
)

type memberInfo struct {
	client      *Client
	anonymousId string
	joinedAt    time.Time
}

type exitReq struct {
	ended bool
}

// Room owns all live state for one active room. Every mutation goes through
// the room's goroutine, so handlers never need locks.
type Room struct {
	id          string
	name        string
	organizerId string
	chatServer  *ChatServer

	joinChan  chan *ClientMessage
	leaveChan chan *ClientMessage
	eventChan chan *ClientMessage
	exit      chan exitReq
	done      chan struct{}

	members   map[string]*memberInfo
	messages  []*types.Message
	msgIndex  map[string]*types.Message
	polls     map[string]*types.Poll
	pollOrder []string

	killTimer   *time.Timer
	idleTimeout time.Duration
	log         *log.Logger
}

func newRoom(dbRoom database.Room, cs *ChatServer) *Room {
	return &Room{
		id:          dbRoom.Id,
		name:        dbRoom.Name,
		organizerId: dbRoom.CreatedBy,
		chatServer:  cs,
		joinChan:    make(chan *ClientMessage, 32),
		leaveChan:   make(chan *ClientMessage, 32),
		eventChan:   make(chan *ClientMessage, 256),
		exit:        make(chan exitReq),
		done:        make(chan struct{}),
		members:     make(map[string]*memberInfo),
		msgIndex:    make(map[string]*types.Message),
		polls:       make(map[string]*types.Poll),
		killTimer:   time.NewTimer(cs.idleTimeout),
		idleTimeout: cs.idleTimeout,
		log:         cs.log,
	}
}

// start hydrates the room from the database and runs the event loop. The
// dispatcher registers the room before calling start, so events arriving
// during hydration queue up on the buffered channels and are handled in
// order once the loop begins.
func (r *Room) start() {
	if err := r.hydrate(); err != nil {
		r.log.Printf("failed to hydrate room %q: %v", r.id, err)
		r.abort()
		return
	}

	r.run()
}

func (r *Room) run() {
	r.log.Printf("starting room %q", r.id)
	defer r.log.Printf("room %q exited", r.id)

	for {
		select {
		case msg := <-r.joinChan:
			r.handleJoin(msg)
		case msg := <-r.leaveChan:
			r.handleLeave(msg)
		case msg := <-r.eventChan:
			r.handleEvent(msg)
		case <-r.killTimer.C:
			r.handleTimeout()
		case req := <-r.exit:
			r.handleExit(req)
			return
		}
	}
}

// abort rejects traffic and waits for the dispatcher to unload the room.
// Used when hydration fails.
func (r *Room) abort() {
	r.requestUnload()

	for {
		select {
		case msg := <-r.joinChan:
			msg.client.queueMessage(RoomErr("Failed to join room"))
		case <-r.leaveChan:
		case <-r.eventChan:
		case <-r.exit:
			close(r.done)
			return
		}
	}
}

func (r *Room) hydrate() error {
	msgs, err := r.chatServer.db.GetRecentMessages(r.id, messageHistoryLimit)
	if err != nil {
		return err
	}

	polls, err := r.chatServer.db.GetActivePolls(r.id)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		payload := r.serializeMessage(m)
		r.messages = append(r.messages, payload)
		r.msgIndex[payload.Id] = payload
	}

	for _, p := range polls {
		payload := serializePoll(p)
		r.polls[payload.Id] = payload
		r.pollOrder = append(r.pollOrder, payload.Id)
	}

	return nil
}

func (r *Room) handleEvent(msg *ClientMessage) {
	switch {
	case msg.Publish != nil:
		r.handleSendMessage(msg)
	case msg.Reaction != nil:
		r.handleReaction(msg)
	case msg.CreatePoll != nil:
		r.handleCreatePoll(msg)
	case msg.VotePoll != nil:
		r.handleVotePoll(msg)
	case msg.EndPoll != nil:
		r.handleEndPoll(msg)
	}
}

func (r *Room) handleJoin(msg *ClientMessage) {
	r.killTimer.Stop()

	join := msg.Join
	client := msg.client

	if !r.chatServer.db.ActiveMemberExists(r.id, join.UserId, join.AnonymousId) {
		client.queueMessage(RoomErr("Membership not found"))
		if len(r.members) == 0 {
			r.killTimer.Reset(r.idleTimeout)
		}
		return
	}

	joinedAt := time.Now()
	if prior, ok := r.members[join.UserId]; ok {
		// Reconnect: the new connection replaces the old one.
		if prior.client != client {
			prior.client.delRoom(r.id)
		}
		joinedAt = prior.joinedAt
	}

	r.members[join.UserId] = &memberInfo{
		client:      client,
		anonymousId: join.AnonymousId,
		joinedAt:    joinedAt,
	}
	client.addRoom(r)

	members := r.memberList()

	client.queueMessage(&ServerMessage{
		RoomState: &RoomState{
			Members:  members,
			Messages: r.messageSnapshot(),
			Polls:    r.pollList(),
		},
	})

	r.broadcast(&ServerMessage{
		UserJoined: &UserJoined{
			UserId:      join.UserId,
			AnonymousId: join.AnonymousId,
			Members:     members,
			OrganizerId: r.organizerId,
		},
	})
}

func (r *Room) handleLeave(msg *ClientMessage) {
	leave := msg.Leave

	info, ok := r.members[leave.UserId]
	if !ok || info.client != msg.client {
		// A stale connection leaving must not evict the member's
		// current connection.
		return
	}

	delete(r.members, leave.UserId)
	msg.client.delRoom(r.id)

	if len(r.members) == 0 {
		r.killTimer.Reset(r.idleTimeout)
	}

	r.broadcast(&ServerMessage{
		UserLeft: &UserLeft{
			UserId:      leave.UserId,
			AnonymousId: info.anonymousId,
			Members:     r.memberList(),
		},
		SkipClient: msg.client,
	})
}

func (r *Room) handleSendMessage(msg *ClientMessage) {
	ev := msg.Publish

	if r.chatServer.filter.IsProfane(ev.Content) {
		msg.client.queueMessage(MessageErr("Message contains inappropriate content and cannot be sent."))
		return
	}

	if !r.chatServer.db.ActiveMemberExists(r.id, ev.UserId, ev.AnonymousId) {
		msg.client.queueMessage(MessageErr("Membership not found"))
		return
	}

	created, err := r.chatServer.db.CreateMessage(database.CreateMessageParams{
		RoomId:      r.id,
		UserId:      ev.UserId,
		AnonymousId: ev.AnonymousId,
		Content:     r.chatServer.filter.Clean(ev.Content),
		ReplyTo:     ev.ReplyTo,
	})
	if err != nil {
		r.log.Printf("failed to create message in room %q: %v", r.id, err)
		msg.client.queueMessage(MessageErr("Failed to send message"))
		return
	}

	payload := r.serializeMessage(created)
	r.messages = append(r.messages, payload)
	r.msgIndex[payload.Id] = payload

	if len(r.messages) > messageWindowSize {
		evicted := r.messages[0]
		r.messages = r.messages[1:]
		delete(r.msgIndex, evicted.Id)
	}

	r.chatServer.stats.Incr("MessagesPublished")
	r.broadcast(&ServerMessage{NewMessage: payload})
}

func (r *Room) handleReaction(msg *ClientMessage) {
	ev := msg.Reaction

	info, ok := r.members[ev.UserId]
	if !ok {
		msg.client.queueMessage(MessageErr("Membership not found"))
		return
	}

	if !r.chatServer.db.ActiveMemberExists(r.id, ev.UserId, info.anonymousId) {
		msg.client.queueMessage(MessageErr("Membership not found"))
		return
	}

	dbMsg, err := r.chatServer.db.GetMessageById(ev.MessageId)
	if err != nil || dbMsg.RoomId != r.id {
		return
	}

	reactions := copyCounts(dbMsg.Reactions)
	userReactions := copyUserReactions(dbMsg.UserReactions)

	current := userReactions[ev.UserId]
	if current == ev.ReactionType {
		// Same reaction again removes it.
		decrementReaction(reactions, current)
		delete(userReactions, ev.UserId)
	} else {
		if current != "" {
			decrementReaction(reactions, current)
		}
		reactions[ev.ReactionType]++
		userReactions[ev.UserId] = ev.ReactionType
	}

	if err := r.chatServer.db.UpdateMessageReactions(ev.MessageId, reactions, userReactions); err != nil {
		r.log.Printf("failed to update reactions on message %q: %v", ev.MessageId, err)
		return
	}

	if cached, ok := r.msgIndex[ev.MessageId]; ok {
		// Replace rather than mutate: client write pumps may be
		// marshaling the old payload.
		updated := *cached
		updated.Reactions = reactions
		updated.UserReactions = userReactions
		r.replaceMessage(&updated)
	}

	r.broadcast(&ServerMessage{
		ReactionUpdate: &ReactionUpdate{
			MessageId:     ev.MessageId,
			Reactions:     reactions,
			UserReactions: userReactions,
		},
	})
}

func (r *Room) handleCreatePoll(msg *ClientMessage) {
	ev := msg.CreatePoll

	if r.chatServer.filter.IsProfane(ev.Question) {
		msg.client.queueMessage(PollErr("Poll question contains inappropriate content."))
		return
	}

	if !r.chatServer.db.ActiveMemberExists(r.id, ev.UserId, ev.AnonymousId) {
		msg.client.queueMessage(PollErr("Membership not found"))
		return
	}

	if len(ev.Options) == 0 {
		msg.client.queueMessage(PollErr("Poll must have at least one option"))
		return
	}

	options := make([]string, len(ev.Options))
	for i, opt := range ev.Options {
		if r.chatServer.filter.IsProfane(opt) {
			msg.client.queueMessage(PollErr("Poll option contains inappropriate content."))
			return
		}
		options[i] = r.chatServer.filter.Clean(opt)
	}

	pollType := ev.PollType
	if pollType != "yesno" {
		pollType = "custom"
	}

	created, err := r.chatServer.db.CreatePoll(database.CreatePollParams{
		RoomId:             r.id,
		CreatedBy:          ev.UserId,
		CreatorAnonymousId: ev.AnonymousId,
		Question:           r.chatServer.filter.Clean(ev.Question),
		PollType:           pollType,
		Options:            options,
	})
	if err != nil {
		r.log.Printf("failed to create poll in room %q: %v", r.id, err)
		msg.client.queueMessage(PollErr("Failed to create poll"))
		return
	}

	payload := serializePoll(created)
	r.polls[payload.Id] = payload
	r.pollOrder = append(r.pollOrder, payload.Id)

	r.chatServer.stats.Incr("PollsCreated")
	r.broadcast(&ServerMessage{NewPoll: payload})
}

func (r *Room) handleVotePoll(msg *ClientMessage) {
	ev := msg.VotePoll

	if !r.chatServer.db.ActiveMemberExists(r.id, ev.UserId, ev.AnonymousId) {
		msg.client.queueMessage(PollErr("Membership not found"))
		return
	}

	cached, ok := r.polls[ev.PollId]
	if !ok || !cached.IsActive {
		// Votes on ended or foreign polls are dropped without error.
		return
	}

	if ev.OptionIndex < 0 || ev.OptionIndex >= len(cached.Options) {
		msg.client.queueMessage(PollErr("Invalid poll option"))
		return
	}

	votes := copyCounts(cached.Votes)
	votes[ev.UserId] = ev.OptionIndex

	voteCounts := make([]int, len(cached.Options))
	for _, idx := range votes {
		if idx >= 0 && idx < len(voteCounts) {
			voteCounts[idx]++
		}
	}

	if err := r.chatServer.db.UpdatePollVotes(ev.PollId, votes, voteCounts); err != nil {
		r.log.Printf("failed to update votes on poll %q: %v", ev.PollId, err)
		msg.client.queueMessage(PollErr("Failed to record vote"))
		return
	}

	updated := *cached
	updated.Votes = votes
	updated.VoteCounts = voteCounts
	r.polls[ev.PollId] = &updated

	r.broadcast(&ServerMessage{
		PollVoteUpdate: &PollVoteUpdate{
			PollId:      ev.PollId,
			UserId:      ev.UserId,
			OptionIndex: ev.OptionIndex,
			AnonymousId: ev.AnonymousId,
			VoteCounts:  voteCounts,
			TotalVotes:  len(votes),
		},
	})
}

func (r *Room) handleEndPoll(msg *ClientMessage) {
	ev := msg.EndPoll

	cached, ok := r.polls[ev.PollId]
	if !ok {
		msg.client.queueMessage(PollErr("Poll not found"))
		return
	}

	if cached.CreatedBy != ev.UserId {
		msg.client.queueMessage(PollErr("Only poll creator can end the poll"))
		return
	}

	if err := r.chatServer.db.EndPoll(ev.PollId); err != nil {
		r.log.Printf("failed to end poll %q: %v", ev.PollId, err)
		msg.client.queueMessage(PollErr("Failed to end poll"))
		return
	}

	delete(r.polls, ev.PollId)
	for i, id := range r.pollOrder {
		if id == ev.PollId {
			r.pollOrder = append(r.pollOrder[:i], r.pollOrder[i+1:]...)
			break
		}
	}

	r.broadcast(&ServerMessage{PollEnded: &PollEnded{PollId: ev.PollId}})
}

func (r *Room) handleTimeout() {
	if len(r.members) > 0 {
		return
	}

	if !r.requestUnload() {
		r.killTimer.Reset(r.idleTimeout)
	}
}

func (r *Room) handleExit(req exitReq) {
	if req.ended {
		r.broadcast(&ServerMessage{RoomEnded: &RoomEnded{RoomId: r.id}})
	}

	for _, info := range r.members {
		info.client.delRoom(r.id)
	}

	// Joins the dispatcher forwarded before unloading are rejected; the
	// client re-joins against a freshly loaded room.
	for {
		select {
		case msg := <-r.joinChan:
			msg.client.queueMessage(RoomErr("Room not found"))
		default:
			r.killTimer.Stop()
			close(r.done)
			return
		}
	}
}

func (r *Room) requestUnload() bool {
	select {
	case r.chatServer.unloadRoomChan <- &unloadRoomRequest{roomId: r.id}:
		return true
	default:
		r.log.Printf("unload channel full, room %q remains loaded", r.id)
		return false
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	for _, info := range r.members {
		if info.client == msg.SkipClient {
			continue
		}
		info.client.queueMessage(msg)
	}
}

// serializeMessage builds the wire payload for a stored message, resolving
// the reply preview against the in-memory window. Replies to messages
// outside the window carry no preview.
func (r *Room) serializeMessage(m database.Message) *types.Message {
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
		if parent, ok := r.msgIndex[m.ReplyTo]; ok {
			payload.ParentMessage = &types.ParentMessage{
				Id:          parent.Id,
				Content:     parent.Content,
				AnonymousId: parent.AnonymousId,
			}
		}
	}

	return payload
}

func serializePoll(p database.Poll) *types.Poll {
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

func (r *Room) replaceMessage(m *types.Message) {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Id == m.Id {
			r.messages[i] = m
			break
		}
	}
	r.msgIndex[m.Id] = m
}

func (r *Room) messageSnapshot() []*types.Message {
	return append([]*types.Message(nil), r.messages...)
}

func (r *Room) pollList() []*types.Poll {
	polls := make([]*types.Poll, 0, len(r.pollOrder))
	for _, id := range r.pollOrder {
		polls = append(polls, r.polls[id])
	}

	return polls
}

func (r *Room) memberList() []types.Member {
	members := make([]types.Member, 0, len(r.members))
	for userId, info := range r.members {
		members = append(members, types.Member{
			UserId:      userId,
			AnonymousId: info.anonymousId,
			JoinedAt:    info.joinedAt,
		})
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})

	return members
}

func decrementReaction(reactions map[string]int, reactionType string) {
	if reactions[reactionType] <= 1 {
		delete(reactions, reactionType)
	} else {
		reactions[reactionType]--
	}
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}

func copyUserReactions(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}
