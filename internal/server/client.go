package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/anonymeet/anonymeet/internal/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(RoomErr("invalid message format"))
			continue
		}

		msg.client = c
		c.stampUserId(&msg)

		switch {
		case msg.Join != nil:
			c.joinRoom(&msg)
		case msg.Leave != nil:
			c.leaveRoom(&msg)
		case msg.Publish != nil:
			c.forwardEvent(msg.Publish.RoomId, &msg, MessageErr("Room not found"))
		case msg.Reaction != nil:
			c.forwardEvent(msg.Reaction.RoomId, &msg, MessageErr("Room not found"))
		case msg.CreatePoll != nil:
			c.forwardEvent(msg.CreatePoll.RoomId, &msg, PollErr("Room not found"))
		case msg.VotePoll != nil:
			c.forwardEvent(msg.VotePoll.RoomId, &msg, PollErr("Room not found"))
		case msg.EndPoll != nil:
			c.forwardEvent(msg.EndPoll.RoomId, &msg, PollErr("Room not found"))
		default:
			c.queueMessage(RoomErr("invalid message format"))
		}
	}
}

// stampUserId overwrites any client-supplied user id with the identity the
// connection authenticated as.
func (c *Client) stampUserId(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		msg.Join.UserId = c.user.Id
	case msg.Leave != nil:
		msg.Leave.UserId = c.user.Id
	case msg.Publish != nil:
		msg.Publish.UserId = c.user.Id
	case msg.Reaction != nil:
		msg.Reaction.UserId = c.user.Id
	case msg.CreatePoll != nil:
		msg.CreatePoll.UserId = c.user.Id
	case msg.VotePoll != nil:
		msg.VotePoll.UserId = c.user.Id
	case msg.EndPoll != nil:
		msg.EndPoll.UserId = c.user.Id
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.deRegisterChan <- c
	c.leaveAllRooms()
	c.stopClient()
}

// leaveAllRooms issues an implicit leave for every room this connection
// joined; a disconnect without a prior leave_room is treated identically to
// an explicit leave.
func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		leave := &ClientMessage{
			Leave:  &LeaveRoom{RoomId: room.id, UserId: c.user.Id},
			client: c,
		}
		select {
		case room.leaveChan <- leave:
		default:
			c.log.Printf("leave channel full for room %q", room.id)
		}
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	select {
	case c.chatServer.joinChan <- msg:
	default:
		c.log.Printf("join channel full")
		c.queueMessage(RoomErr("service unavailable"))
	}
}

func (c *Client) leaveRoom(msg *ClientMessage) {
	r := c.getRoom(msg.Leave.RoomId)
	if r == nil {
		return
	}

	select {
	case r.leaveChan <- msg:
	default:
		c.log.Printf("leave channel full for room %q", r.id)
		c.queueMessage(RoomErr("service unavailable"))
	}
}

func (c *Client) forwardEvent(roomId string, msg *ClientMessage, notFound *ServerMessage) {
	r := c.getRoom(roomId)
	if r == nil {
		c.queueMessage(notFound)
		return
	}

	select {
	case r.eventChan <- msg:
	default:
		c.log.Printf("event channel full for room %q", r.id)
		c.queueMessage(RoomErr("service unavailable"))
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.id] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	if room, ok := c.rooms[id]; ok {
		return room
	}

	return nil
}
