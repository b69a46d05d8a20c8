package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/anonymeet/anonymeet/internal/database"
	"github.com/anonymeet/anonymeet/internal/stats"
)

// ProfanityFilter screens and masks user-supplied text before it is stored
// or broadcast.
type ProfanityFilter interface {
	IsProfane(s string) bool
	Clean(s string) string
}

type unloadRoomRequest struct {
	roomId string
	ended  bool
	reply  chan error
}

// ChatServer is the dispatcher. It owns the map of loaded rooms, routes
// join requests, and loads rooms on demand. All room lifecycle transitions
// happen on its goroutine.
type ChatServer struct {
	log            *log.Logger
	db             database.AnonymeetRepository
	filter         ProfanityFilter
	stats          stats.StatsProvider
	idleTimeout    time.Duration
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan *unloadRoomRequest
	rooms          map[string]*Room
	roomsLock      sync.Mutex
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.AnonymeetRepository, filter ProfanityFilter, statsProvider stats.StatsProvider, idleTimeout time.Duration) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		filter:         filter,
		stats:          statsProvider,
		idleTimeout:    idleTimeout,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client, 256),
		unloadRoomChan: make(chan *unloadRoomRequest, 64),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	cs.stats.RegisterMetric("ActiveRooms")
	cs.stats.RegisterMetric("ConnectedClients")
	cs.stats.RegisterMetric("MessagesPublished")
	cs.stats.RegisterMetric("PollsCreated")

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case client := <-cs.RegisterChan:
			cs.addClient(client)
			cs.stats.Incr("ConnectedClients")
		case client := <-cs.deRegisterChan:
			cs.removeClient(client)
			cs.stats.Decr("ConnectedClients")
		case req := <-cs.unloadRoomChan:
			cs.handleUnload(req)
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				close(r.exit)
				<-r.done
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoin(joinMsg *ClientMessage) {
	if room, ok := cs.rooms[joinMsg.Join.RoomId]; ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", room.id)
			joinMsg.client.queueMessage(RoomErr("Failed to join room"))
		}
		return
	}

	dbRoom, err := cs.db.GetRoomById(joinMsg.Join.RoomId)
	if err != nil {
		joinMsg.client.queueMessage(RoomErr("Room not found"))
		return
	}

	if !dbRoom.IsActive {
		joinMsg.client.queueMessage(RoomErr("Room not found or inactive"))
		return
	}

	room := newRoom(dbRoom, cs)
	cs.addRoom(room)
	cs.stats.Incr("ActiveRooms")

	room.joinChan <- joinMsg

	go room.start()
}

func (cs *ChatServer) handleUnload(req *unloadRoomRequest) {
	r, ok := cs.rooms[req.roomId]
	if ok {
		cs.removeRoom(req.roomId)
		cs.stats.Decr("ActiveRooms")
		r.exit <- exitReq{ended: req.ended}
		<-r.done
	}

	if req.reply != nil {
		req.reply <- nil
	}
}

// UnloadRoom evicts a loaded room, notifying members that the room ended
// when ended is set. A no-op when the room is not in memory.
func (cs *ChatServer) UnloadRoom(ctx context.Context, roomId string, ended bool) error {
	req := &unloadRoomRequest{
		roomId: roomId,
		ended:  ended,
		reply:  make(chan error, 1),
	}

	select {
	case cs.unloadRoomChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChatServer) addRoom(r *Room) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()
	cs.rooms[r.id] = r
}

func (cs *ChatServer) removeRoom(id string) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()
	delete(cs.rooms, id)
}

func (cs *ChatServer) ActiveRooms() int {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()
	return len(cs.rooms)
}

func (cs *ChatServer) ConnectedClients() int {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	return len(cs.clients)
}

func (cs *ChatServer) Shutdown() {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	<-cs.done
}
