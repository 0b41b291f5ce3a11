package ws

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/music-chat-room/internal/room"
	"github.com/music-chat-room/internal/roster"
	"github.com/music-chat-room/pkg/events"
	"github.com/music-chat-room/pkg/protocol"
)

const auditBuffer = 1024

type inbound struct {
	client *Client
	env    protocol.Envelope
}

// Hub is the room coordinator. Every registration, departure and client
// request passes through Run, one at a time, so the chat ids, the queue
// order and the broadcasts every connection sees share a single order.
type Hub struct {
	service   *room.Service
	roster    *roster.Roster
	publisher events.Publisher

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	audit      chan events.Event
	done       chan struct{}
	auditWG    sync.WaitGroup
}

func NewHub(service *room.Service, roster *roster.Roster, publisher events.Publisher) *Hub {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Hub{
		service:    service,
		roster:     roster,
		publisher:  publisher,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		audit:      make(chan events.Event, auditBuffer),
		done:       make(chan struct{}),
	}
}

// Run processes hub traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.auditWG.Add(1)
	go h.publishLoop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[hub] Shutting down...")
			h.closeAllClients()
			close(h.audit)
			h.auditWG.Wait()
			close(h.done)
			return
		case client := <-h.register:
			h.handleRegister(ctx, client)
		case client := <-h.unregister:
			h.remove(client)
		case in := <-h.inbound:
			h.handleInbound(ctx, in)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

// Register adds a connection. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Dispatch queues a decoded request from client.
func (h *Hub) Dispatch(client *Client, env protocol.Envelope) bool {
	select {
	case h.inbound <- inbound{client: client, env: env}:
		return true
	case <-h.done:
		return false
	}
}

// OnlineUsers returns the current roster snapshot.
func (h *Hub) OnlineUsers() []protocol.OnlineUser {
	return h.roster.Snapshot()
}

func (h *Hub) handleRegister(ctx context.Context, client *Client) {
	h.clients[client] = struct{}{}
	log.Printf("[hub] Client %s (%s) registered", client.ID, client.Identity.Username)

	online, first := h.roster.Join(client.Identity.UserID, client.Identity.Username)
	if first {
		h.broadcast(events.EventTypeUserJoined, client.Identity.UserID, protocol.UserJoined{
			UserID:      client.Identity.UserID,
			Username:    client.Identity.Username,
			OnlineUsers: online,
		}, client)
	}

	queue, err := h.service.Snapshot(ctx)
	if err != nil {
		log.Printf("[hub] Failed to load queue for client %s: %v", client.ID, err)
		return
	}
	data, err := protocol.Encode(protocol.QueueUpdate{Queue: queue})
	if err != nil {
		log.Printf("[hub] Failed to encode queue update: %v", err)
		return
	}
	if !h.deliver(client, data) {
		h.remove(client)
	}
}

// remove drops a connection and, when it was the user's last one, tells
// everyone else. Safe to call twice for the same client.
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	log.Printf("[hub] Client %s (%s) unregistered", client.ID, client.Identity.Username)

	online, last := h.roster.Leave(client.Identity.UserID)
	if last {
		h.broadcast(events.EventTypeUserLeft, client.Identity.UserID, protocol.UserLeft{
			UserID:      client.Identity.UserID,
			Username:    client.Identity.Username,
			OnlineUsers: online,
		}, nil)
	}
}

func (h *Hub) handleInbound(ctx context.Context, in inbound) {
	if _, ok := h.clients[in.client]; !ok {
		return
	}
	author := in.client.author()

	switch env := in.env.(type) {
	case protocol.ChatMessage:
		event, err := h.service.PostMessage(ctx, author, env.Content)
		if h.ignorable(err, in.client) {
			return
		}
		h.broadcast(events.EventTypeMessagePosted, author.ID, protocol.NewMessage{ChatEvent: *event}, nil)

	case protocol.MusicMessage:
		event, err := h.service.PostMusic(ctx, author, env.MusicURL, env.Title)
		if h.ignorable(err, in.client) {
			return
		}
		h.broadcast(events.EventTypeMessagePosted, author.ID, protocol.NewMessage{ChatEvent: *event}, nil)

	case protocol.AddToQueue:
		queue, err := h.service.AddToQueue(ctx, author, env.MusicURL, env.Title)
		if h.ignorable(err, in.client) {
			return
		}
		h.broadcast(events.EventTypeQueueChanged, author.ID, protocol.QueueUpdate{Queue: queue}, nil)

	case protocol.RemoveFromQueue:
		if env.QueueID == 0 {
			return
		}
		queue, notice, err := h.service.RemoveFromQueue(ctx, author, uint64(env.QueueID))
		if h.ignorable(err, in.client) {
			return
		}
		h.broadcast(events.EventTypeQueueChanged, author.ID, protocol.QueueUpdate{Queue: queue}, nil)
		if notice != nil {
			h.broadcast(events.EventTypeMessagePosted, author.ID, protocol.NewMessage{ChatEvent: *notice}, nil)
		}

	default:
		log.Printf("[hub] Client %s sent %s, which only the server emits", in.client.ID, in.env.Kind())
	}
}

// ignorable reports whether a request produced nothing to broadcast.
// Validation failures are silent; store failures are logged.
func (h *Hub) ignorable(err error, client *Client) bool {
	if err == nil {
		return false
	}
	if !errors.Is(err, room.ErrEmptyContent) && !errors.Is(err, room.ErrEmptyTrack) {
		log.Printf("[hub] Request from client %s failed: %v", client.ID, err)
	}
	return true
}

// broadcast sends env to every connection except skip and records it on the
// audit log. Connections whose buffers are full are dropped.
func (h *Hub) broadcast(eventType events.EventType, userID uint64, env protocol.Envelope, skip *Client) {
	data, err := protocol.Encode(env)
	if err != nil {
		log.Printf("[hub] Failed to encode %s: %v", env.Kind(), err)
		return
	}

	var slow []*Client
	for client := range h.clients {
		if client == skip {
			continue
		}
		if !h.deliver(client, data) {
			slow = append(slow, client)
		}
	}

	h.record(events.NewEvent(eventType, userID, data))

	for _, client := range slow {
		log.Printf("[hub] Client %s is not keeping up, disconnecting", client.ID)
		h.remove(client)
	}
}

func (h *Hub) deliver(client *Client, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) record(event events.Event) {
	select {
	case h.audit <- event:
	default:
		log.Printf("[hub] Audit buffer full, dropping %s event", event.Type)
	}
}

func (h *Hub) publishLoop() {
	defer h.auditWG.Done()
	for event := range h.audit {
		if err := h.publisher.PublishEvent(context.Background(), event); err != nil {
			log.Printf("[hub] Failed to publish %s event: %v", event.Type, err)
		}
	}
}

func (h *Hub) closeAllClients() {
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}
