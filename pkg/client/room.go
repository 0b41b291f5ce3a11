package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/music-chat-room/pkg/playback"
	"github.com/music-chat-room/pkg/protocol"
)

// BackfillLimit is how many chat events a resync fetches.
const BackfillLimit = 50

// Room is everything one logged-in client knows about the room. It is
// created after login and discarded on logout. Server envelopes reach it
// through Dispatch; every open or reopen of the channel triggers Resync.
type Room struct {
	api     *API
	session *Session
	channel *Channel

	mu       sync.RWMutex
	messages []protocol.ChatEvent
	seen     map[uint64]struct{}
	online   []protocol.OnlineUser
	queue    []protocol.QueueEntry
	cursor   *playback.Cursor
	onChange func(protocol.Kind)

	channelOpts []ChannelOption

	joined   bool
	pumpDone chan struct{}
}

type RoomOption func(*Room)

// WithChannelOptions passes options through to the room's channel.
func WithChannelOptions(opts ...ChannelOption) RoomOption {
	return func(r *Room) { r.channelOpts = append(r.channelOpts, opts...) }
}

// WithOnChange registers a callback run after each applied envelope.
func WithOnChange(fn func(protocol.Kind)) RoomOption {
	return func(r *Room) { r.onChange = fn }
}

func NewRoom(api *API, session *Session, opts ...RoomOption) *Room {
	r := &Room{
		api:      api,
		session:  session,
		seen:     make(map[uint64]struct{}),
		cursor:   playback.New(),
		pumpDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	channelOpts := append(r.channelOpts, WithOnOpen(func(ctx context.Context) {
		resyncCtx, cancel := context.WithTimeout(ctx, dialTimeout*2)
		defer cancel()
		if err := r.Resync(resyncCtx); err != nil && ctx.Err() == nil {
			log.Printf("[channel] Resync failed: %v", err)
		}
	}))
	r.channel = NewChannel(api, channelOpts...)
	return r
}

func (r *Room) Session() *Session {
	return r.session
}

func (r *Room) Channel() *Channel {
	return r.channel
}

// Join opens the channel and starts applying what it delivers. Without a
// session nothing is opened and nothing is fetched.
func (r *Room) Join(ctx context.Context) error {
	if r.session == nil || r.session.Token == "" {
		return ErrUnauthenticated
	}
	r.mu.Lock()
	if r.joined {
		r.mu.Unlock()
		return ErrAlreadyJoined
	}
	r.joined = true
	r.mu.Unlock()

	go r.pump()
	if err := r.channel.Connect(ctx, r.session); err != nil {
		_ = r.channel.Close()
		<-r.pumpDone
		return err
	}
	return nil
}

// Wait blocks until the channel has stopped for good.
func (r *Room) Wait() {
	<-r.pumpDone
}

// Logout tears the room down and revokes the token on the server.
func (r *Room) Logout(ctx context.Context) error {
	if r.session == nil {
		return ErrUnauthenticated
	}
	_ = r.channel.Logout()
	r.mu.RLock()
	joined := r.joined
	r.mu.RUnlock()
	if joined {
		<-r.pumpDone
	}

	token := r.session.Token
	r.session = nil
	if err := r.api.Logout(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func (r *Room) pump() {
	defer close(r.pumpDone)
	for env := range r.channel.Inbound() {
		r.Dispatch(env)
	}
}

// Dispatch applies one server envelope. Kinds a client never receives are
// ignored.
func (r *Room) Dispatch(env protocol.Envelope) {
	switch e := env.(type) {
	case protocol.NewMessage:
		r.ApplyMessages([]protocol.ChatEvent{e.ChatEvent})
	case protocol.UserJoined:
		r.ApplyRoster(e.OnlineUsers)
	case protocol.UserLeft:
		r.ApplyRoster(e.OnlineUsers)
	case protocol.QueueUpdate:
		r.ApplyQueue(e.Queue)
	default:
		return
	}
	if r.onChange != nil {
		r.onChange(env.Kind())
	}
}

// Resync refetches the backfill, the queue and the roster. It fills any gap
// left by a disconnect; applying the same backfill twice changes nothing.
func (r *Room) Resync(ctx context.Context) error {
	events, err := r.api.RecentMessages(ctx, BackfillLimit)
	if err != nil {
		return err
	}
	r.ApplyMessages(events)

	queue, err := r.api.Queue(ctx)
	if err != nil {
		return err
	}
	r.ApplyQueue(queue)

	if r.session != nil {
		online, err := r.api.OnlineUsers(ctx, r.session.Token)
		if err != nil {
			return err
		}
		r.ApplyRoster(online)
	}
	return nil
}

// ApplyMessages merges events into the chat log by id.
func (r *Room) ApplyMessages(events []protocol.ChatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := false
	for _, event := range events {
		if _, ok := r.seen[event.ID]; ok {
			continue
		}
		r.seen[event.ID] = struct{}{}
		r.messages = append(r.messages, event)
		added = true
	}
	if added {
		sort.SliceStable(r.messages, func(i, j int) bool { return r.messages[i].ID < r.messages[j].ID })
	}
}

// ApplyQueue replaces the queue and keeps the cursor inside it.
func (r *Room) ApplyQueue(queue []protocol.QueueEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append([]protocol.QueueEntry(nil), queue...)
	r.cursor.Sync(len(r.queue))
}

func (r *Room) ApplyRoster(online []protocol.OnlineUser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = append([]protocol.OnlineUser(nil), online...)
}

func (r *Room) Messages() []protocol.ChatEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]protocol.ChatEvent(nil), r.messages...)
}

func (r *Room) Queue() []protocol.QueueEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]protocol.QueueEntry(nil), r.queue...)
}

func (r *Room) OnlineUsers() []protocol.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]protocol.OnlineUser(nil), r.online...)
}

// NowPlaying returns the entry under the cursor.
func (r *Room) NowPlaying() (protocol.QueueEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.cursor.Index()
	if i == playback.None || i >= len(r.queue) {
		return protocol.QueueEntry{}, false
	}
	return r.queue[i], true
}

func (r *Room) Play(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor.Select(i)
}

func (r *Room) Next() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor.Next()
}

func (r *Room) Previous() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor.Previous()
}

// TrackEnded advances to the next track, wrapping at the end.
func (r *Room) TrackEnded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor.Ended()
}

// Say sends a chat message. Blank input is ignored.
func (r *Room) Say(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	return r.channel.Send(protocol.ChatMessage{Content: content})
}

// Share posts a track into the chat without queueing it.
func (r *Room) Share(musicURL, title string) error {
	if err := ValidateTrack(musicURL); err != nil {
		return err
	}
	return r.channel.Send(protocol.MusicMessage{MusicURL: strings.TrimSpace(musicURL), Title: strings.TrimSpace(title)})
}

func (r *Room) Enqueue(musicURL, title string) error {
	if err := ValidateTrack(musicURL); err != nil {
		return err
	}
	return r.channel.Send(protocol.AddToQueue{MusicURL: strings.TrimSpace(musicURL), Title: strings.TrimSpace(title)})
}

func (r *Room) Dequeue(id uint64) error {
	return r.channel.Send(protocol.RemoveFromQueue{QueueID: protocol.QueueID(id)})
}

// UploadAndEnqueue stores a local file on the server and queues it under
// its file name.
func (r *Room) UploadAndEnqueue(ctx context.Context, filename string, data io.Reader) (*Upload, error) {
	if r.session == nil {
		return nil, ErrUnauthenticated
	}
	upload, err := r.api.UploadMusic(ctx, r.session.Token, filepath.Base(filename), data)
	if err != nil {
		return nil, err
	}
	if err := r.Enqueue(upload.MusicURL, filepath.Base(filename)); err != nil {
		return upload, err
	}
	return upload, nil
}
