package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/music-chat-room/pkg/models"
	"github.com/music-chat-room/pkg/protocol"
	"github.com/music-chat-room/pkg/redis"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	defaultTrackTitle   = "Unknown"
)

var (
	ErrEmptyContent = errors.New("message content is required")
	ErrEmptyTrack   = errors.New("music url is required")
)

// Store persists the chat log and the queue. Ids are assigned on insert.
type Store interface {
	CreateMessage(msg *models.Message) error
	RecentMessages(limit int) ([]*models.Message, error)
	AddToQueue(item *models.QueueItem) error
	RemoveFromQueue(id uint64) (bool, error)
	GetQueue() ([]*models.QueueItem, error)
}

// SnapshotCache keeps the latest queue snapshot for readers outside the hub.
type SnapshotCache interface {
	Get(ctx context.Context) ([]protocol.QueueEntry, error)
	Set(ctx context.Context, queue []protocol.QueueEntry) error
	Invalidate(ctx context.Context) error
}

type Author struct {
	ID       uint64
	Username string
}

// Service owns the chat stream and the queue. Mutations are expected to be
// issued from a single goroutine (the websocket hub) so that ids, queue order
// and broadcasts line up.
type Service struct {
	store Store
	cache SnapshotCache
}

func NewService(store Store, cache SnapshotCache) *Service {
	return &Service{
		store: store,
		cache: cache,
	}
}

// PostMessage appends a text event to the chat stream.
func (s *Service) PostMessage(ctx context.Context, author Author, content string) (*protocol.ChatEvent, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	return s.append(author, &models.Message{
		UserID:      author.ID,
		Content:     content,
		MessageType: string(protocol.MessageText),
	})
}

// PostMusic appends a music announcement carrying a playable reference.
func (s *Service) PostMusic(ctx context.Context, author Author, musicURL, title string) (*protocol.ChatEvent, error) {
	if strings.TrimSpace(musicURL) == "" {
		return nil, ErrEmptyTrack
	}
	if title == "" {
		title = defaultTrackTitle
	}
	return s.append(author, &models.Message{
		UserID:      author.ID,
		Content:     fmt.Sprintf("Shared music: %s", title),
		MessageType: string(protocol.MessageMusic),
		MusicURL:    musicURL,
	})
}

// PostSystem appends a system notice. System events still carry the user
// whose action caused them.
func (s *Service) PostSystem(ctx context.Context, author Author, body string) (*protocol.ChatEvent, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyContent
	}
	return s.append(author, &models.Message{
		UserID:      author.ID,
		Content:     body,
		MessageType: string(protocol.MessageSystem),
	})
}

func (s *Service) append(author Author, msg *models.Message) (*protocol.ChatEvent, error) {
	if err := s.store.CreateMessage(msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	msg.User = models.User{ID: author.ID, Username: author.Username}
	event := msg.Event()
	return &event, nil
}

// Recent returns the backfill: at most limit events, oldest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]protocol.ChatEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	messages, err := s.store.RecentMessages(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	events := make([]protocol.ChatEvent, 0, len(messages))
	for _, msg := range messages {
		events = append(events, msg.Event())
	}
	return events, nil
}

// AddToQueue appends a track at the tail and returns the resulting queue.
func (s *Service) AddToQueue(ctx context.Context, author Author, musicURL, title string) ([]protocol.QueueEntry, error) {
	if strings.TrimSpace(musicURL) == "" {
		return nil, ErrEmptyTrack
	}
	if title == "" {
		title = defaultTrackTitle
	}

	item := &models.QueueItem{
		UserID:   author.ID,
		MusicURL: musicURL,
		Title:    title,
	}
	if err := s.store.AddToQueue(item); err != nil {
		return nil, fmt.Errorf("failed to add to queue: %w", err)
	}

	return s.refresh(ctx)
}

// RemoveFromQueue deletes the entry with the given id, wherever it sits.
// Removing an unknown id is not an error; the returned queue is unchanged and
// no notice is posted. When an entry did go, the returned event is the system
// notice announcing it.
func (s *Service) RemoveFromQueue(ctx context.Context, author Author, id uint64) ([]protocol.QueueEntry, *protocol.ChatEvent, error) {
	before, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	title := defaultTrackTitle
	for _, entry := range before {
		if entry.ID == id && entry.Title != "" {
			title = entry.Title
			break
		}
	}

	removed, err := s.store.RemoveFromQueue(id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to remove from queue: %w", err)
	}
	queue, err := s.refresh(ctx)
	if err != nil || !removed {
		return queue, nil, err
	}

	notice, err := s.PostSystem(ctx, author, fmt.Sprintf("%s removed %s from the queue", author.Username, title))
	if err != nil {
		log.Printf("Warning: failed to post removal notice: %v", err)
		return queue, nil, nil
	}
	return queue, notice, nil
}

// Queue returns the current snapshot, from cache when possible. A miss is
// served from the store without filling the cache; only mutations write it,
// so a slow reader can never overwrite a newer snapshot.
func (s *Service) Queue(ctx context.Context) ([]protocol.QueueEntry, error) {
	if s.cache != nil {
		queue, err := s.cache.Get(ctx)
		if err == nil {
			return queue, nil
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			log.Printf("Warning: queue cache read failed: %v", err)
		}
	}
	return s.load()
}

// Snapshot reads the queue straight from the store.
func (s *Service) Snapshot(ctx context.Context) ([]protocol.QueueEntry, error) {
	return s.load()
}

func (s *Service) load() ([]protocol.QueueEntry, error) {
	items, err := s.store.GetQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	return models.Snapshot(items), nil
}

// refresh reads the queue back after a mutation and caches it.
func (s *Service) refresh(ctx context.Context) ([]protocol.QueueEntry, error) {
	queue, err := s.load()
	if err != nil {
		if s.cache != nil {
			if cerr := s.cache.Invalidate(ctx); cerr != nil {
				log.Printf("Warning: failed to invalidate queue cache: %v", cerr)
			}
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, queue); err != nil {
			log.Printf("Warning: failed to cache queue: %v", err)
			if cerr := s.cache.Invalidate(ctx); cerr != nil {
				log.Printf("Warning: failed to invalidate queue cache: %v", cerr)
			}
		}
	}
	return queue, nil
}
