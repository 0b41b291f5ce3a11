package models

import (
	"time"

	"github.com/music-chat-room/pkg/protocol"
)

type User struct {
	ID           uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"size:50;uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"`
	CreatedAt    time.Time `json:"created_at"`
}

type Message struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID      uint64    `json:"user_id" gorm:"index;not null"`
	User        User      `json:"-"`
	Content     string    `json:"content" gorm:"type:text;not null"`
	MessageType string    `json:"message_type" gorm:"size:20;not null"` // text, system or music
	MusicURL    string    `json:"music_url" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

type QueueItem struct {
	ID       uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID   uint64    `json:"user_id" gorm:"index;not null"`
	User     User      `json:"-"`
	MusicURL string    `json:"music_url" gorm:"type:text;not null"`
	Title    string    `json:"title" gorm:"type:text"`
	AddedAt  time.Time `json:"added_at" gorm:"autoCreateTime"`
}

// Event converts a stored message to its wire form. User must be preloaded.
func (m *Message) Event() protocol.ChatEvent {
	return protocol.ChatEvent{
		ID:          m.ID,
		UserID:      m.UserID,
		Username:    m.User.Username,
		Content:     m.Content,
		MessageType: protocol.MessageType(m.MessageType),
		MusicURL:    m.MusicURL,
		CreatedAt:   m.CreatedAt,
	}
}

// Entry converts a stored queue item at the given position to its wire form.
func (q *QueueItem) Entry(position int) protocol.QueueEntry {
	return protocol.QueueEntry{
		ID:       q.ID,
		UserID:   q.UserID,
		Username: q.User.Username,
		MusicURL: q.MusicURL,
		Title:    q.Title,
		Position: position,
		AddedAt:  q.AddedAt,
	}
}

// Snapshot numbers items by their order in the slice.
func Snapshot(items []*QueueItem) []protocol.QueueEntry {
	queue := make([]protocol.QueueEntry, 0, len(items))
	for i, item := range items {
		queue = append(queue, item.Entry(i))
	}
	return queue
}
