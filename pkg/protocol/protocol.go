// Package protocol defines the envelopes exchanged over the room websocket.
//
// Every frame is a UTF-8 JSON object carrying a "type" discriminator. The
// coordinator sends new_message, user_joined, user_left and queue_update; a
// client sends chat_message, music_message, add_to_queue and
// remove_from_queue.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the envelope discriminator carried in the "type" field.
type Kind string

const (
	KindNewMessage  Kind = "new_message"
	KindUserJoined  Kind = "user_joined"
	KindUserLeft    Kind = "user_left"
	KindQueueUpdate Kind = "queue_update"

	KindChatMessage     Kind = "chat_message"
	KindMusicMessage    Kind = "music_message"
	KindAddToQueue      Kind = "add_to_queue"
	KindRemoveFromQueue Kind = "remove_from_queue"
)

// MessageType classifies a chat event.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageMusic  MessageType = "music"
)

// ErrUnknownType is returned by Decode for a well-formed frame whose type is
// not part of the protocol. Receivers drop such frames.
var ErrUnknownType = errors.New("unknown envelope type")

// ChatEvent is one immutable entry of the chat stream.
type ChatEvent struct {
	ID          uint64      `json:"id"`
	UserID      uint64      `json:"user_id"`
	Username    string      `json:"username"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	MusicURL    string      `json:"music_url,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// QueueEntry is one track of the shared queue. Position is the index in the
// snapshot it was sent with.
type QueueEntry struct {
	ID       uint64    `json:"id"`
	UserID   uint64    `json:"user_id"`
	Username string    `json:"username"`
	MusicURL string    `json:"music_url"`
	Title    string    `json:"title"`
	Position int       `json:"position"`
	AddedAt  time.Time `json:"added_at"`
}

// OnlineUser is one member of the roster.
type OnlineUser struct {
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
}

// Envelope is implemented by every message kind.
type Envelope interface {
	Kind() Kind
}

// NewMessage announces a chat event.
type NewMessage struct {
	ChatEvent
}

// UserJoined carries the full roster after a member joined.
type UserJoined struct {
	UserID      uint64       `json:"user_id"`
	Username    string       `json:"username"`
	OnlineUsers []OnlineUser `json:"online_users"`
}

// UserLeft carries the full roster after a member left.
type UserLeft struct {
	UserID      uint64       `json:"user_id"`
	Username    string       `json:"username"`
	OnlineUsers []OnlineUser `json:"online_users"`
}

// QueueUpdate carries the complete queue, never a diff.
type QueueUpdate struct {
	Queue []QueueEntry `json:"queue"`
}

type ChatMessage struct {
	Content string `json:"content"`
}

// MusicMessage shares a track in the chat without queueing it.
type MusicMessage struct {
	MusicURL string `json:"music_url"`
	Title    string `json:"title"`
}

type AddToQueue struct {
	MusicURL string `json:"music_url"`
	Title    string `json:"title"`
}

type RemoveFromQueue struct {
	QueueID QueueID `json:"queue_id"`
}

func (NewMessage) Kind() Kind      { return KindNewMessage }
func (UserJoined) Kind() Kind      { return KindUserJoined }
func (UserLeft) Kind() Kind        { return KindUserLeft }
func (QueueUpdate) Kind() Kind     { return KindQueueUpdate }
func (ChatMessage) Kind() Kind     { return KindChatMessage }
func (MusicMessage) Kind() Kind    { return KindMusicMessage }
func (AddToQueue) Kind() Kind      { return KindAddToQueue }
func (RemoveFromQueue) Kind() Kind { return KindRemoveFromQueue }

// QueueID accepts a JSON number or a numeric string.
type QueueID uint64

func (q *QueueID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*q = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid queue id %s: %w", data, err)
	}
	*q = QueueID(v)
	return nil
}

// Encode marshals env with its type discriminator.
func Encode(env Envelope) ([]byte, error) {
	var v any
	switch e := env.(type) {
	case NewMessage:
		v = struct {
			Type Kind `json:"type"`
			ChatEvent
		}{e.Kind(), e.ChatEvent}
	case UserJoined:
		type body UserJoined
		v = struct {
			Type Kind `json:"type"`
			body
		}{e.Kind(), body(e)}
	case UserLeft:
		type body UserLeft
		v = struct {
			Type Kind `json:"type"`
			body
		}{e.Kind(), body(e)}
	case QueueUpdate:
		if e.Queue == nil {
			e.Queue = []QueueEntry{}
		}
		type body QueueUpdate
		v = struct {
			Type Kind `json:"type"`
			body
		}{e.Kind(), body(e)}
	case ChatMessage:
		type body ChatMessage
		v = struct {
			Type Kind `json:"type"`
			body
		}{e.Kind(), body(e)}
	case MusicMessage:
		type body MusicMessage
		v = struct {
			Type Kind `json:"type"`
			body
		}{e.Kind(), body(e)}
	case AddToQueue:
		type body AddToQueue
		v = struct {
			Type Kind `json:"type"`
			body
		}{e.Kind(), body(e)}
	case RemoveFromQueue:
		type body RemoveFromQueue
		v = struct {
			Type Kind `json:"type"`
			body
		}{e.Kind(), body(e)}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, env)
	}
	return json.Marshal(v)
}

// Decode parses one frame. Frames with an unrecognised type return
// ErrUnknownType; malformed JSON returns the decode error.
func Decode(data []byte) (Envelope, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	var env Envelope
	var err error
	switch head.Type {
	case KindNewMessage:
		var e NewMessage
		err = unmarshalInto(data, &e.ChatEvent)
		env = e
	case KindUserJoined:
		var e UserJoined
		err = unmarshalInto(data, &e)
		env = e
	case KindUserLeft:
		var e UserLeft
		err = unmarshalInto(data, &e)
		env = e
	case KindQueueUpdate:
		var e QueueUpdate
		err = unmarshalInto(data, &e)
		env = e
	case KindChatMessage:
		var e ChatMessage
		err = unmarshalInto(data, &e)
		env = e
	case KindMusicMessage:
		var e MusicMessage
		err = unmarshalInto(data, &e)
		env = e
	case KindAddToQueue:
		var e AddToQueue
		err = unmarshalInto(data, &e)
		env = e
	case KindRemoveFromQueue:
		var e RemoveFromQueue
		err = unmarshalInto(data, &e)
		env = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

func unmarshalInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode envelope body: %w", err)
	}
	return nil
}
