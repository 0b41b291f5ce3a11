package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEncode_TypeDiscriminator(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want Kind
	}{
		{"new message", NewMessage{ChatEvent{ID: 1, Content: "hi", MessageType: MessageText}}, KindNewMessage},
		{"user joined", UserJoined{UserID: 1, Username: "alice"}, KindUserJoined},
		{"user left", UserLeft{UserID: 1, Username: "alice"}, KindUserLeft},
		{"queue update", QueueUpdate{}, KindQueueUpdate},
		{"chat message", ChatMessage{Content: "hello"}, KindChatMessage},
		{"music message", MusicMessage{MusicURL: "http://x/a.mp3", Title: "A"}, KindMusicMessage},
		{"add to queue", AddToQueue{MusicURL: "http://x/a.mp3", Title: "A"}, KindAddToQueue},
		{"remove from queue", RemoveFromQueue{QueueID: 7}, KindRemoveFromQueue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.env)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			var head map[string]any
			if err := json.Unmarshal(data, &head); err != nil {
				t.Fatalf("json.Unmarshal() error = %v", err)
			}
			if head["type"] != string(tt.want) {
				t.Errorf("type = %v, want %q", head["type"], tt.want)
			}

			back, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if back.Kind() != tt.want {
				t.Errorf("Decode().Kind() = %q, want %q", back.Kind(), tt.want)
			}
		})
	}
}

func TestEncode_FlattensChatEvent(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := Encode(NewMessage{ChatEvent{
		ID:          42,
		UserID:      3,
		Username:    "bob",
		Content:     "Shared music: Song",
		MessageType: MessageMusic,
		MusicURL:    "/uploads/song.mp3",
		CreatedAt:   created,
	}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	for _, key := range []string{"type", "id", "user_id", "username", "content", "message_type", "music_url", "created_at"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("encoded new_message is missing %q: %s", key, data)
		}
	}

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	msg, ok := env.(NewMessage)
	if !ok {
		t.Fatalf("Decode() = %T, want NewMessage", env)
	}
	if msg.ID != 42 || msg.MusicURL != "/uploads/song.mp3" || !msg.CreatedAt.Equal(created) {
		t.Errorf("Decode() = %+v", msg)
	}
}

func TestEncode_EmptyQueueIsArray(t *testing.T) {
	data, err := Encode(QueueUpdate{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(data) != `{"type":"queue_update","queue":[]}` {
		t.Errorf("Encode() = %s", data)
	}
}

func TestDecode_UnknownAndMalformed(t *testing.T) {
	tests := []struct {
		name        string
		frame       string
		wantUnknown bool
	}{
		{"unknown type", `{"type":"typing","user_id":1}`, true},
		{"missing type", `{"content":"hi"}`, true},
		{"not json", `hello`, false},
		{"bad body", `{"type":"queue_update","queue":"nope"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			if err == nil {
				t.Fatalf("Decode() = %v, want error", env)
			}
			if got := errors.Is(err, ErrUnknownType); got != tt.wantUnknown {
				t.Errorf("errors.Is(err, ErrUnknownType) = %v, want %v (err = %v)", got, tt.wantUnknown, err)
			}
		})
	}
}

func TestQueueID_AcceptsNumberAndString(t *testing.T) {
	tests := []struct {
		frame string
		want  QueueID
	}{
		{`{"type":"remove_from_queue","queue_id":5}`, 5},
		{`{"type":"remove_from_queue","queue_id":"12"}`, 12},
		{`{"type":"remove_from_queue","queue_id":null}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got := env.(RemoveFromQueue).QueueID; got != tt.want {
				t.Errorf("QueueID = %d, want %d", got, tt.want)
			}
		})
	}

	if _, err := Decode([]byte(`{"type":"remove_from_queue","queue_id":"abc"}`)); err == nil {
		t.Error("Decode() with non-numeric queue_id should fail")
	}
}
