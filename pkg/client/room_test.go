package client

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-chat-room/internal/server/servertest"
	"github.com/music-chat-room/pkg/playback"
	"github.com/music-chat-room/pkg/protocol"
)

func chat(id uint64, content string) protocol.ChatEvent {
	return protocol.ChatEvent{ID: id, Content: content, MessageType: protocol.MessageText}
}

func entries(n int) []protocol.QueueEntry {
	queue := make([]protocol.QueueEntry, n)
	for i := range queue {
		queue[i] = protocol.QueueEntry{ID: uint64(i + 1), Position: i}
	}
	return queue
}

func contents(events []protocol.ChatEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Content
	}
	return out
}

func TestRoom_BackfillIsIdempotent(t *testing.T) {
	r := NewRoom(NewAPI("http://unused"), &Session{Token: "t"})
	backfill := []protocol.ChatEvent{chat(1, "a"), chat(2, "b"), chat(3, "c")}

	r.ApplyMessages(backfill)
	r.ApplyMessages(backfill)
	assert.Equal(t, []string{"a", "b", "c"}, contents(r.Messages()))

	// A live event that also shows up in a later backfill is kept once.
	r.Dispatch(protocol.NewMessage{ChatEvent: chat(4, "d")})
	r.ApplyMessages([]protocol.ChatEvent{chat(2, "b"), chat(3, "c"), chat(4, "d"), chat(5, "e")})
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, contents(r.Messages()))
}

func TestRoom_DispatchReplacesSnapshots(t *testing.T) {
	var kinds []protocol.Kind
	r := NewRoom(NewAPI("http://unused"), &Session{Token: "t"},
		WithOnChange(func(k protocol.Kind) { kinds = append(kinds, k) }))

	r.Dispatch(protocol.UserJoined{UserID: 2, Username: "bob", OnlineUsers: []protocol.OnlineUser{{UserID: 1, Username: "alice"}, {UserID: 2, Username: "bob"}}})
	assert.Len(t, r.OnlineUsers(), 2)
	r.Dispatch(protocol.UserLeft{UserID: 2, Username: "bob", OnlineUsers: []protocol.OnlineUser{{UserID: 1, Username: "alice"}}})
	assert.Equal(t, []protocol.OnlineUser{{UserID: 1, Username: "alice"}}, r.OnlineUsers())

	r.Dispatch(protocol.QueueUpdate{Queue: entries(3)})
	r.Dispatch(protocol.QueueUpdate{Queue: entries(1)})
	assert.Len(t, r.Queue(), 1)

	r.Dispatch(protocol.ChatMessage{Content: "client kinds are ignored"})
	assert.Equal(t, []protocol.Kind{protocol.KindUserJoined, protocol.KindUserLeft, protocol.KindQueueUpdate, protocol.KindQueueUpdate}, kinds)
}

func TestRoom_CursorFollowsQueue(t *testing.T) {
	r := NewRoom(NewAPI("http://unused"), &Session{Token: "t"})

	r.ApplyQueue(entries(5))
	_, ok := r.NowPlaying()
	assert.False(t, ok, "nothing plays until selected")

	require.NoError(t, r.Play(4))
	r.ApplyQueue(entries(3))
	now, ok := r.NowPlaying()
	require.True(t, ok)
	assert.Equal(t, 2, now.Position)

	assert.True(t, r.TrackEnded())
	now, _ = r.NowPlaying()
	assert.Equal(t, 0, now.Position, "ended on the last entry wraps to the first")

	assert.True(t, r.Previous())
	now, _ = r.NowPlaying()
	assert.Equal(t, 2, now.Position)

	r.ApplyQueue(nil)
	_, ok = r.NowPlaying()
	assert.False(t, ok)
	assert.False(t, r.Next())
	assert.Equal(t, playback.None, r.cursor.Index())
}

func TestRoom_RequiresSession(t *testing.T) {
	r := NewRoom(NewAPI("http://unused"), nil)
	assert.ErrorIs(t, r.Join(context.Background()), ErrUnauthenticated)
	assert.Empty(t, r.Messages())
}

func TestRoom_LocalValidation(t *testing.T) {
	r := NewRoom(NewAPI("http://unused"), &Session{Token: "t"})

	var verr *ValidationError
	assert.ErrorAs(t, r.Enqueue(" ", "title"), &verr)
	assert.ErrorAs(t, r.Share("", "title"), &verr)
	assert.NoError(t, r.Say("   "))
	assert.ErrorIs(t, r.Say("hi"), ErrNotConnected)
}

// proxy forwards TCP to target and can sever every connection on demand.
type proxy struct {
	ln     net.Listener
	target string

	mu      sync.Mutex
	conns   []net.Conn
	blocked bool
}

func newProxy(t *testing.T, target string) *proxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &proxy{ln: ln, target: target}
	go p.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		p.drop()
	})
	return p
}

func (p *proxy) URL() string {
	return "http://" + p.ln.Addr().String()
}

func (p *proxy) serve() {
	for {
		in, err := p.ln.Accept()
		if err != nil {
			return
		}

		p.mu.Lock()
		if p.blocked {
			p.mu.Unlock()
			_ = in.Close()
			continue
		}
		out, err := net.Dial("tcp", p.target)
		if err != nil {
			p.mu.Unlock()
			_ = in.Close()
			continue
		}
		p.conns = append(p.conns, in, out)
		p.mu.Unlock()

		go func() { _, _ = io.Copy(out, in); _ = out.Close() }()
		go func() { _, _ = io.Copy(in, out); _ = in.Close() }()
	}
}

func (p *proxy) setBlocked(blocked bool) {
	p.mu.Lock()
	p.blocked = blocked
	p.mu.Unlock()
}

func (p *proxy) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		_ = c.Close()
	}
	p.conns = nil
}

func joinRoom(t *testing.T, baseURL string, session *Session) *Room {
	t.Helper()
	r := NewRoom(NewAPI(baseURL), session, WithChannelOptions(WithReconnectDelay(50*time.Millisecond)))
	require.NoError(t, r.Join(context.Background()))
	t.Cleanup(func() { _ = r.channel.Close() })
	return r
}

func TestRoom_ConvergesAcrossClients(t *testing.T) {
	h := servertest.Start(t)
	api := NewAPI(h.URL)
	alice := joinRoom(t, h.URL, signUp(t, api, "alice"))
	bob := joinRoom(t, h.URL, signUp(t, api, "bob"))

	require.NoError(t, alice.Enqueue("http://x/1.mp3", "T1"))
	require.Eventually(t, func() bool { return len(bob.Queue()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, bob.Enqueue("http://x/2.mp3", "T2"))
	require.NoError(t, alice.Say("hello"))

	require.Eventually(t, func() bool {
		return len(alice.Queue()) == 2 && len(bob.Queue()) == 2 &&
			len(alice.Messages()) == 1 && len(bob.Messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, alice.Queue(), bob.Queue())
	assert.Equal(t, "T1", alice.Queue()[0].Title)
	assert.Equal(t, "T2", alice.Queue()[1].Title)
	assert.Equal(t, alice.Messages(), bob.Messages())

	require.Eventually(t, func() bool { return len(alice.OnlineUsers()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestRoom_ResyncFillsDisconnectGap(t *testing.T) {
	h := servertest.Start(t)
	api := NewAPI(h.URL)
	p := newProxy(t, strings.TrimPrefix(h.URL, "http://"))

	alice := joinRoom(t, p.URL(), signUp(t, api, "alice"))
	bob := joinRoom(t, h.URL, signUp(t, api, "bob"))

	require.NoError(t, bob.Say("before"))
	require.Eventually(t, func() bool { return len(alice.Messages()) == 1 }, 2*time.Second, 10*time.Millisecond)

	p.setBlocked(true)
	p.drop()
	require.Eventually(t, func() bool { return alice.Channel().State() != Open }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.Say("during the gap"))
	require.NoError(t, bob.Say("still in the gap"))
	require.NoError(t, bob.Enqueue("http://x/gap.mp3", "Gap"))
	require.Eventually(t, func() bool { return len(bob.Messages()) == 3 && len(bob.Queue()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, alice.Messages(), 1)
	assert.Empty(t, alice.Queue())

	p.setBlocked(false)
	require.Eventually(t, func() bool {
		return alice.Channel().State() == Open && len(alice.Messages()) == 3 && len(alice.Queue()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"before", "during the gap", "still in the gap"}, contents(alice.Messages()))
	assert.Equal(t, bob.Queue(), alice.Queue())
}

func TestRoom_JoinTwice(t *testing.T) {
	h := servertest.Start(t)
	r := joinRoom(t, h.URL, signUp(t, NewAPI(h.URL), "alice"))

	assert.ErrorIs(t, r.Join(context.Background()), ErrAlreadyJoined)
	require.NoError(t, r.Logout(context.Background()))
	r.Wait()
}

func TestRoom_LogoutInterruptsResync(t *testing.T) {
	h := servertest.Start(t)
	session := signUp(t, NewAPI(h.URL), "alice")

	// Backfill hangs until the client gives up on it.
	started := make(chan struct{}, 1)
	mux := http.NewServeMux()
	mux.Handle("/", h.Server.Router)
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	})
	slow := httptest.NewServer(mux)
	defer slow.Close()

	r := NewRoom(NewAPI(slow.URL), session)
	require.NoError(t, r.Join(context.Background()))
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("resync never reached the backfill")
	}

	begin := time.Now()
	require.NoError(t, r.Logout(context.Background()))
	assert.Less(t, time.Since(begin), 2*time.Second, "logout waited on the backfill")
}
