// Package servertest runs a complete room server on an httptest listener,
// backed by in-memory SQLite, in-process sessions and a recording event
// publisher.
package servertest

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"

	"github.com/music-chat-room/internal/auth"
	"github.com/music-chat-room/internal/server"
	"github.com/music-chat-room/internal/upload"
	"github.com/music-chat-room/pkg/database"
	"github.com/music-chat-room/pkg/events"
	"github.com/music-chat-room/pkg/jwt"
	"github.com/music-chat-room/pkg/models"
	"github.com/music-chat-room/pkg/redis"
)

const Secret = "test-secret"

type Harness struct {
	URL       string
	DB        *database.DB
	Tokens    *jwt.Manager
	Sessions  *Sessions
	Publisher *Recorder
	Server    *server.Server
}

// Start serves a fresh room until the test ends.
func Start(t *testing.T) *Harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewSQLiteDB(":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	uploads, err := upload.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create upload store: %v", err)
	}

	h := &Harness{
		DB:        db,
		Tokens:    jwt.NewManager(Secret, time.Hour),
		Sessions:  &Sessions{MemorySessions: auth.NewMemorySessions()},
		Publisher: &Recorder{},
	}
	h.Server = server.New(server.Deps{
		DB:        db,
		Sessions:  h.Sessions,
		Publisher: h.Publisher,
		Uploads:   uploads,
		Tokens:    h.Tokens,
		Hasher:    auth.NewPasswordHasher(bcrypt.MinCost),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go h.Server.Hub.Run(ctx)

	srv := httptest.NewServer(h.Server.Router)
	h.URL = srv.URL

	t.Cleanup(func() {
		cancel()
		h.Server.Hub.Wait()
		srv.Close()
		_ = db.Close()
	})
	return h
}

// Login creates the user if needed and opens a session for it.
func (h *Harness) Login(t *testing.T, username string) (token string, userID uint64) {
	t.Helper()

	user, err := h.DB.GetUserByUsername(username)
	if err != nil {
		user = &models.User{Username: username, PasswordHash: "x"}
		if err := h.DB.CreateUser(user); err != nil {
			t.Fatalf("CreateUser(%q) error = %v", username, err)
		}
	}

	token, claims, err := h.Tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	err = h.Sessions.StoreSession(context.Background(), claims.ID, &redis.SessionInfo{
		UserID:    user.ID,
		Username:  user.Username,
		ExpiresAt: claims.ExpiresAt.Time,
	})
	if err != nil {
		t.Fatalf("StoreSession() error = %v", err)
	}
	return token, user.ID
}

// WebSocketURL is the /ws address for token.
func (h *Harness) WebSocketURL(token string) string {
	return "ws" + strings.TrimPrefix(h.URL, "http") + "/ws?token=" + token
}

// ErrStoreDown is what Sessions returns while an outage is simulated.
var ErrStoreDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

// Sessions is an in-process session store whose lookups can be made to fail
// like an unreachable Redis.
type Sessions struct {
	*auth.MemorySessions
	failures atomic.Int32
}

// FailNext makes the next n session lookups return ErrStoreDown.
func (s *Sessions) FailNext(n int) {
	s.failures.Store(int32(n))
}

func (s *Sessions) GetSession(ctx context.Context, sessionID string) (*redis.SessionInfo, error) {
	for {
		n := s.failures.Load()
		if n <= 0 {
			break
		}
		if s.failures.CompareAndSwap(n, n-1) {
			return nil, ErrStoreDown
		}
	}
	return s.MemorySessions.GetSession(ctx, sessionID)
}

// Recorder collects published events.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *Recorder) PublishEvent(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Count returns how many events of the given type were published.
func (r *Recorder) Count(eventType events.EventType) int {
	n := 0
	for _, event := range r.Events() {
		if event.Type == eventType {
			n++
		}
	}
	return n
}
