package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/music-chat-room/pkg/jwt"
	"github.com/music-chat-room/pkg/redis"
)

var ErrSessionRevoked = errors.New("session revoked")

// Rejected reports whether err from Authenticate condemns the token itself.
// Anything else is a failure to reach the session store and is worth a retry.
func Rejected(err error) bool {
	return errors.Is(err, jwt.ErrInvalidToken) ||
		errors.Is(err, jwt.ErrExpiredToken) ||
		errors.Is(err, redis.ErrSessionNotFound) ||
		errors.Is(err, ErrSessionRevoked)
}

// Sessions is the server-side record of live tokens.
type Sessions interface {
	StoreSession(ctx context.Context, sessionID string, session *redis.SessionInfo) error
	GetSession(ctx context.Context, sessionID string) (*redis.SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type Identity struct {
	UserID    uint64
	Username  string
	SessionID string
}

// Authenticator checks a bearer token against its signature and the live
// session record.
type Authenticator struct {
	tokens   *jwt.Manager
	sessions Sessions
}

func NewAuthenticator(tokens *jwt.Manager, sessions Sessions) *Authenticator {
	return &Authenticator{tokens: tokens, sessions: sessions}
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := a.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	session, err := a.sessions.GetSession(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrSessionRevoked
	}

	return &Identity{UserID: userID, Username: claims.Username, SessionID: claims.ID}, nil
}

// BearerToken extracts the token from the Authorization header, falling back
// to the token query parameter used by websocket handshakes.
func BearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

func AuthMiddleware(authenticator *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}

		identity, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil && !Rejected(err) {
			log.Printf("Session lookup failed: %v", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "Session store unavailable"})
			return
		}
		if err != nil {
			detail := "Invalid token"
			if errors.Is(err, jwt.ErrExpiredToken) || errors.Is(err, redis.ErrSessionNotFound) || errors.Is(err, ErrSessionRevoked) {
				detail = "Session expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detail})
			return
		}

		c.Set("user_id", identity.UserID)
		c.Set("username", identity.Username)
		c.Set("session_id", identity.SessionID)
		c.Next()
	}
}

// CurrentIdentity reads what AuthMiddleware stored on the context.
func CurrentIdentity(c *gin.Context) Identity {
	return Identity{
		UserID:    c.GetUint64("user_id"),
		Username:  c.GetString("username"),
		SessionID: c.GetString("session_id"),
	}
}
