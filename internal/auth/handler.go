package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/music-chat-room/pkg/database"
	"github.com/music-chat-room/pkg/jwt"
	"github.com/music-chat-room/pkg/models"
	"github.com/music-chat-room/pkg/redis"
)

type UserStore interface {
	CreateUser(user *models.User) error
	GetUserByUsername(username string) (*models.User, error)
}

type Handler struct {
	users         UserStore
	hasher        *PasswordHasher
	tokens        *jwt.Manager
	sessions      Sessions
	authenticator *Authenticator
}

func NewHandler(users UserStore, hasher *PasswordHasher, tokens *jwt.Manager, sessions Sessions) *Handler {
	return &Handler{
		users:         users,
		hasher:        hasher,
		tokens:        tokens,
		sessions:      sessions,
		authenticator: NewAuthenticator(tokens, sessions),
	}
}

func (h *Handler) Authenticator() *Authenticator {
	return h.authenticator
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/register", h.register)
	r.POST("/login", h.login)
	r.POST("/logout", AuthMiddleware(h.authenticator), h.logout)
}

type Credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) register(c *gin.Context) {
	var req Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "username and password are required"})
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "username is required"})
		return
	}
	if len(req.Password) < MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Password must be at least 6 characters"})
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to hash password"})
		return
	}

	user := &models.User{Username: username, PasswordHash: hash}
	if err := h.users.CreateUser(user); err != nil {
		if errors.Is(err, database.ErrUserExists) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Username already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "User registered successfully",
		"user_id": user.ID,
	})
}

func (h *Handler) login(c *gin.Context) {
	var req Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "username and password are required"})
		return
	}

	user, err := h.users.GetUserByUsername(strings.TrimSpace(req.Username))
	if err != nil || !h.hasher.Verify(req.Password, user.PasswordHash) {
		if err != nil && !errors.Is(err, database.ErrUserNotFound) {
			log.Printf("Failed to look up user %q: %v", req.Username, err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid username or password"})
		return
	}

	token, claims, err := h.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to generate token"})
		return
	}

	session := &redis.SessionInfo{UserID: user.ID, Username: user.Username, ExpiresAt: claims.ExpiresAt.Time}
	if err := h.sessions.StoreSession(c.Request.Context(), claims.ID, session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to store session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"user_id":      user.ID,
		"username":     user.Username,
	})
}

func (h *Handler) logout(c *gin.Context) {
	identity := CurrentIdentity(c)
	if err := h.sessions.DeleteSession(context.WithoutCancel(c.Request.Context()), identity.SessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
