package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/music-chat-room/internal/auth"
)

type Handler struct {
	hub           *Hub
	authenticator *auth.Authenticator
	upgrader      websocket.Upgrader
}

// NewHandler builds the websocket endpoint. allowedOrigins follows the CORS
// setting; "*" or an empty list accepts any origin.
func NewHandler(hub *Hub, authenticator *auth.Authenticator, allowedOrigins []string) *Handler {
	return &Handler{
		hub:           hub,
		authenticator: authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

// RegisterRoutes mounts the roster endpoint on the protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/online-users", h.onlineUsers)
}

// HandleWebSocket upgrades first and then checks the token, so a rejected
// client sees close code 1008 rather than a bare HTTP error.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[hub] Failed to upgrade connection: %v", err)
		return
	}

	identity, err := h.authenticator.Authenticate(c.Request.Context(), c.Query("token"))
	if err != nil {
		code, text := websocket.ClosePolicyViolation, "invalid token"
		if !auth.Rejected(err) {
			code, text = websocket.CloseInternalServerErr, "session store unavailable"
		}
		log.Printf("[hub] Closing websocket with %d: %v", code, err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	client := newClient(h.hub, conn, *identity)
	if !h.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go client.writePump()
	client.readPump()
}

func (h *Handler) onlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online_users": h.hub.OnlineUsers()})
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
