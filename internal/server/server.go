// Package server assembles the room's HTTP and websocket surface.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/music-chat-room/internal/auth"
	"github.com/music-chat-room/internal/room"
	"github.com/music-chat-room/internal/roster"
	"github.com/music-chat-room/internal/upload"
	"github.com/music-chat-room/internal/ws"
	"github.com/music-chat-room/pkg/database"
	"github.com/music-chat-room/pkg/events"
	"github.com/music-chat-room/pkg/jwt"
)

type Deps struct {
	DB        *database.DB
	Sessions  auth.Sessions
	Cache     room.SnapshotCache // optional
	Publisher events.Publisher   // optional
	Uploads   upload.ObjectStore
	Tokens    *jwt.Manager
	Hasher    *auth.PasswordHasher

	CORSOrigins []string
}

type Server struct {
	Router *gin.Engine
	Hub    *ws.Hub
}

// New wires the handlers. The caller runs Hub.Run.
func New(deps Deps) *Server {
	roomService := room.NewService(deps.DB, deps.Cache)
	hub := ws.NewHub(roomService, roster.New(), deps.Publisher)

	authHandler := auth.NewHandler(deps.DB, deps.Hasher, deps.Tokens, deps.Sessions)
	roomHandler := room.NewHandler(roomService)
	uploadHandler := upload.NewHandler(upload.NewService(deps.Uploads))
	wsHandler := ws.NewHandler(hub, authHandler.Authenticator(), deps.CORSOrigins)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(corsConfig(deps.CORSOrigins)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	api := router.Group("/api")

	// Public routes
	authHandler.RegisterRoutes(api)
	roomHandler.RegisterRoutes(api)
	uploadHandler.RegisterFiles(router)

	// Protected routes
	protected := api.Group("/")
	protected.Use(auth.AuthMiddleware(authHandler.Authenticator()))
	{
		uploadHandler.RegisterRoutes(protected)
		wsHandler.RegisterRoutes(protected)
	}

	// The websocket checks its token after the upgrade.
	router.GET("/ws", wsHandler.HandleWebSocket)

	return &Server{Router: router, Hub: hub}
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = origins
	config.AllowCredentials = true
	return config
}
