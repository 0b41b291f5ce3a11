package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm/logger"

	"github.com/music-chat-room/internal/auth"
	"github.com/music-chat-room/internal/config"
	"github.com/music-chat-room/internal/server"
	"github.com/music-chat-room/internal/upload"
	"github.com/music-chat-room/pkg/database"
	"github.com/music-chat-room/pkg/events"
	"github.com/music-chat-room/pkg/jwt"
	"github.com/music-chat-room/pkg/redis"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	var closers []func() error
	closers = append(closers, db.Close)

	deps := server.Deps{
		DB:          db,
		Tokens:      jwt.NewManager(cfg.JWTSecret, cfg.JWTExpiry),
		Hasher:      auth.NewPasswordHasher(0),
		Publisher:   events.Discard{},
		CORSOrigins: cfg.CORSOrigins,
	}

	switch cfg.SessionStore {
	case "memory":
		log.Println("Warning: using in-memory sessions; logins are lost on restart")
		deps.Sessions = auth.NewMemorySessions()
	default:
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		closers = append(closers, redisClient.Close)
		deps.Sessions = redis.NewSessionStore(redisClient)
		deps.Cache = redis.NewQueueCache(redisClient)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient := events.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic, "")
		closers = append(closers, kafkaClient.Close)
		deps.Publisher = kafkaClient
	} else {
		log.Println("KAFKA_BROKERS not set; room events will not be published")
	}

	if cfg.NATSURL != "" {
		store, err := upload.NewJetStreamStore(context.Background(), cfg.NATSURL, cfg.NATSBucket)
		if err != nil {
			log.Fatalf("Failed to open upload bucket: %v", err)
		}
		closers = append(closers, store.Close)
		deps.Uploads = store
	} else {
		store, err := upload.NewDiskStore(cfg.UploadDir)
		if err != nil {
			log.Fatalf("Failed to open upload dir: %v", err)
		}
		deps.Uploads = store
	}

	srv := server.New(deps)

	hubCtx, stopHub := context.WithCancel(context.Background())
	go srv.Hub.Run(hubCtx)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router,
	}
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"room-server": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				err := httpServer.Shutdown(ctx)

				// Hijacked websocket connections are closed by the hub.
				stopHub()
				srv.Hub.Wait()

				// Close in reverse order of opening.
				for i := len(closers) - 1; i >= 0; i-- {
					if cerr := closers[i](); cerr != nil {
						log.Printf("Warning: close failed: %v", cerr)
					}
				}
				return err
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return database.NewSQLiteDB(cfg.SQLitePath, logger.Warn)
	default:
		return database.NewMySQLDB(
			cfg.MySQLHost,
			cfg.MySQLPort,
			cfg.MySQLUser,
			cfg.MySQLPassword,
			cfg.MySQLDatabase,
		)
	}
}
