package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port string

	DBDriver      string // mysql or sqlite
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string
	SQLitePath    string

	SessionStore  string // redis or memory
	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	JWTSecret string
	JWTExpiry time.Duration

	UploadDir  string
	NATSURL    string
	NATSBucket string

	CORSOrigins []string
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	return &Config{
		Env:  os.Getenv("ENV"),
		Port: getEnv("PORT", "8000"),

		DBDriver:      getEnv("DB_DRIVER", "mysql"),
		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     os.Getenv("MYSQL_USER"),
		MySQLPassword: os.Getenv("MYSQL_PASSWORD"),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "chatroom"),
		SQLitePath:    getEnv("SQLITE_PATH", "chatroom.db"),

		SessionStore:  getEnv("SESSION_STORE", "redis"),
		RedisAddr:     getEnv("REDIS_HOST", "localhost") + ":" + getEnv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "music-room-events"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "music-room-eventlog"),

		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),
		JWTExpiry: getDuration("JWT_EXPIRY", 24*time.Hour),

		UploadDir:  getEnv("UPLOAD_DIR", "uploads"),
		NATSURL:    os.Getenv("NATS_URL"),
		NATSBucket: getEnv("NATS_BUCKET", "music-uploads"),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
	}
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: invalid %s %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
