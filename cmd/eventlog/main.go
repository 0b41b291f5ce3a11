// Command eventlog tails the room's Kafka topic and prints one line per
// coordinator broadcast.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/music-chat-room/internal/config"
	"github.com/music-chat-room/pkg/events"
)

func main() {
	cfg := config.Load()
	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	client := events.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Tailing %s as group %s", cfg.KafkaTopic, cfg.KafkaGroupID)
	err := client.ConsumeEvents(ctx, func(event events.Event) error {
		log.Printf("%s %-14s user=%d %s", event.Timestamp.Format("15:04:05.000"), event.Type, event.UserID, event.Payload)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Failed to consume events: %v", err)
	}
}
