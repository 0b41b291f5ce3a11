package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/music-chat-room/pkg/protocol"
)

const (
	queueSnapshotKey = "queue:snapshot"
	queueSnapshotTTL = 24 * time.Hour
)

var ErrCacheMiss = errors.New("cache miss")

// QueueCache holds the last broadcast queue snapshot for GET /api/queue.
type QueueCache struct {
	client *redis.Client
}

func NewQueueCache(client *redis.Client) *QueueCache {
	return &QueueCache{client: client}
}

func (c *QueueCache) Get(ctx context.Context) ([]protocol.QueueEntry, error) {
	data, err := c.client.Get(ctx, queueSnapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get queue snapshot: %w", err)
	}

	var queue []protocol.QueueEntry
	if err := json.Unmarshal(data, &queue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue snapshot: %w", err)
	}
	return queue, nil
}

func (c *QueueCache) Set(ctx context.Context, queue []protocol.QueueEntry) error {
	data, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("failed to marshal queue snapshot: %w", err)
	}
	return c.client.Set(ctx, queueSnapshotKey, data, queueSnapshotTTL).Err()
}

func (c *QueueCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, queueSnapshotKey).Err()
}
