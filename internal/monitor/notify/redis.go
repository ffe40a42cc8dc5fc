package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	monitorapp "proximity-guard/internal/monitor/application"
)

// RedisPublisher mirrors session state into Redis: every event goes to
// a per-session pub/sub channel and the latest snapshot is kept under a
// short-lived key so dashboards can read current separation without
// touching the HTTP API.
type RedisPublisher struct {
	client      *redis.Client
	snapshotTTL time.Duration
	logger      *log.Logger
}

// NewRedisPublisher connects and pings the Redis instance.
func NewRedisPublisher(ctx context.Context, addr, password string, db int, logger *log.Logger) (*RedisPublisher, error) {
	if logger == nil {
		logger = log.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis publisher: connect: %w", err)
	}
	return &RedisPublisher{
		client:      client,
		snapshotTTL: 30 * time.Second,
		logger:      logger,
	}, nil
}

// Close releases the Redis connection pool.
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Notify implements the session notifier interface.
func (p *RedisPublisher) Notify(ctx context.Context, event monitorapp.Event) {
	if p == nil || p.client == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Printf("redis publisher: marshal: %v", err)
		return
	}

	channel := fmt.Sprintf("proxguard:session:%s:events", event.SessionID)
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, channel, payload)
	if event.Type == monitorapp.EventSnapshot && event.Snapshot != nil {
		if raw, err := json.Marshal(event.Snapshot); err == nil {
			key := fmt.Sprintf("proxguard:session:%s:snapshot", event.SessionID)
			pipe.Set(ctx, key, raw, p.snapshotTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Printf("redis publisher: publish: %v", err)
	}
}
