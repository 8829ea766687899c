package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// EventChannel is the pub/sub channel the sync WebSocket subscribes to.
const EventChannel = "fabot:events"

// Event notifies connected clients that session state changed server-side.
type Event struct {
	Type   string `json:"type"` // chat_created, chat_deleted, message_appended, analysis_updated
	ChatID string `json:"chat_id,omitempty"`
}

type EventPublisher interface {
	Publish(event Event)
}

// RedisPublisher fans events out through Redis pub/sub. A nil client makes
// every publish a no-op, mirroring how the rest of the app treats Redis as
// optional.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(event Event) {
	if p == nil || p.rdb == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := p.rdb.Publish(context.Background(), EventChannel, string(data)).Err(); err != nil {
		log.Printf("[Events] Publish failed: %v", err)
	}
}
