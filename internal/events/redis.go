package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"tableside/server/internal/utils"
)

// RedisChannel канал, через который инстансы сервиса обмениваются событиями
const RedisChannel = "tableside:events"

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisBridge публикует события в Redis и ретранслирует события
// других инстансов в локальный брокер.
type RedisBridge struct {
	redis  *utils.RedisClient
	origin string
}

func NewRedisBridge(redis *utils.RedisClient) *RedisBridge {
	return &RedisBridge{redis: redis, origin: uuid.New().String()}
}

func (b *RedisBridge) Publish(ctx context.Context, events ...Event) {
	for _, e := range events {
		data, err := json.Marshal(envelope{Origin: b.origin, Event: e})
		if err != nil {
			log.Printf("⚠️ RedisBridge: не удалось сериализовать %s: %v", e.Type, err)
			continue
		}
		if err := b.redis.Publish(ctx, RedisChannel, string(data)); err != nil {
			log.Printf("⚠️ RedisBridge: publish %s: %v", e.Type, err)
		}
	}
}

// Relay читает канал до отмены ctx и отдает чужие события в local.
// Свои события пропускаются: локальный брокер получил их напрямую.
func (b *RedisBridge) Relay(ctx context.Context, local Publisher) {
	messages, closeFn := b.redis.Subscribe(ctx, RedisChannel)
	defer closeFn()
	log.Printf("📡 RedisBridge: слушаем %s", RedisChannel)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("⚠️ RedisBridge: битое сообщение: %v", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			local.Publish(ctx, env.Event)
		}
	}
}
