package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.pilab.hu/linksync/log"
)

// Publisher is the subset of the go-redis client the bridge needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisBridge mirrors bus events onto Redis pub/sub channels so consumers in
// other processes can follow them. Channels are named "<prefix>:<topic>".
type RedisBridge struct {
	client Publisher
	prefix string
	logger log.Logger
	subs   []Subscription
}

// NewRedisBridge creates a bridge publishing through client.
func NewRedisBridge(client Publisher, prefix string, logger log.Logger) *RedisBridge {
	if logger == nil {
		logger = log.Nop()
	}
	if prefix == "" {
		prefix = "linksync"
	}
	return &RedisBridge{
		client: client,
		prefix: prefix,
		logger: logger.With(map[string]interface{}{"component": "redis_bridge"}),
	}
}

// Channel returns the Redis channel events of topic are published on.
func (r *RedisBridge) Channel(topic Topic) string {
	return fmt.Sprintf("%s:%s", r.prefix, topic)
}

// Attach subscribes the bridge to every topic on bus.
func (r *RedisBridge) Attach(bus Bus, topics ...Topic) {
	for _, topic := range topics {
		r.subs = append(r.subs, bus.Subscribe(topic, "redis_bridge", r.forward))
	}
}

// Detach removes every subscription made by Attach.
func (r *RedisBridge) Detach() {
	for _, s := range r.subs {
		s.Unsubscribe()
	}
	r.subs = nil
}

// forward never fails the emitting chain; a lost mirror message is logged.
func (r *RedisBridge) forward(ctx context.Context, ev EmittedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error(ctx, "Failed to marshal event for Redis", err, map[string]interface{}{"topic": string(ev.Type)})
		return nil
	}
	if err := r.client.Publish(ctx, r.Channel(ev.Type), body).Err(); err != nil {
		r.logger.Error(ctx, "Failed to publish event to Redis", err, map[string]interface{}{"topic": string(ev.Type)})
		return nil
	}
	return nil
}
