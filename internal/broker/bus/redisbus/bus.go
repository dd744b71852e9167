// Package redisbus is the broker's production Bus adapter (spec §4.6),
// backed by Redis Pub/Sub. go-redis is declared in the goclaw pack's go.mod
// as the project's bus client; there was no exercised call site to copy
// there, so this package follows the client's documented Publish/Subscribe
// API directly.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// Handler processes one decoded task delivered off a Redis channel.
type Handler func(ctx context.Context, task ports.Task) (ports.AgentTaskResponse, error)

// Bus publishes and consumes task envelopes over Redis Pub/Sub channels,
// one channel per task kind.
type Bus struct {
	client *redis.Client
	logger ports.Logger
}

// New wraps an already-constructed redis.Client.
func New(client *redis.Client, logger ports.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

var _ ports.Bus = (*Bus)(nil)

// Publish JSON-encodes env and publishes it on the Redis channel named
// topic.
func (b *Bus) Publish(ctx context.Context, topic string, env ports.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisbus: marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, topic, raw).Err(); err != nil {
		return fmt.Errorf("redisbus: publish to %q: %w", topic, err)
	}
	return nil
}

// Decode parses raw as a JSON-encoded Envelope.
func (b *Bus) Decode(raw []byte) (ports.Envelope, error) {
	var env ports.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ports.Envelope{}, fmt.Errorf("redisbus: unmarshal envelope: %w", err)
	}
	return env, nil
}

// Subscribe blocks, dispatching every message received on topics to handler
// until ctx is cancelled or the subscription fails. Callers run it in its
// own goroutine per process, one per topic set the broker cares about.
func (b *Bus) Subscribe(ctx context.Context, handler Handler, topics ...string) error {
	sub := b.client.Subscribe(ctx, topics...)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			task, err := ports.DecodeTask(b, []byte(msg.Payload))
			if err != nil {
				if b.logger != nil {
					b.logger.Error("redisbus: dropping undecodable message", "channel", msg.Channel, "err", err)
				}
				continue
			}
			if _, err := handler(ctx, task); err != nil && b.logger != nil {
				b.logger.Error("redisbus: handler failed", "channel", msg.Channel, "err", err)
			}
		}
	}
}
