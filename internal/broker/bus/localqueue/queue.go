// Package localqueue is the broker's "local dev queue" bus adapter (spec
// §4.6): an in-process stand-in for a real broker, used when running
// gale-broker without Redis. Delivery is push-style and asynchronous:
// Publish decodes the envelope and runs whatever handler is registered for
// the topic in a new goroutine, returning without waiting for it.
package localqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// Handler processes one decoded task pulled off the queue.
type Handler func(ctx context.Context, task ports.Task) (ports.AgentTaskResponse, error)

// Queue is an in-memory, single-process publish/subscribe bus.
type Queue struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   ports.Logger
}

// New builds an empty Queue.
func New(logger ports.Logger) *Queue {
	return &Queue{handlers: make(map[string]Handler), logger: logger}
}

var _ ports.Bus = (*Queue)(nil)

// Subscribe registers handler as the consumer for topic. Only one handler
// per topic is kept; a later Subscribe call for the same topic replaces it.
func (q *Queue) Subscribe(topic string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = handler
}

// Publish encodes env and hands it to topic's registered handler, if any.
// A topic with no subscriber is silently dropped, the way a queue with no
// consumer attached would leave the message unclaimed.
func (q *Queue) Publish(ctx context.Context, topic string, env ports.Envelope) error {
	q.mu.RLock()
	handler, ok := q.handlers[topic]
	q.mu.RUnlock()
	if !ok {
		if q.logger != nil {
			q.logger.Warn("localqueue: no subscriber for topic", "topic", topic)
		}
		return nil
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("localqueue: marshal envelope: %w", err)
	}
	task, err := ports.DecodeTask(q, raw)
	if err != nil {
		return fmt.Errorf("localqueue: decode envelope: %w", err)
	}
	go func() {
		if _, err := handler(context.WithoutCancel(ctx), task); err != nil && q.logger != nil {
			q.logger.Error("localqueue: handler failed", "topic", topic, "err", err)
		}
	}()
	return nil
}

// Decode parses raw as a JSON-encoded Envelope.
func (q *Queue) Decode(raw []byte) (ports.Envelope, error) {
	var env ports.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ports.Envelope{}, fmt.Errorf("localqueue: unmarshal envelope: %w", err)
	}
	return env, nil
}
