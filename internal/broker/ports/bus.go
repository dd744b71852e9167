package ports

import (
	"context"
	"encoding/json"
	"fmt"
)

// Envelope is the bus wire format (spec §6.3): {type, cid, timestamp(ms),
// payload}. Validation rejects envelopes missing any of the four top-level
// fields or carrying the wrong type for one.
type Envelope struct {
	Type      string         `json:"type"`
	CID       string         `json:"cid"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// EnvelopeType is the only envelope type the broker currently emits or
// consumes.
const EnvelopeType = "task"

// Bus is the abstract publish/decode contract (spec §1, §4.6). Concrete
// transports (Pub/Sub, SQS, a local dev queue, Redis) are out of core scope;
// only this interface is consumed.
type Bus interface {
	// Publish sends payload to topic. The broker assumes at-least-once
	// delivery and relies on idempotent conditional writes downstream, not
	// on the bus's own delivery guarantees (spec §1 Non-goals).
	Publish(ctx context.Context, topic string, env Envelope) error

	// Decode turns a raw bus message into an Envelope. Decoding is
	// bus-specific (JSON for the local dev queue; base64-JSON or similar
	// for push-style brokers).
	Decode(raw []byte) (Envelope, error)
}

// ValidateEnvelope checks the four required top-level fields are present
// and well-typed.
func ValidateEnvelope(env Envelope) error {
	if env.Type == "" {
		return errMissingField("type")
	}
	if env.CID == "" {
		return errMissingField("cid")
	}
	if env.Timestamp <= 0 {
		return errMissingField("timestamp")
	}
	if env.Payload == nil {
		return errMissingField("payload")
	}
	return nil
}

func errMissingField(field string) error {
	return &envelopeError{field: field}
}

type envelopeError struct{ field string }

func (e *envelopeError) Error() string {
	return "bus envelope missing or malformed field: " + e.field
}

// DecodeTask turns a raw bus message into a Task, the shared unwrap step
// every bus consumer (the HTTP push endpoint, the local dev queue, the
// Redis subscriber) performs identically: decode the envelope, validate its
// four required fields, check it's a task envelope, then re-marshal its
// payload map into a typed Task.
func DecodeTask(bus Bus, raw []byte) (Task, error) {
	env, err := bus.Decode(raw)
	if err != nil {
		return Task{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := ValidateEnvelope(env); err != nil {
		return Task{}, err
	}
	if env.Type != EnvelopeType {
		return Task{}, fmt.Errorf("unsupported envelope type %q", env.Type)
	}

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return Task{}, fmt.Errorf("remarshal envelope payload: %w", err)
	}
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return Task{}, fmt.Errorf("unmarshal task payload: %w", err)
	}
	return task, nil
}
