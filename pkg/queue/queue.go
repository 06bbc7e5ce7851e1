// Package queue runs background jobs on an in-process worker pool. Jobs are
// selected by message type, failed messages are retried after a delay and
// exhausted ones go to a dead-letter hook.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Enqueuer is the producer side of a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
}

type QueueConfig struct {
	Workers    int
	QueueSize  int
	RetryLimit int // retries after the first attempt
	RetryDelay time.Duration
}

type Message struct {
	ID        string
	Type      string
	Payload   interface{}
	Attempts  int
	Timestamp time.Time
}

// ParsePayload converts a job payload back to T. In-process payloads arrive
// as T or *T; decoded JSON arrives as a map or raw bytes.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		if p == nil {
			return nil, fmt.Errorf("nil %T payload", p)
		}
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		return decodePayload[T](p)
	case []byte:
		return decodePayload[T](p)
	case map[string]interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode map payload: %w", err)
		}
		return decodePayload[T](b)
	default:
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}
}

func decodePayload[T any](b []byte) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
