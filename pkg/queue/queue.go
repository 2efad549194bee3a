package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrJobNotFound = errors.New("job not found")

// Enqueuer is what request handlers need from a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
	Status(ctx context.Context, id string) (*JobStatus, error)
}

type QueueConfig struct {
	Workers    int           // number of workers
	RetryLimit int           // retries before the dead letter list
	RetryDelay time.Duration // delay before a retry is re-queued
	StatusTTL  time.Duration // how long finished job statuses are kept
	JobTimeout time.Duration // per-attempt deadline
}

// Message is the queued envelope.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateRetry   State = "retrying"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// JobStatus is the pollable view of a message.
type JobStatus struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	State     State           `json:"state"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ParsePayload decodes a job payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var result T
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &result, nil
}
