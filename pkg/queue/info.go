package queue

import (
	"time"

	"github.com/google/uuid"
)

// Info is the envelope enqueued onto a stream. ID is the application-assigned
// message identity and stays stable across every retry of the same message;
// the broker-assigned stream id is only used for ack/delete/claim.
type Info[T any] struct {
	ID   uuid.UUID `json:"id"`
	Data T         `json:"data"`
}

// NewInfo wraps data in an envelope with a fresh message id.
func NewInfo[T any](data T) Info[T] {
	return Info[T]{ID: uuid.New(), Data: data}
}

// ErroredInfo is the payload stored in the delayed or failed hash when a
// handler reports an error, keyed by the message id. Entries written for
// undecodable payloads carry the zero ID and Data and are keyed by the
// broker stream id instead, which is the only identity such a message has.
type ErroredInfo[T any] struct {
	ID         uuid.UUID `json:"id"`
	Data       T         `json:"data"`
	StackTrace string    `json:"stack_trace"`
}

// Config tunes a queue's worker pool and retry policy.
type Config struct {
	// WorkerCount is the number of concurrent worker goroutines.
	WorkerCount int32
	// MaxRetry bounds delivery attempts: a failing message is dead-lettered
	// once its prior delivery count reaches MaxRetry, so the handler runs at
	// most MaxRetry+1 times per message.
	MaxRetry int32
	// RetryDelay is the minimum idle time before a pending message may be
	// reclaimed by any worker.
	RetryDelay time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount: 4,
		MaxRetry:    3,
		RetryDelay:  180 * time.Second,
	}
}
