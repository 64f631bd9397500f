package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Introspection over the queue's broker state: live stream length plus the
// delayed and failed diagnostic hashes. Read-only; used by the HTTP surface.

// QueuedLen returns the number of messages currently in the stream,
// including unacknowledged in-flight ones.
func (q *Queue[M, T]) QueuedLen(ctx context.Context) (int64, error) {
	return q.client.Len(ctx, q.name)
}

// DelayedLen returns the number of messages with recorded retry diagnostics.
func (q *Queue[M, T]) DelayedLen(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, q.delayed)
}

// FailedLen returns the number of dead-lettered messages.
func (q *Queue[M, T]) FailedLen(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, q.failed)
}

// DelayedInfos pages through the delayed hash. Ordering follows the broker's
// scan order and is unspecified.
func (q *Queue[M, T]) DelayedInfos(ctx context.Context, size, offset int64) ([]ErroredInfo[T], error) {
	return q.scanInfos(ctx, q.delayed, size, offset)
}

// FailedInfos pages through the failed hash.
func (q *Queue[M, T]) FailedInfos(ctx context.Context, size, offset int64) ([]ErroredInfo[T], error) {
	return q.scanInfos(ctx, q.failed, size, offset)
}

// DelayedInfo fetches the retry diagnostics for one message id, or nil when
// the message has no recorded failure.
func (q *Queue[M, T]) DelayedInfo(ctx context.Context, id uuid.UUID) (*ErroredInfo[T], error) {
	return q.getInfo(ctx, q.delayed, id)
}

// FailedInfo fetches the dead-letter record for one message id.
func (q *Queue[M, T]) FailedInfo(ctx context.Context, id uuid.UUID) (*ErroredInfo[T], error) {
	return q.getInfo(ctx, q.failed, id)
}

func (q *Queue[M, T]) getInfo(ctx context.Context, key string, id uuid.UUID) (*ErroredInfo[T], error) {
	raw, found, err := q.client.HGet(ctx, key, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !found {
		return nil, nil
	}

	var errored ErroredInfo[T]
	if err := json.Unmarshal([]byte(raw), &errored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal errored info from %s: %w", key, err)
	}
	return &errored, nil
}

// scanInfos walks the hash with HSCAN, skipping offset entries and returning
// at most size. HSCAN may over-return relative to its count hint, so the
// result is truncated explicitly.
func (q *Queue[M, T]) scanInfos(ctx context.Context, key string, size, offset int64) ([]ErroredInfo[T], error) {
	if size <= 0 {
		return nil, nil
	}

	var (
		infos   []ErroredInfo[T]
		skipped int64
		cursor  uint64
	)
	for {
		pairs, next, err := q.client.HScan(ctx, key, cursor, size)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", key, err)
		}

		// pairs alternate field, value
		for i := 1; i < len(pairs); i += 2 {
			if skipped < offset {
				skipped++
				continue
			}
			if int64(len(infos)) >= size {
				return infos, nil
			}
			var errored ErroredInfo[T]
			if err := json.Unmarshal([]byte(pairs[i]), &errored); err != nil {
				return nil, fmt.Errorf("failed to unmarshal errored info from %s: %w", key, err)
			}
			infos = append(infos, errored)
		}

		if next == 0 || int64(len(infos)) >= size {
			return infos, nil
		}
		cursor = next
	}
}
