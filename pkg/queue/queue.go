package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/turtton/kmnlib-sub000/pkg/logger"
	"github.com/turtton/kmnlib-sub000/pkg/stream"
)

const (
	// infoField is the single stream field carrying the JSON envelope.
	infoField = "info"

	groupPrefix   = "g:"
	delayedPrefix = "delayed:"
	failedPrefix  = "failed:"

	// readBlock is how long a worker blocks waiting for a fresh delivery.
	readBlock = time.Second
	// errorBackoff is the pause after a broker error before retrying the loop.
	errorBackoff = time.Second
)

var reservedPrefixes = []string{groupPrefix, delayedPrefix, failedPrefix}

// ErrReservedName is returned when a queue name collides with the broker
// key namespace.
var ErrReservedName = errors.New("queue name uses a reserved prefix")

// Handler processes one message. module is the per-queue context registered
// at construction; it must be safe for concurrent use. Returning nil
// acknowledges the message; wrap errors with Delay or Abandon to steer
// retries (a bare error counts as Delay).
type Handler[M, T any] func(ctx context.Context, module M, data T) error

// Queue is a durable at-least-once message queue over a broker stream with
// consumer-group dispatch. Stalled deliveries are recovered by idle-based
// claim-stealing, retries are bounded by Config.MaxRetry, and exhausted
// messages are dead-lettered into the failed hash.
type Queue[M, T any] struct {
	client  *stream.Client
	module  M
	name    string
	group   string
	delayed string
	failed  string
	config  Config
	handler Handler[M, T]

	wg sync.WaitGroup
}

// New registers a handler for the named queue. The name must not collide
// with the reserved g:, delayed: and failed: key prefixes.
func New[M, T any](client *stream.Client, module M, name string, cfg Config, handler Handler[M, T]) (*Queue[M, T], error) {
	if name == "" {
		return nil, errors.New("queue name must not be empty")
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return nil, fmt.Errorf("%w: %s", ErrReservedName, name)
		}
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}

	return &Queue[M, T]{
		client:  client,
		module:  module,
		name:    name,
		group:   groupPrefix + name,
		delayed: delayedPrefix + name,
		failed:  failedPrefix + name,
		config:  cfg,
		handler: handler,
	}, nil
}

// Name returns the logical queue name.
func (q *Queue[M, T]) Name() string {
	return q.name
}

// Enqueue appends the envelope to the stream, creating the consumer group
// on first use. Fails only on encoding or broker I/O errors.
func (q *Queue[M, T]) Enqueue(ctx context.Context, info Info[T]) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal queue info: %w", err)
	}

	if err := q.client.DeclareGroup(ctx, q.name, q.group); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
	}

	if _, err := q.client.Add(ctx, q.name, map[string]any{infoField: payload}); err != nil {
		return fmt.Errorf("failed to enqueue on %s: %w", q.name, err)
	}

	logger.Debug("Enqueued message", zap.String("queue", q.name), zap.String("id", info.ID.String()))
	return nil
}

// StartWorkers spawns the configured number of worker goroutines. Each
// worker gets a unique consumer name and runs until ctx is cancelled; an
// in-flight handler is allowed to finish, and anything left unacknowledged
// is recovered later through the reclaim path.
func (q *Queue[M, T]) StartWorkers(ctx context.Context) error {
	if err := q.client.DeclareGroup(ctx, q.name, q.group); err != nil {
		return err
	}

	for i := int32(0); i < q.config.WorkerCount; i++ {
		consumer := "consumer:" + uuid.NewString()
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.workerLoop(ctx, consumer)
		}()
	}

	logger.Info("Queue workers started",
		zap.String("queue", q.name),
		zap.Int32("workers", q.config.WorkerCount))
	return nil
}

// Wait blocks until every worker goroutine has exited.
func (q *Queue[M, T]) Wait() {
	q.wg.Wait()
}

func (q *Queue[M, T]) workerLoop(ctx context.Context, consumer string) {
	log := logger.With(zap.String("queue", q.name), zap.String("consumer", consumer))
	log.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Worker stopping")
			return
		default:
		}

		msg, delivered, ok, err := q.acquire(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Failed to acquire message", zap.Error(err))
			sleep(ctx, errorBackoff)
			continue
		}
		if !ok {
			continue
		}

		q.process(ctx, log, msg, delivered)
	}
}

// acquire fetches at most one message for this worker. Reclaim of stale
// pending entries is attempted before fresh reads so retries cannot be
// starved by a steady stream of new messages. On the reclaim path the
// delivery count reported by XPENDING is authoritative; fresh deliveries
// count as zero.
func (q *Queue[M, T]) acquire(ctx context.Context, consumer string) (redis.XMessage, int64, bool, error) {
	entries, err := q.client.PendingIdle(ctx, q.name, q.group, q.config.RetryDelay, 1)
	if err != nil {
		// Reclaim is best effort; fall through to the fresh read.
		logger.Debug("Pending scan failed", zap.String("queue", q.name), zap.Error(err))
	}
	if len(entries) > 0 {
		claimed, err := q.client.Claim(ctx, q.name, q.group, consumer, q.config.RetryDelay, []string{entries[0].ID})
		if err != nil {
			logger.Debug("Claim failed", zap.String("queue", q.name), zap.String("seqID", entries[0].ID), zap.Error(err))
		} else if len(claimed) > 0 {
			return claimed[0], entries[0].RetryCount, true, nil
		}
		// Someone else claimed it first; fall through.
	}

	msgs, err := q.client.ReadNew(ctx, q.name, q.group, consumer, 1, readBlock)
	if err != nil {
		return redis.XMessage{}, 0, false, err
	}
	if len(msgs) == 0 {
		return redis.XMessage{}, 0, false, nil
	}
	return msgs[0], 0, true, nil
}

func (q *Queue[M, T]) process(ctx context.Context, log *zap.Logger, msg redis.XMessage, delivered int64) {
	info, err := decodeInfo[T](msg)
	if err != nil {
		// Undecodable payloads can never succeed: dead-letter immediately
		// with a synthetic trace. The envelope is unreadable, so the entry
		// keeps the zero ID and Data and is keyed by the stream id.
		log.Error("Failed to decode message, dead-lettering", zap.String("seqID", msg.ID), zap.Error(err))
		q.writeErrored(ctx, q.failed, deadLetterKey(msg), ErroredInfo[T]{
			ID:         info.ID,
			StackTrace: fmt.Sprintf("decode error: %v", err),
		})
		q.finish(ctx, log, msg.ID)
		return
	}

	err = q.invoke(ctx, info.Data)
	if err == nil {
		q.finish(ctx, log, msg.ID)
		if delivered > 0 {
			// The message succeeded on a retry; clear the stale diagnostics.
			if err := q.client.HDel(ctx, q.delayed, info.ID.String()); err != nil {
				log.Error("Failed to clear delayed entry", zap.String("id", info.ID.String()), zap.Error(err))
			}
		}
		log.Debug("Message done", zap.String("id", info.ID.String()), zap.Int64("delivered", delivered))
		return
	}

	errored := ErroredInfo[T]{
		ID:         info.ID,
		Data:       info.Data,
		StackTrace: fmt.Sprintf("%v\n%s", err, debug.Stack()),
	}

	if !isAbandon(err) && delivered < int64(q.config.MaxRetry) {
		// Leave the message pending; a worker reclaims it once it has been
		// idle for RetryDelay.
		log.Warn("Handler failed, will retry",
			zap.String("id", info.ID.String()),
			zap.Int64("delivered", delivered),
			zap.Error(err))
		q.writeErrored(ctx, q.delayed, info.ID.String(), errored)
		return
	}

	log.Error("Handler failed terminally, dead-lettering",
		zap.String("id", info.ID.String()),
		zap.Int64("delivered", delivered),
		zap.Error(err))
	q.writeErrored(ctx, q.failed, info.ID.String(), errored)
	q.finish(ctx, log, msg.ID)
}

// invoke runs the handler, converting panics into retryable errors so a
// misbehaving handler cannot take its worker down.
func (q *Queue[M, T]) invoke(ctx context.Context, data T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Delay(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return q.handler(ctx, q.module, data)
}

// finish acknowledges and deletes a terminal message. Failures are logged
// only: the entry stays pending and a sibling reclaims it, which is why
// handlers must be idempotent.
func (q *Queue[M, T]) finish(ctx context.Context, log *zap.Logger, seqID string) {
	if err := q.client.Ack(ctx, q.name, q.group, seqID); err != nil {
		log.Error("Failed to ack message", zap.String("seqID", seqID), zap.Error(err))
		return
	}
	if err := q.client.Del(ctx, q.name, seqID); err != nil {
		log.Error("Failed to delete message", zap.String("seqID", seqID), zap.Error(err))
	}
}

// writeErrored records diagnostics in the delayed or failed hash. These are
// side channels: broker errors here are logged and swallowed.
func (q *Queue[M, T]) writeErrored(ctx context.Context, key, field string, errored ErroredInfo[T]) {
	payload, err := json.Marshal(errored)
	if err != nil {
		logger.Error("Failed to marshal errored info", zap.String("key", key), zap.Error(err))
		return
	}
	if err := q.client.HSet(ctx, key, field, string(payload)); err != nil {
		logger.Error("Failed to record errored info", zap.String("key", key), zap.Error(err))
	}
}

func decodeInfo[T any](msg redis.XMessage) (Info[T], error) {
	var info Info[T]
	raw, ok := msg.Values[infoField]
	if !ok {
		return info, fmt.Errorf("message %s missing %q field", msg.ID, infoField)
	}
	str, ok := raw.(string)
	if !ok {
		return info, fmt.Errorf("message %s field %q is not a string", msg.ID, infoField)
	}
	if err := json.Unmarshal([]byte(str), &info); err != nil {
		return info, fmt.Errorf("failed to unmarshal message %s: %w", msg.ID, err)
	}
	return info, nil
}

// deadLetterKey picks the failed-hash key for a message whose envelope could
// not be decoded. The stream id is the only identity left in that case.
func deadLetterKey(msg redis.XMessage) string {
	return msg.ID
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
