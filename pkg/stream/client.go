package stream

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/turtton/kmnlib-sub000/pkg/logger"
)

// Client is the capability surface over an ordered append-only stream with
// consumer groups, plus the hash operations used for retry bookkeeping.
// Both the queue engine and its introspection endpoints consume it.
type Client struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Connect parses a redis:// URL, opens a client and verifies the connection.
func Connect(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Error("Failed to parse broker URL", zap.Error(err))
		return nil, err
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Error("Failed to connect to broker", zap.Error(err))
		return nil, err
	}

	logger.Info("Connected to stream broker", zap.String("addr", opts.Addr))
	return &Client{rdb: rdb}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// DeclareGroup ensures a consumer group exists for the given stream.
// Handles BUSYGROUP gracefully (group already exists).
func (c *Client) DeclareGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil {
		// BUSYGROUP means the group already exists - that's fine
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		logger.Error("Failed to create consumer group", zap.String("stream", stream), zap.String("group", group), zap.Error(err))
		return err
	}
	logger.Info("Consumer group created", zap.String("stream", stream), zap.String("group", group))
	return nil
}

// Add appends a message to the stream and returns the broker-assigned id.
func (c *Client) Add(ctx context.Context, stream string, values map[string]any) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: values,
	}
	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		logger.Error("Failed to append to stream", zap.String("stream", stream), zap.Error(err))
		return "", err
	}
	return id, nil
}

// ReadNew blocks up to block and delivers messages never yet assigned to the
// consumer group. Returns nil when the wait times out.
func (c *Client) ReadNew(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var msgs []redis.XMessage
	for _, xstream := range res {
		msgs = append(msgs, xstream.Messages...)
	}
	return msgs, nil
}

// PendingIdle lists pending messages whose idle time exceeds minIdle.
// The RetryCount on each entry is the authoritative delivery count.
func (c *Client) PendingIdle(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]redis.XPendingExt, error) {
	res, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// Claim transfers ownership of the given pending entries to consumer and
// returns their payloads. Entries idle for less than minIdle are skipped.
func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]redis.XMessage, error) {
	res, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// Ack removes the given entries from the group's pending list.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return c.rdb.XAck(ctx, stream, group, ids...).Err()
}

// Del deletes the given entries from the stream itself.
func (c *Client) Del(ctx context.Context, stream string, ids ...string) error {
	return c.rdb.XDel(ctx, stream, ids...).Err()
}

// Len returns the number of entries currently in the stream.
func (c *Client) Len(ctx context.Context, stream string) (int64, error) {
	return c.rdb.XLen(ctx, stream).Result()
}

// HSet stores field=value in the named hash.
func (c *Client) HSet(ctx context.Context, key, field, value string) error {
	return c.rdb.HSet(ctx, key, field, value).Err()
}

// HGet fetches a hash field. The second return is false when the field is absent.
func (c *Client) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := c.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// HDel removes fields from the named hash.
func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	return c.rdb.HDel(ctx, key, fields...).Err()
}

// HLen returns the number of fields in the named hash.
func (c *Client) HLen(ctx context.Context, key string) (int64, error) {
	return c.rdb.HLen(ctx, key).Result()
}

// HScan returns alternating field/value pairs starting at cursor. The broker
// may over-return relative to count; callers truncate.
func (c *Client) HScan(ctx context.Context, key string, cursor uint64, count int64) ([]string, uint64, error) {
	return c.rdb.HScan(ctx, key, cursor, "*", count).Result()
}
