package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/turtton/kmnlib-sub000/pkg/apperror"
	"github.com/turtton/kmnlib-sub000/pkg/logger"
)

// Field names of a log entry inside the stream.
const (
	typeField      = "type"
	payloadField   = "payload"
	createdAtField = "created_at"
)

// Wire value meaning "append unconditionally". Internal to the script
// protocol; callers express it with a nil expected version.
const anyWire int64 = -2

// appendScript checks the expected revision and appends atomically. The
// stream's length doubles as its tail revision plus one because log entries
// are never deleted.
// KEYS[1]: stream key
// ARGV[1]: expected revision (-2 any, -1 empty stream, >=0 exact tail)
// ARGV[2]: event type
// ARGV[3]: JSON payload
// ARGV[4]: created_at timestamp
var appendScript = redis.NewScript(`
	local len = redis.call("XLEN", KEYS[1])
	local expected = tonumber(ARGV[1])

	if expected == -1 and len ~= 0 then
		return redis.error_reply("CONCURRENCY")
	end
	if expected >= 0 and len ~= expected + 1 then
		return redis.error_reply("CONCURRENCY")
	end

	redis.call("XADD", KEYS[1], "*", "type", ARGV[2], "payload", ARGV[3], "created_at", ARGV[4])
	return len
`)

// Event is one entry read back from the log.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Version   Version         `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
}

// Client is the append-with-expected-revision event log, realized on the
// same stream engine as the message queue. Streams are the system of
// record: entries are immutable and never deleted, so revisions are the
// zero-based positions within a stream.
type Client struct {
	rdb *redis.Client
}

// New wraps an existing broker client.
func New(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Connect parses a redis:// URL, opens a client and verifies the connection.
func Connect(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Error("Failed to parse event log URL", zap.Error(err))
		return nil, err
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Error("Failed to connect to event log", zap.Error(err))
		return nil, err
	}

	logger.Info("Connected to event log", zap.String("addr", opts.Addr))
	return &Client{rdb: rdb}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// StreamName builds the broker key: "{name}_{id}" for per-aggregate streams,
// bare "{name}" for global ones.
func StreamName(name string, id *uuid.UUID) string {
	if id == nil {
		return name
	}
	return name + "_" + id.String()
}

// Append adds one event to the stream and returns its revision.
// A nil expected appends unconditionally; Nothing requires an empty stream;
// Exact(v) requires the current tail revision to be v. A mismatch surfaces
// as a Concurrency-class error with the store untouched.
func (c *Client) Append(ctx context.Context, name string, id *uuid.UUID, expected *Version, eventType string, payload []byte) (Version, error) {
	stream := StreamName(name, id)

	wire := anyWire
	if expected != nil {
		wire = expected.Wire()
	}

	res, err := appendScript.Run(ctx, c.rdb, []string{stream}, wire, eventType, payload, time.Now().UTC().Format(time.RFC3339Nano)).Int64()
	if err != nil {
		if strings.Contains(err.Error(), "CONCURRENCY") {
			return Version{}, apperror.Concurrency(
				fmt.Errorf("append to %s rejected at expected version %s", stream, versionArg(expected)))
		}
		return Version{}, fmt.Errorf("failed to append to %s: %w", stream, err)
	}

	version := Exact(res)
	logger.Debug("Appended event",
		zap.String("stream", stream),
		zap.String("type", eventType),
		zap.String("version", version.String()))
	return version, nil
}

// Read returns, in order, every event with a revision strictly greater than
// since. Nil or Nothing reads the stream from its origin. The sequence is
// finite and reflects the stream at the time of the call.
func (c *Client) Read(ctx context.Context, name string, id *uuid.UUID, since *Version) ([]Event, error) {
	stream := StreamName(name, id)

	msgs, err := c.rdb.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}

	after := nothingWire
	if since != nil {
		after = since.Wire()
	}

	var events []Event
	for i, msg := range msgs {
		version := int64(i)
		if version <= after {
			continue
		}
		event, err := parseEvent(msg, version)
		if err != nil {
			return nil, fmt.Errorf("corrupt entry in stream %s: %w", stream, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// Tail returns the current tail revision of the stream: Nothing when empty.
func (c *Client) Tail(ctx context.Context, name string, id *uuid.UUID) (Version, error) {
	stream := StreamName(name, id)
	length, err := c.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return Version{}, fmt.Errorf("failed to measure stream %s: %w", stream, err)
	}
	return Exact(length - 1), nil
}

func parseEvent(msg redis.XMessage, version int64) (Event, error) {
	typ, ok := msg.Values[typeField].(string)
	if !ok {
		return Event{}, fmt.Errorf("entry %s missing %q field", msg.ID, typeField)
	}
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		return Event{}, fmt.Errorf("entry %s missing %q field", msg.ID, payloadField)
	}

	raw, ok := msg.Values[createdAtField].(string)
	if !ok {
		return Event{}, fmt.Errorf("entry %s missing %q field", msg.ID, createdAtField)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return Event{}, fmt.Errorf("entry %s has invalid %q field: %w", msg.ID, createdAtField, err)
	}

	return Event{
		Type:      typ,
		Payload:   json.RawMessage(payload),
		Version:   Exact(version),
		CreatedAt: createdAt,
	}, nil
}

func versionArg(expected *Version) string {
	if expected == nil {
		return "any"
	}
	return expected.String()
}
