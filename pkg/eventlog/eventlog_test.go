package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtton/kmnlib-sub000/pkg/apperror"
	"github.com/turtton/kmnlib-sub000/pkg/logger"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("production")
}

func setupTestLog(t *testing.T) *Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb)
}

func versionPtr(v Version) *Version {
	return &v
}

func TestStreamName(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "book_550e8400-e29b-41d4-a716-446655440000", StreamName("book", &id))
	assert.Equal(t, "rent", StreamName("rent", nil))
}

func TestClient_AppendAndRead(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()
	id := uuid.New()

	v0, err := log.Append(ctx, "book", &id, versionPtr(Nothing()), "Created", []byte(`{"type":"Created","title":"dune","amount":3}`))
	require.NoError(t, err)
	assert.Equal(t, Exact(0), v0)

	v1, err := log.Append(ctx, "book", &id, versionPtr(Exact(0)), "Updated", []byte(`{"type":"Updated","amount":2}`))
	require.NoError(t, err)
	assert.Equal(t, Exact(1), v1)

	v2, err := log.Append(ctx, "book", &id, versionPtr(Exact(1)), "Deleted", []byte(`{"type":"Deleted"}`))
	require.NoError(t, err)
	assert.Equal(t, Exact(2), v2)

	events, err := log.Read(ctx, "book", &id, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "Created", events[0].Type)
	assert.Equal(t, "Updated", events[1].Type)
	assert.Equal(t, "Deleted", events[2].Type)
	for i, event := range events {
		assert.Equal(t, Exact(int64(i)), event.Version)
		assert.False(t, event.CreatedAt.IsZero())
		assert.WithinDuration(t, time.Now(), event.CreatedAt, time.Minute)
	}
	assert.JSONEq(t, `{"type":"Updated","amount":2}`, string(events[1].Payload))

	tail, err := log.Tail(ctx, "book", &id)
	require.NoError(t, err)
	assert.Equal(t, Exact(2), tail)
}

func TestClient_ReadSince(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()
	id := uuid.New()

	for _, payload := range []string{`{"n":0}`, `{"n":1}`, `{"n":2}`} {
		_, err := log.Append(ctx, "book", &id, nil, "Updated", []byte(payload))
		require.NoError(t, err)
	}

	events, err := log.Read(ctx, "book", &id, versionPtr(Exact(0)))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, Exact(1), events[0].Version)
	assert.Equal(t, Exact(2), events[1].Version)

	events, err = log.Read(ctx, "book", &id, versionPtr(Exact(2)))
	require.NoError(t, err)
	assert.Empty(t, events)

	// Nothing reads from the origin, same as nil.
	events, err = log.Read(ctx, "book", &id, versionPtr(Nothing()))
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestClient_AppendConcurrencyConflict(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := log.Append(ctx, "book", &id, versionPtr(Nothing()), "Created", []byte(`{}`))
	require.NoError(t, err)

	// Nothing on a non-empty stream is rejected.
	_, err = log.Append(ctx, "book", &id, versionPtr(Nothing()), "Created", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, apperror.IsConcurrency(err))

	// Exact mismatch is rejected.
	_, err = log.Append(ctx, "book", &id, versionPtr(Exact(5)), "Updated", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, apperror.IsConcurrency(err))

	// The rejected appends left the log untouched.
	tail, err := log.Tail(ctx, "book", &id)
	require.NoError(t, err)
	assert.Equal(t, Exact(0), tail)
	events, err := log.Read(ctx, "book", &id, nil)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// A nil expectation appends unconditionally.
	v, err := log.Append(ctx, "book", &id, nil, "Updated", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Exact(1), v)

	// The old tail no longer matches.
	_, err = log.Append(ctx, "book", &id, versionPtr(Exact(0)), "Updated", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, apperror.IsConcurrency(err))
}

func TestClient_GlobalStream(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()

	v0, err := log.Append(ctx, "rent", nil, nil, "Rented", []byte(`{"n":0}`))
	require.NoError(t, err)
	assert.Equal(t, Exact(0), v0)

	v1, err := log.Append(ctx, "rent", nil, versionPtr(Exact(0)), "Returned", []byte(`{"n":1}`))
	require.NoError(t, err)
	assert.Equal(t, Exact(1), v1)

	events, err := log.Read(ctx, "rent", nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Rented", events[0].Type)
	assert.Equal(t, "Returned", events[1].Type)
}

func TestClient_TailEmptyStream(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()
	id := uuid.New()

	tail, err := log.Tail(ctx, "book", &id)
	require.NoError(t, err)
	assert.True(t, tail.IsNothing())

	events, err := log.Read(ctx, "book", &id, nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClient_ReadRejectsCorruptEntry(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()
	id := uuid.New()

	// An entry with an unparsable timestamp fails like any other corrupt field.
	err := log.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName("book", &id),
		ID:     "*",
		Values: map[string]any{"type": "Created", "payload": "{}", "created_at": "yesterdayish"},
	}).Err()
	require.NoError(t, err)

	_, err = log.Read(ctx, "book", &id, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")

	other := uuid.New()
	err = log.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName("book", &other),
		ID:     "*",
		Values: map[string]any{"type": "Created", "payload": "{}"},
	}).Err()
	require.NoError(t, err)

	_, err = log.Read(ctx, "book", &other, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")
}

func TestClient_AppendIsolatedPerAggregate(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	_, err := log.Append(ctx, "book", &a, versionPtr(Nothing()), "Created", []byte(`{}`))
	require.NoError(t, err)

	// A sibling aggregate's stream is still empty.
	v, err := log.Append(ctx, "book", &b, versionPtr(Nothing()), "Created", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Exact(0), v)
}
