package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtton/kmnlib-sub000/pkg/logger"
	"github.com/turtton/kmnlib-sub000/pkg/stream"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("production")
}

type testJob struct {
	N int `json:"n"`
}

// recorder doubles as the queue module and captures every handler invocation.
type recorder struct {
	mu    sync.Mutex
	jobs  []testJob
	times []time.Time
}

func (r *recorder) record(job testJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	r.times = append(r.times, time.Now())
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *recorder) snapshot() ([]testJob, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]testJob(nil), r.jobs...), append([]time.Time(nil), r.times...)
}

func setupTestBroker(t *testing.T) *stream.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return stream.New(rdb)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 10*time.Second, 20*time.Millisecond, msg)
}

func TestNew_RejectsReservedNames(t *testing.T) {
	broker := setupTestBroker(t)
	handler := func(ctx context.Context, rec *recorder, job testJob) error { return nil }

	for _, name := range []string{"g:jobs", "delayed:jobs", "failed:jobs"} {
		_, err := New(broker, (*recorder)(nil), name, DefaultConfig(), handler)
		assert.ErrorIs(t, err, ErrReservedName, name)
	}

	_, err := New(broker, (*recorder)(nil), "", DefaultConfig(), handler)
	assert.Error(t, err)

	_, err = New(broker, (*recorder)(nil), "jobs", DefaultConfig(), handler)
	assert.NoError(t, err)
}

func TestQueue_ProcessesMessages(t *testing.T) {
	broker := setupTestBroker(t)
	rec := &recorder{}

	q, err := New(broker, rec, "jobs", Config{WorkerCount: 3, MaxRetry: 2, RetryDelay: time.Second},
		func(ctx context.Context, rec *recorder, job testJob) error {
			rec.record(job)
			return nil
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, NewInfo(testJob{N: i})))
	}
	require.NoError(t, q.StartWorkers(ctx))
	defer func() { cancel(); q.Wait() }()

	waitFor(t, func() bool { return rec.count() == 5 }, "expected all messages handled")
	waitFor(t, func() bool {
		queued, err := q.QueuedLen(ctx)
		return err == nil && queued == 0
	}, "expected stream drained")

	jobs, _ := rec.snapshot()
	seen := map[int]bool{}
	for _, job := range jobs {
		assert.False(t, seen[job.N], "duplicate delivery of %d", job.N)
		seen[job.N] = true
	}
	assert.Len(t, seen, 5)

	delayed, err := q.DelayedLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, delayed)
	failed, err := q.FailedLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestQueue_RetriesDelayedMessage(t *testing.T) {
	broker := setupTestBroker(t)
	rec := &recorder{}
	retryDelay := 150 * time.Millisecond

	var calls int32
	var mu sync.Mutex
	// A single worker so the exact attempt count is observable; miniredis
	// does not enforce min-idle on XCLAIM, so siblings could double-claim.
	q, err := New(broker, rec, "jobs", Config{WorkerCount: 1, MaxRetry: 3, RetryDelay: retryDelay},
		func(ctx context.Context, rec *recorder, job testJob) error {
			rec.record(job)
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				return Delay(errors.New("not ready"))
			}
			return nil
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	info := NewInfo(testJob{N: 42})
	require.NoError(t, q.Enqueue(ctx, info))
	require.NoError(t, q.StartWorkers(ctx))
	defer func() { cancel(); q.Wait() }()

	// After the first failure the diagnostics land in the delayed hash,
	// keyed by the stable message id.
	waitFor(t, func() bool {
		n, err := q.DelayedLen(ctx)
		return err == nil && n == 1
	}, "expected delayed entry after first failure")

	errored, err := q.DelayedInfo(ctx, info.ID)
	require.NoError(t, err)
	require.NotNil(t, errored)
	assert.Equal(t, info.ID, errored.ID)
	assert.Equal(t, info.Data, errored.Data)
	assert.NotEmpty(t, errored.StackTrace)

	waitFor(t, func() bool { return rec.count() == 2 }, "expected one retry")

	_, times := rec.snapshot()
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), retryDelay,
		"retry must wait out the idle threshold")

	// Success on the retry clears the stream and the delayed diagnostics.
	waitFor(t, func() bool {
		queued, err := q.QueuedLen(ctx)
		return err == nil && queued == 0
	}, "expected stream drained")
	waitFor(t, func() bool {
		n, err := q.DelayedLen(ctx)
		return err == nil && n == 0
	}, "expected delayed entry cleared on success")

	failed, err := q.FailedLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestQueue_DeadLettersAfterRetryBudget(t *testing.T) {
	broker := setupTestBroker(t)
	rec := &recorder{}

	q, err := New(broker, rec, "jobs", Config{WorkerCount: 1, MaxRetry: 2, RetryDelay: 100 * time.Millisecond},
		func(ctx context.Context, rec *recorder, job testJob) error {
			rec.record(job)
			return Delay(errors.New("boom"))
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	info := NewInfo(testJob{N: 7})
	require.NoError(t, q.Enqueue(ctx, info))
	require.NoError(t, q.StartWorkers(ctx))
	defer func() { cancel(); q.Wait() }()

	waitFor(t, func() bool {
		n, err := q.FailedLen(ctx)
		return err == nil && n == 1
	}, "expected dead-lettered message")

	// max_retry=2 admits exactly three attempts.
	assert.Equal(t, 3, rec.count())

	errored, err := q.FailedInfo(ctx, info.ID)
	require.NoError(t, err)
	require.NotNil(t, errored)
	assert.Equal(t, info.ID, errored.ID)
	assert.Equal(t, info.Data, errored.Data)
	assert.Contains(t, errored.StackTrace, "boom")

	queued, err := q.QueuedLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, queued)

	// No further attempts once dead-lettered.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 3, rec.count())
}

func TestQueue_AbandonSkipsRetries(t *testing.T) {
	broker := setupTestBroker(t)
	rec := &recorder{}

	q, err := New(broker, rec, "jobs", Config{WorkerCount: 1, MaxRetry: 5, RetryDelay: 50 * time.Millisecond},
		func(ctx context.Context, rec *recorder, job testJob) error {
			rec.record(job)
			return Abandon(errors.New("malformed"))
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	info := NewInfo(testJob{N: 1})
	require.NoError(t, q.Enqueue(ctx, info))
	require.NoError(t, q.StartWorkers(ctx))
	defer func() { cancel(); q.Wait() }()

	waitFor(t, func() bool {
		n, err := q.FailedLen(ctx)
		return err == nil && n == 1
	}, "expected immediate dead-letter")
	assert.Equal(t, 1, rec.count())

	errored, err := q.FailedInfo(ctx, info.ID)
	require.NoError(t, err)
	require.NotNil(t, errored)
	assert.Contains(t, errored.StackTrace, "malformed")
}

func TestQueue_RecoversStalledDelivery(t *testing.T) {
	broker := setupTestBroker(t)
	rec := &recorder{}

	// Single worker: see TestQueue_RetriesDelayedMessage.
	q, err := New(broker, rec, "jobs", Config{WorkerCount: 1, MaxRetry: 3, RetryDelay: 100 * time.Millisecond},
		func(ctx context.Context, rec *recorder, job testJob) error {
			rec.record(job)
			return nil
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	info := NewInfo(testJob{N: 9})
	require.NoError(t, q.Enqueue(ctx, info))

	// A consumer that reads the message and dies without acknowledging it.
	msgs, err := broker.ReadNew(ctx, q.name, q.group, "consumer:dead", 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.StartWorkers(ctx))
	defer func() { cancel(); q.Wait() }()

	waitFor(t, func() bool { return rec.count() == 1 }, "expected reclaimed delivery")
	waitFor(t, func() bool {
		queued, err := q.QueuedLen(ctx)
		return err == nil && queued == 0
	}, "expected stream drained after recovery")

	jobs, _ := rec.snapshot()
	assert.Equal(t, testJob{N: 9}, jobs[0])
}

func TestQueue_DeadLettersUndecodablePayload(t *testing.T) {
	broker := setupTestBroker(t)
	rec := &recorder{}

	q, err := New(broker, rec, "jobs", Config{WorkerCount: 1, MaxRetry: 3, RetryDelay: 50 * time.Millisecond},
		func(ctx context.Context, rec *recorder, job testJob) error {
			rec.record(job)
			return nil
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, broker.DeclareGroup(ctx, q.name, q.group))
	_, err = broker.Add(ctx, q.name, map[string]any{infoField: "{not json"})
	require.NoError(t, err)

	require.NoError(t, q.StartWorkers(ctx))
	defer func() { cancel(); q.Wait() }()

	waitFor(t, func() bool {
		n, err := q.FailedLen(ctx)
		return err == nil && n == 1
	}, "expected dead-letter for corrupt payload")

	// The handler never ran and the corrupt entry left the stream.
	assert.Zero(t, rec.count())
	queued, err := q.QueuedLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, queued)

	infos, err := q.FailedInfos(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0].StackTrace, "decode error")

	// Synthetic entries are recognizable by their zero id and data.
	assert.Equal(t, uuid.Nil, infos[0].ID)
	assert.Equal(t, testJob{}, infos[0].Data)
}

func TestQueue_IntrospectionPaging(t *testing.T) {
	broker := setupTestBroker(t)

	q, err := New(broker, (*recorder)(nil), "jobs", DefaultConfig(),
		func(ctx context.Context, rec *recorder, job testJob) error { return nil })
	require.NoError(t, err)

	ctx := context.Background()
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
		q.writeErrored(ctx, q.failed, ids[i].String(), ErroredInfo[testJob]{
			ID:         ids[i],
			Data:       testJob{N: i},
			StackTrace: fmt.Sprintf("failure %d", i),
		})
	}

	n, err := q.FailedLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	page1, err := q.FailedInfos(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page2, err := q.FailedInfos(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)

	tail, err := q.FailedInfos(ctx, 2, 4)
	require.NoError(t, err)
	assert.Len(t, tail, 1)

	past, err := q.FailedInfos(ctx, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, past)

	none, err := q.FailedInfos(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	errored, err := q.FailedInfo(ctx, ids[3])
	require.NoError(t, err)
	require.NotNil(t, errored)
	assert.Equal(t, testJob{N: 3}, errored.Data)

	// A failed id is not a delayed id.
	missing, err := q.DelayedInfo(ctx, ids[3])
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQueue_StopsOnContextCancel(t *testing.T) {
	broker := setupTestBroker(t)

	q, err := New(broker, (*recorder)(nil), "jobs", Config{WorkerCount: 2, MaxRetry: 1, RetryDelay: time.Second},
		func(ctx context.Context, rec *recorder, job testJob) error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.StartWorkers(ctx))

	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop after cancellation")
	}
}

func TestQueue_PanicIsRetried(t *testing.T) {
	broker := setupTestBroker(t)
	rec := &recorder{}

	var calls int32
	var mu sync.Mutex
	q, err := New(broker, rec, "jobs", Config{WorkerCount: 1, MaxRetry: 3, RetryDelay: 100 * time.Millisecond},
		func(ctx context.Context, rec *recorder, job testJob) error {
			rec.record(job)
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				panic("handler bug")
			}
			return nil
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Enqueue(ctx, NewInfo(testJob{N: 3})))
	require.NoError(t, q.StartWorkers(ctx))
	defer func() { cancel(); q.Wait() }()

	waitFor(t, func() bool { return rec.count() == 2 }, "expected retry after panic")
	waitFor(t, func() bool {
		queued, err := q.QueuedLen(ctx)
		return err == nil && queued == 0
	}, "expected stream drained")
}
