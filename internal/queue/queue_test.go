package queue_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex/internal/queue"
)

func TestBackoffSeconds_ExponentialWithCap(t *testing.T) {
	assert.Equal(t, 2*time.Second, queue.BackoffSeconds(1))
	assert.Equal(t, 4*time.Second, queue.BackoffSeconds(2))
	assert.Equal(t, 8*time.Second, queue.BackoffSeconds(3))
	assert.Equal(t, 5*time.Minute, queue.BackoffSeconds(20))
}

func TestFakeQueue_PushPopAck(t *testing.T) {
	q := queue.NewFakeQueue()
	ctx := context.Background()

	id, err := q.Push(ctx, "memory-chunker", json.RawMessage(`{"exchange_id":"e1"}`))
	require.NoError(t, err)

	job, err := q.Pop(ctx, "memory-chunker", time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)

	require.NoError(t, q.Ack(ctx, job))

	again, err := q.Pop(ctx, "memory-chunker", time.Second)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestFakeQueue_RequeueIncrementsRetries(t *testing.T) {
	q := queue.NewFakeQueue()
	ctx := context.Background()
	_, err := q.Push(ctx, "tool-queue", json.RawMessage(`{}`))
	require.NoError(t, err)

	job, err := q.Pop(ctx, "tool-queue", time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Requeue(ctx, job, 5))
	assert.Equal(t, 1, job.Retries)

	reQueued, err := q.Pop(ctx, "tool-queue", time.Second)
	require.NoError(t, err)
	require.NotNil(t, reQueued)
	assert.Equal(t, 1, reQueued.Retries)
}

func TestFakeQueue_ReapRecoversInProgress(t *testing.T) {
	q := queue.NewFakeQueue()
	ctx := context.Background()
	_, err := q.Push(ctx, "episodic", json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = q.Pop(ctx, "episodic", time.Second) // leaves it "in progress", never acked
	require.NoError(t, err)

	n, err := q.Reap(ctx, "episodic")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := q.Pop(ctx, "episodic", time.Second)
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestWorker_RunHandlesJobAndAcks(t *testing.T) {
	q := queue.NewFakeQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Push(ctx, "prompt", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)

	var handled atomic.Int32
	w := queue.NewWorker("prompt", q, func(_ context.Context, job *queue.Job) error {
		handled.Add(1)
		return nil
	}, 20*time.Millisecond, 3)

	go w.Run(ctx)
	assert.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, 5*time.Millisecond)
	w.Stop()
	assert.Equal(t, queue.StateOff, w.State())
}

func TestWorker_RequeuesOnHandlerError(t *testing.T) {
	q := queue.NewFakeQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Push(ctx, "tool-queue", json.RawMessage(`{}`))
	require.NoError(t, err)

	var attempts atomic.Int32
	w := queue.NewWorker("tool-queue", q, func(_ context.Context, job *queue.Job) error {
		attempts.Add(1)
		if job.Retries == 0 {
			return assert.AnError
		}
		return nil
	}, 20*time.Millisecond, 3)

	go w.Run(ctx)
	assert.Eventually(t, func() bool { return attempts.Load() >= 2 }, time.Second, 5*time.Millisecond)
	w.Stop()
}
