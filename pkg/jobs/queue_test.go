package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var processed int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "job"}))
	}
	q.Stop()
	assert.Equal(t, int32(5), atomic.LoadInt32(&processed))
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestQueueRetriesThenDrops(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	var dropped []Job
	done := make(chan struct{})

	q := NewQueue("flaky", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}, QueueConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnDrop: func(job Job, err error) {
			mu.Lock()
			dropped = append(dropped, job)
			mu.Unlock()
			close(done)
		},
	})
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "retry-me"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not dropped")
	}
	q.Stop()

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dropped, 1)
	assert.Equal(t, 3, dropped[0].Attempt)
}

func TestQueueTryEnqueueFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		<-block
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.TryEnqueue(Job{ID: "2"}))
	err := q.TryEnqueue(Job{ID: "3"})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
	q.Stop()
	assert.Error(t, q.Enqueue(Job{ID: "4"}))
}
