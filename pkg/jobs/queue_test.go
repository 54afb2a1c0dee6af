package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRequiresStart(t *testing.T) {
	q := NewQueue("test", func(context.Context, Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(Job{ID: "a"})
	require.Error(t, err)
}

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 1)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 2})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))

	select {
	case id := <-done:
		assert.Equal(t, "a", id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
}

func TestQueueEnqueueAfterDefersExecution(t *testing.T) {
	var executedAt atomic.Value
	done := make(chan struct{}, 1)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		executedAt.Store(time.Now())
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 1})

	q.Start(context.Background())
	defer q.Stop()

	delay := 150 * time.Millisecond
	enqueued := time.Now()
	require.NoError(t, q.EnqueueAfter(Job{ID: "delayed"}, delay))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("delayed job was not processed")
	}

	ran := executedAt.Load().(time.Time)
	assert.GreaterOrEqual(t, ran.Sub(enqueued), delay)
}

func TestQueueDelayedJobDoesNotBlockOthers(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 2)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.EnqueueAfter(Job{ID: "slow"}, 300*time.Millisecond))
	require.NoError(t, q.Enqueue(Job{ID: "fast"}))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("jobs were not processed")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "fast", order[0])
	assert.Equal(t, "slow", order[1])
}

func TestQueueEnqueueAfterNeverBlocksCaller(t *testing.T) {
	release := make(chan struct{})
	var processed int32
	q := NewQueue("test", func(_ context.Context, job Job) error {
		<-release
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})

	q.Start(context.Background())
	defer q.Stop()

	// With a single stalled worker and a one-slot buffer, scheduling
	// must still return immediately for every job.
	start := time.Now()
	for i := 0; i < 8; i++ {
		require.NoError(t, q.EnqueueAfter(Job{ID: fmt.Sprintf("job-%d", i)}, 400*time.Millisecond))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&processed) == 8
	}, 5*time.Second, 10*time.Millisecond)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	done := make(chan struct{}, 1)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return assert.AnError
		}
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 10 * time.Millisecond})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "flaky"}))

	select {
	case <-done:
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	case <-time.After(3 * time.Second):
		t.Fatal("job was not retried to completion")
	}
}

func TestQueueStopIsIdempotent(t *testing.T) {
	q := NewQueue("test", func(context.Context, Job) error { return nil }, QueueConfig{Workers: 1})
	q.Start(context.Background())
	q.Stop()
	q.Stop()
}
