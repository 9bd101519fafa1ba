package workerpool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ExecutesSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 2, QueueSize: 8})
	defer pool.Stop(time.Second)

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("task-%d", i)
		wg.Add(1)
		ok := pool.TrySubmit(Task{
			ID: id,
			Fn: func(context.Context) error {
				defer wg.Done()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
				return nil
			},
		})
		require.True(t, ok)
	}

	wg.Wait()
	assert.Len(t, seen, 5)
	assert.Eventually(t, func() bool {
		return pool.Stats().CompletedTasks == 5
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerPool_CountsFailures(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	defer pool.Stop(time.Second)

	done := make(chan struct{})
	require.True(t, pool.TrySubmit(Task{
		ID: "boom",
		Fn: func(context.Context) error {
			defer close(done)
			return fmt.Errorf("boom")
		},
	}))
	<-done

	assert.Eventually(t, func() bool {
		return pool.Stats().FailedTasks == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	defer pool.Stop(time.Second)

	require.True(t, pool.TrySubmit(Task{
		ID: "panics",
		Fn: func(context.Context) error { panic("unexpected") },
	}))

	// A panicking task counts as failed and the worker keeps serving.
	assert.Eventually(t, func() bool {
		return pool.Stats().FailedTasks == 1
	}, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	require.True(t, pool.TrySubmit(Task{
		ID: "after",
		Fn: func(context.Context) error { close(done); return nil },
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestWorkerPool_RejectsAfterStop(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 8})
	require.NoError(t, pool.Stop(time.Second))

	// Every post-stop submit is rejected, even with queue capacity to
	// spare; nothing may land on a queue no worker will drain.
	for i := 0; i < 10; i++ {
		assert.False(t, pool.TrySubmit(Task{ID: "late", Fn: func(context.Context) error { return nil }}))
	}
	assert.Equal(t, uint64(10), pool.Stats().RejectedTasks)
	assert.Equal(t, 0, pool.Stats().QueuedTasks)
}
