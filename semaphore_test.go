package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreLimitsConcurrency(t *testing.T) {
	sem := NewSemaphore(2)
	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, sem.Acquire(context.Background()))
			defer sem.Release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, int(maxSeen), 2)
}

func TestSemaphoreFIFOOrder(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, sem.Acquire(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			sem.Release()
		}()
		time.Sleep(5 * time.Millisecond) // enforce arrival order
	}

	sem.Release() // release the initial permit, waking waiter 0
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestSemaphoreAcquireRespectsContextCancel(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := sem.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSemaphoreDisposeRejectsWaiters(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	errCh := make(chan error, 1)
	go func() { errCh <- sem.Acquire(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	sem.Dispose()
	sem.Dispose() // idempotent

	err := <-errCh
	require.Error(t, err)

	err = sem.Acquire(context.Background())
	require.Error(t, err)
}
