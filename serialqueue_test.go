package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialQueueRunsSameKeySequentially(t *testing.T) {
	q := NewSerialQueue(time.Second)
	defer q.Dispose()

	var order []int
	var mu sync.Mutex
	var dones []<-chan struct{}

	for i := 0; i < 5; i++ {
		i := i
		done, err := q.Run("k", func() {
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		require.NoError(t, err)
		dones = append(dones, done)
	}
	for _, d := range dones {
		<-d
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSerialQueueDifferentKeysRunIndependently(t *testing.T) {
	q := NewSerialQueue(time.Second)
	defer q.Dispose()

	release := make(chan struct{})
	started := make(chan struct{}, 2)

	doneA, err := q.Run("a", func() {
		started <- struct{}{}
		<-release
	})
	require.NoError(t, err)
	doneB, err := q.Run("b", func() {
		started <- struct{}{}
	})
	require.NoError(t, err)

	<-doneB // key "b" completes without waiting on key "a"
	close(release)
	<-doneA
}

func TestSerialQueueDisposeRejectsNewWork(t *testing.T) {
	q := NewSerialQueue(time.Second)
	q.Dispose()
	q.Dispose() // idempotent

	_, err := q.Run("k", func() {})
	require.Error(t, err)
}

func TestSerialQueueIdleEvictionStartsFreshLane(t *testing.T) {
	q := NewSerialQueue(5 * time.Millisecond)
	defer q.Dispose()

	done, err := q.Run("k", func() {})
	require.NoError(t, err)
	<-done

	time.Sleep(30 * time.Millisecond) // let the lane get evicted

	var ran bool
	done2, err := q.Run("k", func() { ran = true })
	require.NoError(t, err)
	<-done2
	assert.True(t, ran)
}
