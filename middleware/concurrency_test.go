package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	runtime "github.com/cascadehq/runtime"
)

// wrap composes def alone around body, returning a callable the way
// the kernel's MiddlewareManager would for one task pipeline.
func wrap(def *runtime.MiddlewareDefinition, body func(exec *runtime.ExecutionInput) (any, error)) func(input any) (any, error) {
	return wrapUsage(def.Bare(), body)
}

// wrapUsage is wrap but with an explicit config-bound usage, for
// middleware that reads exec.MiddlewareConfig.
func wrapUsage(usage *runtime.MiddlewareUsage, body func(exec *runtime.ExecutionInput) (any, error)) func(input any) (any, error) {
	mm := runtime.NewMiddlewareManager()
	task := runtime.DefineTask(runtime.TaskOptions{ID: "probe-" + usage.Definition.ID()})
	rc := &runtime.RunContext{Context: context.Background(), Journal: runtime.NewJournal()}
	return mm.Compose(task, []*runtime.MiddlewareUsage{usage}, rc, body)
}

func TestConcurrencyLimitsSimultaneousExecutions(t *testing.T) {
	def := NewConcurrency("limit")
	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	run := wrapUsage(def.With(ConcurrencyConfig{Limit: 2}), func(exec *runtime.ExecutionInput) (any, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	})

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := run(nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, int(maxSeen), 2)
}

func TestConcurrencySharesSemaphoreAcrossSameKey(t *testing.T) {
	def := NewConcurrency("keyed")
	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	body := func(exec *runtime.ExecutionInput) (any, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	}
	runA := wrapUsage(def.With(ConcurrencyConfig{Limit: 1, Key: "shared"}), body)
	runB := wrapUsage(def.With(ConcurrencyConfig{Limit: 1, Key: "shared"}), body)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = runA(nil)
			} else {
				_, err = runB(nil)
			}
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen, "usages sharing a key must contend on one semaphore")
}

func TestConcurrencyConflictingLimitsForSameKeyErrors(t *testing.T) {
	def := NewConcurrency("keyed-conflict")
	body := func(exec *runtime.ExecutionInput) (any, error) { return nil, nil }

	runA := wrapUsage(def.With(ConcurrencyConfig{Limit: 1, Key: "k"}), body)
	runB := wrapUsage(def.With(ConcurrencyConfig{Limit: 2, Key: "k"}), body)

	_, err := runA(nil)
	require.NoError(t, err)

	_, err = runB(nil)
	require.Error(t, err)
}

func TestKeySerialRunsSameKeySequentially(t *testing.T) {
	def := NewKeySerial("serial", time.Second, func(exec *runtime.ExecutionInput) string {
		return exec.Input.(string)
	})

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			run := wrap(def, func(exec *runtime.ExecutionInput) (any, error) {
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
			_, err := run("k")
			require.NoError(t, err)
		}()
		time.Sleep(time.Millisecond) // enforce submission order
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}
