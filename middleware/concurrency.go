// Package middleware provides the kernel's standard cross-cutting
// middleware: bounded concurrency, per-key serialization, timeouts,
// fallback values, and retry with backoff (§4.7, §4.9).
package middleware

import (
	"sync"
	"time"

	"github.com/cascadehq/runtime"
)

// ConcurrencyConfig configures one usage of the concurrency middleware
// (§4.12 "concurrency limit"). Limit bounds simultaneous executions;
// Key, when set, shares one semaphore across every usage naming that
// key instead of giving each usage its own.
type ConcurrencyConfig struct {
	Limit int
	Key   string
}

// sharedLimiter remembers the Limit a key was first registered with,
// so a later usage requesting a different Limit for the same key can
// be rejected instead of silently picking one.
type sharedLimiter struct {
	limit int
	sem   *runtime.Semaphore
}

// concurrencyRegistry is the per-middleware-definition home for shared
// keyed semaphores; unkeyed usages get a semaphore private to their
// target (task or resource id) instead.
type concurrencyRegistry struct {
	mu       sync.Mutex
	byKey    map[string]*sharedLimiter
	byTarget map[string]*runtime.Semaphore
}

func (r *concurrencyRegistry) acquire(targetID string, cfg ConcurrencyConfig) (*runtime.Semaphore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.Key == "" {
		sem, ok := r.byTarget[targetID]
		if !ok {
			sem = runtime.NewSemaphore(cfg.Limit)
			r.byTarget[targetID] = sem
		}
		return sem, nil
	}
	existing, ok := r.byKey[cfg.Key]
	if !ok {
		sl := &sharedLimiter{limit: cfg.Limit, sem: runtime.NewSemaphore(cfg.Limit)}
		r.byKey[cfg.Key] = sl
		return sl.sem, nil
	}
	if existing.limit != cfg.Limit {
		return nil, runtime.RuntimeError("concurrency key %q already bound to limit %d, got conflicting limit %d", cfg.Key, existing.limit, cfg.Limit)
	}
	return existing.sem, nil
}

// NewConcurrency returns a middleware bounding simultaneous executions
// to the ConcurrencyConfig bound via Middleware.With on each usage.
// Usages sharing a Key contend on one semaphore; usages sharing a key
// but disagreeing on Limit fail the run instead of silently picking
// one (§4.12), using the kernel's own FIFO Semaphore so waiters are
// served in arrival order.
func NewConcurrency(id string) *runtime.MiddlewareDefinition {
	registry := &concurrencyRegistry{byKey: make(map[string]*sharedLimiter), byTarget: make(map[string]*runtime.Semaphore)}
	return runtime.DefineMiddleware(runtime.MiddlewareOptions{
		ID: id,
		Run: func(exec *runtime.ExecutionInput) (any, error) {
			cfg, _ := exec.MiddlewareConfig.(ConcurrencyConfig)
			sem, err := registry.acquire(exec.Target.ID(), cfg)
			if err != nil {
				return nil, err
			}
			if err := sem.Acquire(exec.Context); err != nil {
				return nil, err
			}
			defer sem.Release()
			return exec.Next()
		},
	})
}

// KeyFunc extracts the serialization key from an execution; it
// typically reads exec.Input or exec.MiddlewareConfig.
type KeyFunc func(exec *runtime.ExecutionInput) string

// NewKeySerial returns a middleware that runs executions sharing the
// same key one at a time, in submission order, via the kernel's
// SerialQueue (§4.3, §4.7 single-flight-per-key concurrency).
func NewKeySerial(id string, idleEviction time.Duration, keyFn KeyFunc) *runtime.MiddlewareDefinition {
	queue := runtime.NewSerialQueue(idleEviction)
	return runtime.DefineMiddleware(runtime.MiddlewareOptions{
		ID: id,
		Run: func(exec *runtime.ExecutionInput) (any, error) {
			key := keyFn(exec)
			var out any
			var runErr error
			done, err := queue.Run(key, func() {
				out, runErr = exec.Next()
			})
			if err != nil {
				return nil, err
			}
			select {
			case <-done:
				return out, runErr
			case <-exec.Context.Done():
				return nil, exec.Context.Err()
			}
		},
	})
}
