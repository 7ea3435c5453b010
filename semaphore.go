package runtime

import (
	"context"
	"sync"
)

// Semaphore is a counted FIFO permit allocator (§4.2). Acquire blocks
// cooperatively until a permit is free or ctx/dispose cancels it;
// permits are handed out in strict first-come-first-served order on
// release, mirroring the closed-channel broadcast shutdown idiom the
// teacher's worker pool uses for its own dispatch loop.
type Semaphore struct {
	mu        sync.Mutex
	limit     int
	available int
	waiters   []chan error
	disposed  bool
}

// NewSemaphore constructs a semaphore with the given permit count.
// A non-positive limit is treated as 1.
func NewSemaphore(limit int) *Semaphore {
	if limit <= 0 {
		limit = 1
	}
	return &Semaphore{limit: limit, available: limit}
}

// Acquire blocks until a permit is available, ctx is cancelled, or the
// semaphore is disposed.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return RuntimeError("semaphore disposed")
	}
	if s.available > 0 {
		s.available--
		s.mu.Unlock()
		return nil
	}
	wait := make(chan error, 1)
	s.waiters = append(s.waiters, wait)
	s.mu.Unlock()

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		s.cancelWaiter(wait)
		return ctx.Err()
	}
}

// cancelWaiter removes wait from the queue if it has not yet been
// granted a permit; if it already has one, the permit is released
// back to the pool so it is not lost.
func (s *Semaphore) cancelWaiter(wait chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == wait {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
	// Already granted (race with release); hand the permit back.
	select {
	case err, ok := <-wait:
		if ok && err == nil {
			s.releaseLocked()
		}
	default:
	}
}

// Release returns one permit to the pool, waking the longest-waiting
// acquirer if any.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *Semaphore) releaseLocked() {
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		next <- nil
		return
	}
	if s.available < s.limit {
		s.available++
	}
}

// Available reports the number of permits currently free.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Dispose rejects all current and future waiters with a dispose
// error. Idempotent.
func (s *Semaphore) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	for _, w := range s.waiters {
		w <- RuntimeError("semaphore disposed")
	}
	s.waiters = nil
}
