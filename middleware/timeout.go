package middleware

import (
	"context"
	"time"

	"github.com/cascadehq/runtime"
)

// NewTimeout returns a middleware that races the inner chain against
// ttl, failing with a TimeoutError if it doesn't settle first (§4.9).
// A ttl of zero fails immediately without even starting the inner
// call, matching the kernel's "ttl=0 means already expired" contract.
func NewTimeout(id string, ttl time.Duration) *runtime.MiddlewareDefinition {
	return runtime.DefineMiddleware(runtime.MiddlewareOptions{
		ID: id,
		Run: func(exec *runtime.ExecutionInput) (any, error) {
			if ttl <= 0 {
				return nil, runtime.NewTimeoutError(ttl.String())
			}

			ctx, cancel := context.WithTimeout(exec.Context, ttl)
			defer cancel()

			type result struct {
				out any
				err error
			}
			resultCh := make(chan result, 1)
			go func() {
				out, err := exec.Next()
				resultCh <- result{out: out, err: err}
			}()

			select {
			case r := <-resultCh:
				return r.out, r.err
			case <-ctx.Done():
				return nil, runtime.NewTimeoutError(ttl.String())
			}
		},
	})
}
