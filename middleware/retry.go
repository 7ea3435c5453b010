package middleware

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/cascadehq/runtime"
)

// RetryConfig configures NewRetry (§4.9). MaxAttempts counts the
// first try plus retries (so MaxAttempts=3 means up to two retries).
// BackoffBurst/BackoffEvery describe a token-bucket delay schedule via
// golang.org/x/time/rate: each retry waits for one token, so a small
// burst allows the first couple of retries through quickly while
// later ones space out by BackoffEvery.
type RetryConfig struct {
	MaxAttempts  int
	BackoffEvery time.Duration
	BackoffBurst int
}

// NewRetry returns a middleware that re-invokes the inner chain up to
// MaxAttempts times, waiting on a rate.Limiter between attempts, and
// returning the last error if every attempt fails.
func NewRetry(id string, cfg RetryConfig) *runtime.MiddlewareDefinition {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	burst := cfg.BackoffBurst
	if burst <= 0 {
		burst = 1
	}
	var limiter *rate.Limiter
	if cfg.BackoffEvery > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.BackoffEvery), burst)
	}

	return runtime.DefineMiddleware(runtime.MiddlewareOptions{
		ID: id,
		Run: func(exec *runtime.ExecutionInput) (any, error) {
			var lastErr error
			for attempt := 0; attempt < attempts; attempt++ {
				if attempt > 0 && limiter != nil {
					if err := limiter.Wait(exec.Context); err != nil {
						return nil, err
					}
				}
				out, err := exec.Next()
				if err == nil {
					return out, nil
				}
				lastErr = err
			}
			return nil, lastErr
		},
	})
}
