package middleware

import (
	"context"

	"github.com/cascadehq/runtime"
)

// FallbackOutcome is written to the shared fallback journal key so
// downstream middleware/observability can tell a fallback fired
// (resolved Open Question: one kernel-visible key named "fallback",
// see the project's design notes).
type FallbackOutcome struct {
	Active bool
	Error  error
}

var fallbackKey = runtime.NewJournalKey[FallbackOutcome]("fallback")

// FallbackConfig configures NewFallback: exactly one of Value, Func,
// or Task should be set by the caller composing the middleware body.
type FallbackConfig struct {
	Value any
	Func  func(exec *runtime.ExecutionInput, cause error) (any, error)

	// Task names a fallback task to invoke with the original input
	// when the chain fails (§4.12 "fallback: value | fn(error,input)→
	// value | Task"). Invoke supplies the actual call mechanic — this
	// middleware has no built-in reference to a task runner, so the
	// caller composing it binds one (typically TaskRunner.Run).
	Task   *runtime.TaskDefinition
	Invoke func(ctx context.Context, task *runtime.TaskDefinition, input any) (any, error)
}

// NewFallback returns a middleware that substitutes a configured
// value, computes one via Func, or invokes a fallback Task whenever
// the inner chain fails, recording the outcome on the execution
// journal (§4.9, §4.12, §4.14).
func NewFallback(id string, cfg FallbackConfig) *runtime.MiddlewareDefinition {
	return runtime.DefineMiddleware(runtime.MiddlewareOptions{
		ID: id,
		Run: func(exec *runtime.ExecutionInput) (any, error) {
			out, err := exec.Next()
			if err == nil {
				runtime.SetJournal(exec.Journal, fallbackKey, FallbackOutcome{Active: false})
				return out, nil
			}

			runtime.SetJournal(exec.Journal, fallbackKey, FallbackOutcome{Active: true, Error: err})
			switch {
			case cfg.Func != nil:
				return cfg.Func(exec, err)
			case cfg.Task != nil:
				if cfg.Invoke == nil {
					return nil, runtime.RuntimeError("fallback task %q configured without an Invoke mechanic", cfg.Task.ID())
				}
				return cfg.Invoke(exec.Context, cfg.Task, exec.Input)
			default:
				return cfg.Value, nil
			}
		},
	})
}
