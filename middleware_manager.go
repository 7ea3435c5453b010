package runtime

// MiddlewareManager composes the layered pipeline described in §4.7:
// global middleware, then local middleware (each wrapped by its own
// per-middleware interceptors), then global interceptors, then the
// inner body. Shape
// grounded on the teacher's runWorkGroup, which wraps each system call
// with a fixed sequence of cross-cutting passes (timing, panic
// recovery, retry) the same way this composes ExecutionInput layers.
type MiddlewareManager struct {
	locked bool

	globalTask     []*MiddlewareUsage
	globalResource []*MiddlewareUsage

	// globalInterceptors wrap the inner body of every composed pipeline
	// (inside all middleware), outermost first; middlewareIntercept
	// wraps one specific middleware id's own execution.
	globalInterceptors  []func(exec *ExecutionInput, next func() (any, error)) (any, error)
	middlewareIntercept map[string][]func(exec *ExecutionInput, next func() (any, error)) (any, error)
}

// NewMiddlewareManager constructs an empty manager.
func NewMiddlewareManager() *MiddlewareManager {
	return &MiddlewareManager{
		middlewareIntercept: make(map[string][]func(exec *ExecutionInput, next func() (any, error)) (any, error)),
	}
}

// Lock freezes registration (§4.11 step 7).
func (m *MiddlewareManager) Lock() { m.locked = true }

// RegisterGlobal records a middleware definition flagged via
// Everywhere so it is prepended to every task/resource pipeline that
// its globalFilter accepts (or all, if no filter was given).
func (m *MiddlewareManager) RegisterGlobal(def *MiddlewareDefinition, usage *MiddlewareUsage) {
	if def.TargetKind == MiddlewareForResource {
		m.globalResource = append(m.globalResource, usage)
	} else {
		m.globalTask = append(m.globalTask, usage)
	}
}

// Intercept wraps the inner body of every composed pipeline,
// outermost-first in registration order. It applies to task and
// resource pipelines alike and takes no kind filter; an interceptor
// that cares about the kind checks exec.Target.Kind() itself.
func (m *MiddlewareManager) Intercept(fn func(exec *ExecutionInput, next func() (any, error)) (any, error)) error {
	if m.locked {
		return LockedError("middleware manager")
	}
	m.globalInterceptors = append(m.globalInterceptors, fn)
	return nil
}

// InterceptMiddleware wraps just middlewareID's own invocation within
// any pipeline it participates in.
func (m *MiddlewareManager) InterceptMiddleware(middlewareID string, fn func(exec *ExecutionInput, next func() (any, error)) (any, error)) error {
	if m.locked {
		return LockedError("middleware manager")
	}
	m.middlewareIntercept[middlewareID] = append(m.middlewareIntercept[middlewareID], fn)
	return nil
}

// globalsFor returns the global usages applicable to target, filtered
// by each definition's globalFilter and de-duplicated against local.
func (m *MiddlewareManager) globalsFor(target item, local []*MiddlewareUsage) []*MiddlewareUsage {
	var pool []*MiddlewareUsage
	if target.Kind() == KindResource {
		pool = m.globalResource
	} else {
		pool = m.globalTask
	}
	localIDs := make(map[string]bool, len(local))
	for _, u := range local {
		localIDs[u.Definition.id] = true
	}
	out := make([]*MiddlewareUsage, 0, len(pool))
	for _, u := range pool {
		if localIDs[u.Definition.id] {
			continue
		}
		if u.Definition.globalFilter != nil && !u.Definition.globalFilter(target) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Compose builds the final callable for target: global middleware,
// then local middleware (each possibly wrapped by its own
// interceptors), then global interceptors wrapping just the inner
// run, then body as the innermost call (§4.7).
func (m *MiddlewareManager) Compose(target item, local []*MiddlewareUsage, rc *RunContext, body func(exec *ExecutionInput) (any, error)) func(input any) (any, error) {
	chain := append(append([]*MiddlewareUsage{}, m.globalsFor(target, local)...), local...)

	// innermost is body (wrapped by global interceptors); build outward
	// so chain[0] runs first.
	var build func(i int, input any) (any, error)
	build = func(i int, input any) (any, error) {
		exec := &ExecutionInput{RunContext: derivedContext(rc, input), Target: target}
		exec.next = func(overrideInput any) (any, error) {
			nextInput := input
			if overrideInput != nil {
				nextInput = overrideInput
			}
			return build(i+1, nextInput)
		}

		if i >= len(chain) {
			exec.Input = input
			run := func() (any, error) { return body(exec) }
			for i := len(m.globalInterceptors) - 1; i >= 0; i-- {
				wrap := m.globalInterceptors[i]
				inner := run
				run = func() (any, error) { return wrap(exec, inner) }
			}
			return run()
		}

		usage := chain[i]
		exec.MiddlewareConfig = usage.Config

		run := func() (any, error) {
			exec.Input = input
			return usage.Definition.RunFunc(exec)
		}
		for _, wrap := range m.middlewareIntercept[usage.Definition.id] {
			inner := run
			w := wrap
			run = func() (any, error) { return w(exec, inner) }
		}
		return run()
	}

	return func(input any) (any, error) {
		return build(0, input)
	}
}

func derivedContext(rc *RunContext, input any) *RunContext {
	if rc == nil {
		return &RunContext{Input: input}
	}
	clone := *rc
	clone.Input = input
	return &clone
}
