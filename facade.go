package runtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// RunOptions configures Run (§4.11, §6).
type RunOptions struct {
	Debug                 bool
	ShutdownHooks         bool
	ErrorBoundary         bool
	RuntimeCycleDetection bool
	Logger                Logger
	OnUnhandledError      func(ctx context.Context, payload UnhandledErrorPayload)

	// Metrics, when set, is wired in as a global interceptor recording
	// task duration/error counts for every booted task pipeline
	// (§4.12 domain-stack wiring); nil disables instrumentation.
	Metrics *Metrics
}

// RunResult is the handle returned by Run (§4.11, §6): the root
// resource's own value, the facade's logger, and bound operations
// closing over the booted store/managers.
type RunResult struct {
	Value any
	Logger Logger

	RunTask          func(ctx context.Context, taskID string, input any) (any, error)
	EmitEvent        func(ctx context.Context, eventID string, data any) error
	GetResourceValue func(id string) (any, error)
	Dispose          func(ctx context.Context) error

	store   *Store
	events  *EventManager
	runner  *TaskRunner
	res     *ResourceManager
}

// Run executes the nine-step boot sequence of §4.11: register the
// tree, apply overrides, expand tunnel selectors, resolve resource
// init order, install safety nets, init resources in order, lock
// everything, emit the ready event, and hand back a bound facade.
// Grounded on the teacher's SchedulerBuilder, which performs an
// analogous build-then-freeze sequence before returning a runnable
// Scheduler.
func Run(ctx context.Context, root any, opts RunOptions) (*RunResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	store := NewStore()
	if err := RegisterTree(store, root); err != nil {
		return nil, err
	}
	for _, ev := range []*EventDefinition{ReadyEvent, UnhandledErrorEvent} {
		if _, ok := store.Event(ev.ID()); !ok {
			if err := store.storeGenericItem("", ev); err != nil {
				return nil, err
			}
		}
	}

	order, err := ResolveInitOrder(store)
	if err != nil {
		return nil, err
	}
	if err := ValidateReachability(store); err != nil {
		return nil, err
	}

	events := NewEventManager(opts.RuntimeCycleDetection, logger)
	events.isSystemEvent = func(id string) bool {
		if def, ok := store.Event(id); ok {
			return def.IsSystem()
		}
		return false
	}
	if opts.OnUnhandledError != nil {
		events.onUnhandled = opts.OnUnhandledError
	} else {
		events.onUnhandled = func(ctx context.Context, payload UnhandledErrorPayload) {
			_ = events.Emit(ctx, UnhandledErrorEvent.ID(), payload, payload.Source)
		}
	}

	middleware := NewMiddlewareManager()
	for _, mw := range collectGlobalMiddleware(store) {
		middleware.RegisterGlobal(mw.def, mw.usage)
	}

	tunnel, err := NewTunnelRouter(store, logger)
	if err != nil {
		return nil, err
	}
	events.SetTunnel(tunnel)

	if opts.Metrics != nil {
		if err := InstrumentTaskRunner(middleware, opts.Metrics); err != nil {
			return nil, err
		}
	}

	resMgr := NewResourceManager(store, middleware, events, logger, order)

	if opts.ErrorBoundary {
		_ = events.Subscribe("runtime.errorBoundary", UnhandledErrorEvent.ID(), 0, func(ctx context.Context, emission *EventEmission) error {
			if p, ok := emission.Data.(UnhandledErrorPayload); ok {
				logger.Error("unhandled error", "source", p.Source, "err", p.Error)
			}
			return nil
		})
	}

	if err := resMgr.InitAll(ctx); err != nil {
		return nil, err
	}

	resourceValues := resMgr.Values()
	runner := NewTaskRunner(store, middleware, tunnel, events, logger)
	for _, h := range store.AllHooks() {
		h := h
		deps := make(map[string]any, len(h.computedDeps))
		for name, it := range h.computedDeps {
			if v, ok := resourceValues[it.ID()]; ok {
				deps[name] = v
			} else {
				deps[name] = it
			}
		}
		order, on := h.Order, h.On
		_ = events.Subscribe(h.id, on, order, func(ctx context.Context, emission *EventEmission) error {
			return h.RunFunc(ctx, emission, deps)
		})
	}
	for _, t := range store.AllTasks() {
		if err := runner.SubscribeAsListener(events, t, resourceValues); err != nil {
			return nil, err
		}
	}

	store.Lock()
	events.Lock()
	middleware.Lock()

	_ = events.Emit(ctx, ReadyEvent.ID(), nil, "")

	var rootValue any
	if rd, ok := rootDefinitionID(root); ok {
		rootValue = resourceValues[rd]
	}

	result := &RunResult{Value: rootValue, Logger: logger, store: store, events: events, runner: runner, res: resMgr}
	result.RunTask = func(ctx context.Context, taskID string, input any) (any, error) {
		def, ok := store.Task(taskID)
		if !ok {
			return nil, RuntimeError("task %q is not registered", taskID)
		}
		return runner.Run(ctx, def, input, resMgr.Values())
	}
	result.EmitEvent = func(ctx context.Context, eventID string, data any) error {
		return events.Emit(ctx, eventID, data, "")
	}
	result.GetResourceValue = func(id string) (any, error) {
		v, ok := resourceValues[id]
		if !ok {
			return nil, ResourceNotFoundError(id)
		}
		return v, nil
	}
	result.Dispose = func(ctx context.Context) error {
		return resMgr.DisposeAll(ctx)
	}

	if opts.ShutdownHooks {
		installShutdownHooks(result)
	}

	return result, nil
}

func rootDefinitionID(root any) (string, bool) {
	switch v := root.(type) {
	case *ResourceDefinition:
		return v.id, true
	case *ResourceWithConfig:
		return v.Resource.id, true
	default:
		return "", false
	}
}

type globalMiddlewareEntry struct {
	def   *MiddlewareDefinition
	usage *MiddlewareUsage
}

func collectGlobalMiddleware(store *Store) []globalMiddlewareEntry {
	var out []globalMiddlewareEntry
	// global middleware is discovered from the pool of all registered
	// middleware, not by walking consumers: any definition flagged via
	// Everywhere() participates regardless of whether a task/resource
	// lists it locally.
	seen := map[string]bool{}
	addAll := func(defs map[string]*MiddlewareDefinition) {
		for _, m := range defs {
			if m.global && !seen[m.id] {
				seen[m.id] = true
				out = append(out, globalMiddlewareEntry{def: m, usage: m.Bare()})
			}
		}
	}
	addAll(store.taskMW)
	addAll(store.resourceMW)
	return out
}

// installShutdownHooks disposes the runtime on SIGINT/SIGTERM,
// grounded on the teacher's cmd-level signal handling around
// SchedulerBuilder.Run.
func installShutdownHooks(result *RunResult) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		ctx := context.Background()
		if err := result.Dispose(ctx); err != nil {
			result.Logger.Error("shutdown dispose failed", "err", err)
		}
	}()
}
