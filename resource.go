package runtime

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ResourceState is the lifecycle state machine of §4.6: unborn ->
// initializing -> ready -> disposing -> disposed, with failed
// reachable from initializing and failed-dispose from disposing.
type ResourceState string

const (
	StateUnborn        ResourceState = "unborn"
	StateInitializing  ResourceState = "initializing"
	StateReady         ResourceState = "ready"
	StateDisposing     ResourceState = "disposing"
	StateDisposed      ResourceState = "disposed"
	StateFailed        ResourceState = "failed"
	StateFailedDispose ResourceState = "failed-dispose"
)

// ResourceInstance tracks one resource definition's live state, value,
// and scratch object across the boot/dispose lifecycle.
type ResourceInstance struct {
	Def     *ResourceDefinition
	State   ResourceState
	Value   any
	Scratch any
	Depth   int // distance from the root in the init graph, for same-depth concurrent dispose
}

// ResourceManager drives resource init/dispose per §4.6, grounded on
// the teacher's Tick, which dispatches same-depth systems concurrently
// and walks depths in order; dispose here walks the same depths in
// reverse using golang.org/x/sync/errgroup and aggregates failures
// with github.com/hashicorp/go-multierror the way world.go collects
// per-system tick errors.
type ResourceManager struct {
	store      *Store
	middleware *MiddlewareManager
	events     *EventManager
	logger     Logger

	instances map[string]*ResourceInstance
	order     []*ResourceDefinition // init order, for reverse-order dispose
}

// NewResourceManager constructs a manager over an already resolved
// init order (see ResolveInitOrder).
func NewResourceManager(store *Store, middleware *MiddlewareManager, events *EventManager, logger Logger, order []*ResourceDefinition) *ResourceManager {
	if logger == nil {
		logger = noopLogger{}
	}
	rm := &ResourceManager{
		store:      store,
		middleware: middleware,
		events:     events,
		logger:     logger,
		instances:  make(map[string]*ResourceInstance, len(order)),
		order:      order,
	}
	depth := make(map[string]int, len(order))
	for _, r := range order {
		d := 0
		for _, dep := range r.computedDeps {
			if dd, ok := depth[dep.ID()]; ok && dd+1 > d {
				d = dd + 1
			}
		}
		depth[r.id] = d
		rm.instances[r.id] = &ResourceInstance{Def: r, State: StateUnborn, Depth: d}
	}
	return rm
}

// InitAll initializes every resource in dependency order, running
// same-depth resources sequentially (init order must still respect
// single-flight semantics on shared collaborators like Store), and
// emits beforeInit/afterInit/onError lifecycle events per resource
// (§4.6, §4.13).
func (rm *ResourceManager) InitAll(ctx context.Context) error {
	for _, def := range rm.order {
		if err := rm.initOne(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

func (rm *ResourceManager) initOne(ctx context.Context, def *ResourceDefinition) error {
	inst := rm.instances[def.id]
	inst.State = StateInitializing

	if def.ContextFunc != nil {
		inst.Scratch = def.ContextFunc()
	}

	_ = rm.events.Emit(ctx, lifecycleEventID(def.id, lifecycleBeforeInit), nil, def.id)

	deps := make(map[string]any, len(def.computedDeps))
	for name, it := range def.computedDeps {
		if dep, ok := rm.instances[it.ID()]; ok {
			deps[name] = dep.Value
		} else {
			deps[name] = it
		}
	}

	rc := &RunContext{Context: ctx, Deps: deps, Journal: NewJournal(), Logger: rm.logger, Input: rm.store.ResourceConfig(def.id), Scratch: inst.Scratch}

	body := func(exec *ExecutionInput) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("resource %q init panicked: %v", def.id, r)
			}
		}()
		return def.InitFunc(exec.RunContext)
	}

	composed := rm.middleware.Compose(def, def.Middleware, rc, body)
	value, err := composed(rc.Input)

	suppressed := false
	if err != nil {
		payload := &OnErrorPayload{OwnerID: def.id, Error: err}
		_ = rm.events.Emit(ctx, lifecycleEventID(def.id, lifecycleOnError), payload, def.id)
		if !payload.Suppress {
			inst.State = StateFailed
			return wrapKernelError(ErrRuntime, err, "resource %q failed to initialize", def.id)
		}
		suppressed = true
	}

	if !suppressed {
		inst.Value = value
		inst.State = StateReady
		_ = rm.events.Emit(ctx, lifecycleEventID(def.id, lifecycleAfterInit), AfterInitPayload{ResourceID: def.id, Value: value}, def.id)
	} else {
		inst.State = StateFailed
	}
	return nil
}

// Values returns the live value of every ready resource, keyed by id,
// for wiring into task/hook dependency maps.
func (rm *ResourceManager) Values() map[string]any {
	out := make(map[string]any, len(rm.instances))
	for id, inst := range rm.instances {
		out[id] = inst.Value
	}
	return out
}

// DisposeAll tears every resource down in reverse init order, running
// resources at the same depth concurrently via errgroup and
// aggregating failures with go-multierror, the way the teacher's Tick
// fans same-depth systems out and world.go folds per-system errors
// into one report. Idempotent: a second call is a no-op.
func (rm *ResourceManager) DisposeAll(ctx context.Context) error {
	var merr *multierror.Error

	groups := groupByDepthDescending(rm.order, rm.instances)
	for _, group := range groups {
		g, gctx := errgroup.WithContext(ctx)
		errs := make([]error, len(group))
		for i, def := range group {
			i, def := i, def
			g.Go(func() error {
				errs[i] = rm.disposeOne(gctx, def)
				return nil
			})
		}
		_ = g.Wait()
		for _, err := range errs {
			if err != nil {
				merr = multierror.Append(merr, err)
			}
		}
	}
	return merr.ErrorOrNil()
}

func (rm *ResourceManager) disposeOne(ctx context.Context, def *ResourceDefinition) error {
	inst := rm.instances[def.id]
	if inst.State == StateDisposed || inst.State == StateDisposing || inst.State == StateUnborn || inst.State == StateFailed || inst.State == StateFailedDispose {
		return nil
	}
	inst.State = StateDisposing

	if def.DisposeFunc != nil {
		rc := &RunContext{Context: ctx, Journal: NewJournal(), Logger: rm.logger, Input: rm.store.ResourceConfig(def.id), Scratch: inst.Scratch}
		if err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("resource %q dispose panicked: %v", def.id, r)
				}
			}()
			return def.DisposeFunc(rc, inst.Value)
		}(); err != nil {
			_ = rm.events.Emit(ctx, lifecycleEventID(def.id, lifecycleOnError), OnErrorPayload{OwnerID: def.id, Error: err}, def.id)
			inst.State = StateFailedDispose
			return wrapKernelError(ErrRuntime, err, "resource %q failed to dispose", def.id)
		}
	}
	inst.State = StateDisposed
	return nil
}

// groupByDepthDescending buckets order by Depth, deepest first, for
// reverse-order same-depth-concurrent dispose.
func groupByDepthDescending(order []*ResourceDefinition, instances map[string]*ResourceInstance) [][]*ResourceDefinition {
	maxDepth := 0
	for _, r := range order {
		if d := instances[r.id].Depth; d > maxDepth {
			maxDepth = d
		}
	}
	groups := make([][]*ResourceDefinition, maxDepth+1)
	for _, r := range order {
		d := instances[r.id].Depth
		groups[d] = append(groups[d], r)
	}
	out := make([][]*ResourceDefinition, 0, len(groups))
	for i := len(groups) - 1; i >= 0; i-- {
		if len(groups[i]) > 0 {
			out = append(out, groups[i])
		}
	}
	return out
}
