package runtime

import (
	"context"
	"fmt"
)

// TaskRunner executes one task's composed pipeline: input validation,
// middleware chain, result validation, and error-identity lookup
// (§4.8). Grounded on runWorkGroup's per-system call shape, with
// validator-backed schemas replacing the teacher's struct-tag-free
// component checks.
type TaskRunner struct {
	store      *Store
	middleware *MiddlewareManager
	tunnel     *TunnelRouter
	events     *EventManager
	logger     Logger
}

// NewTaskRunner wires the collaborators a task run needs.
func NewTaskRunner(store *Store, middleware *MiddlewareManager, tunnel *TunnelRouter, events *EventManager, logger Logger) *TaskRunner {
	if logger == nil {
		logger = noopLogger{}
	}
	return &TaskRunner{store: store, middleware: middleware, tunnel: tunnel, events: events, logger: logger}
}

// Run executes def with input, validating both ends and resolving its
// dependency map into concrete values for RunContext.Deps (§3, §4.8).
// When def is tunnel-routed, the remote call becomes the pipeline's
// inner body instead of bypassing middleware composition, and the
// local middleware list is narrowed to def.TunnelPolicy (§4.7 tunnel
// policy integration, §4.8).
func (tr *TaskRunner) Run(ctx context.Context, def *TaskDefinition, input any, resourceValues map[string]any) (result any, err error) {
	if def.InputSchema != nil {
		input, err = def.InputSchema.Parse(input)
		if err != nil {
			return nil, err
		}
	}

	deps := make(map[string]any, len(def.computedDeps))
	for name, it := range def.computedDeps {
		if v, ok := resourceValues[it.ID()]; ok {
			deps[name] = v
			continue
		}
		deps[name] = it
	}

	rc := &RunContext{Context: ctx, Deps: deps, Journal: NewJournal(), Logger: tr.logger}

	if tr.events != nil {
		_ = tr.events.Emit(ctx, lifecycleEventID(def.id, lifecycleBeforeRun), nil, def.id)
	}

	localMiddleware := def.Middleware
	var body func(exec *ExecutionInput) (any, error)

	var tunnelRunner *TunnelRunner
	if tr.tunnel != nil {
		tunnelRunner = tr.tunnel.MatchTask(def)
	}

	if tunnelRunner != nil {
		localMiddleware = filterByTunnelPolicy(def.Middleware, def.TunnelPolicy)
		body = func(exec *ExecutionInput) (any, error) {
			return tunnelRunner.Run(exec.Context, def.id, exec.Input)
		}
	} else {
		body = func(exec *ExecutionInput) (out any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("task %q panicked: %v", def.id, r)
				}
			}()
			return def.RunFunc(exec.RunContext)
		}
	}

	composed := tr.middleware.Compose(def, localMiddleware, rc, body)
	out, runErr := composed(input)

	if tr.events != nil {
		if runErr != nil {
			_ = tr.events.Emit(ctx, lifecycleEventID(def.id, lifecycleOnError), OnErrorPayload{OwnerID: def.id, Error: runErr}, def.id)
		} else {
			_ = tr.events.Emit(ctx, lifecycleEventID(def.id, lifecycleAfterRun), AfterRunPayload{TaskID: def.id, Result: out}, def.id)
		}
	}

	return tr.finish(def, out, runErr)
}

// filterByTunnelPolicy narrows local to the middleware ids named in
// policy; a nil policy means "all local middleware runs client-side"
// (§4.7).
func filterByTunnelPolicy(local []*MiddlewareUsage, policy []string) []*MiddlewareUsage {
	if policy == nil {
		return local
	}
	allow := make(map[string]bool, len(policy))
	for _, id := range policy {
		allow[id] = true
	}
	out := make([]*MiddlewareUsage, 0, len(local))
	for _, u := range local {
		if allow[u.Definition.id] {
			out = append(out, u)
		}
	}
	return out
}

func (tr *TaskRunner) finish(def *TaskDefinition, out any, runErr error) (any, error) {
	if runErr != nil {
		return nil, tr.resolveIdentity(def, runErr)
	}
	if def.ResultSchema != nil {
		validated, verr := def.ResultSchema.Parse(out)
		if verr != nil {
			return nil, verr
		}
		return validated, nil
	}
	return out, nil
}

// resolveIdentity maps a thrown IdentifiedError to its matching
// ErrorDefinition's Throw result (§4.8), leaving any other error
// untouched.
func (tr *TaskRunner) resolveIdentity(def *TaskDefinition, runErr error) error {
	ie, ok := runErr.(IdentifiedError)
	if !ok {
		return runErr
	}
	errDef, ok := tr.store.ErrorDef(ie.ErrorID())
	if !ok {
		return runErr
	}
	return errDef.Throw(ie.ErrorData())
}

// SubscribeAsListener registers def as an event listener when it
// declares On, normalizing its body into the event manager's
// listenerFunc shape (§4.2 "tasks as listeners").
func (tr *TaskRunner) SubscribeAsListener(em *EventManager, def *TaskDefinition, resourceValues map[string]any) error {
	if def.On == "" {
		return nil
	}
	return em.Subscribe(def.id, def.On, def.ListenerOrder, func(ctx context.Context, emission *EventEmission) error {
		_, err := tr.Run(ctx, def, emission.Data, resourceValues)
		return err
	})
}
