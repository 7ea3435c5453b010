package runtime

import (
	"context"
)

// TunnelMode controls which side of a client/server split a tunneled
// resource plays (§4.10).
type TunnelMode string

const (
	TunnelNone   TunnelMode = "none"
	TunnelClient TunnelMode = "client"
	TunnelServer TunnelMode = "server"
	TunnelBoth   TunnelMode = "both"
)

// EventDeliveryMode controls how a tunneled event is routed relative
// to its local listeners (§4.10).
type EventDeliveryMode string

const (
	DeliveryLocalFirst  EventDeliveryMode = "local-first"
	DeliveryMirror      EventDeliveryMode = "mirror"
	DeliveryRemoteFirst EventDeliveryMode = "remote-first"
)

// TunnelRunFunc performs the actual remote task call and returns its
// raw result.
type TunnelRunFunc func(ctx context.Context, taskID string, input any) (any, error)

// TunnelEmitFunc performs the actual remote event publish.
type TunnelEmitFunc func(ctx context.Context, eventID string, data any) error

// TunnelRunner is one resource's bound tunnel behavior: which mode it
// plays, which tasks/events it routes, and the underlying transport
// hooks supplying Run/Emit. Selectors accept bare string ids or any
// {ID() string} object; anything else is skipped with a diagnostic
// per the resolved Open Question on selector scope (§9b) — tunnels
// never widen to arbitrary predicate matching.
type TunnelRunner struct {
	Mode              TunnelMode
	Tasks             []any
	Events            []any
	EventDeliveryMode EventDeliveryMode
	Run               TunnelRunFunc
	Emit              TunnelEmitFunc

	taskIDs  map[string]bool
	eventIDs map[string]bool
}

// expandSelectors resolves Tasks/Events into id sets, logging and
// skipping anything that isn't a string or an {ID() string} object.
func (t *TunnelRunner) expandSelectors(logger Logger) {
	t.taskIDs = expandSelectorIDs(t.Tasks, logger)
	t.eventIDs = expandSelectorIDs(t.Events, logger)
}

func expandSelectorIDs(items []any, logger Logger) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out[v] = true
		case item:
			out[v.ID()] = true
		default:
			if logger != nil {
				logger.Warn("tunnel selector entry ignored: not a string or identified object", "value", it)
			}
		}
	}
	return out
}

// TunnelRouter aggregates every registered resource's TunnelRunner and
// routes task calls / event emissions through them (§4.10). Grounded
// on the teacher's WorkGroupMode branch in Tick, which chose a
// sync-vs-async dispatch path per group the same way this chooses a
// local-vs-remote path per task/event.
type TunnelRouter struct {
	runners []*TunnelRunner
	logger  Logger
}

// NewTunnelRouter builds a router from every IsTunneled resource found
// in store, expanding their selectors.
func NewTunnelRouter(store *Store, logger Logger) (*TunnelRouter, error) {
	router := &TunnelRouter{logger: logger}
	for _, r := range store.AllResources() {
		if !r.IsTunneled() {
			continue
		}
		tr, ok := store.ResourceConfig(r.id).(*TunnelRunner)
		if !ok || tr == nil {
			continue
		}
		tr.expandSelectors(logger)
		if len(tr.taskIDs) > 0 && tr.Run == nil && tr.Mode != TunnelServer {
			return nil, RuntimeError("tunnel resource %q configures tasks but has no Run transport", r.id)
		}
		router.runners = append(router.runners, tr)
	}
	return router, nil
}

// MatchTask returns the TunnelRunner that would redirect def's
// execution, or nil if none matches. Server-mode tunnels never
// redirect locally (they're the remote side); client/both match
// whenever def.id is in their task selector.
func (tr *TunnelRouter) MatchTask(def *TaskDefinition) *TunnelRunner {
	for _, runner := range tr.runners {
		if runner.Mode == TunnelServer || runner.Mode == TunnelNone {
			continue
		}
		if runner.taskIDs[def.id] {
			return runner
		}
	}
	return nil
}

// RouteTask reports whether def was redirected through a tunnel, and
// if so its result.
func (tr *TunnelRouter) RouteTask(ctx context.Context, def *TaskDefinition, input any) (handled bool, out any, err error) {
	runner := tr.MatchTask(def)
	if runner == nil {
		return false, nil, nil
	}
	out, err = runner.Run(ctx, def.id, input)
	return true, out, err
}

// RouteEvent applies the delivery mode of the first client/both tunnel
// whose event selector matches eventID, running emitLocal and the
// tunnel's Emit in that mode's order and returning the resulting
// error; with no matching tunnel it just runs emitLocal. emitLocal is
// the caller-supplied local-dispatch mechanic (§4.10 delivery mode
// table).
func (tr *TunnelRouter) RouteEvent(ctx context.Context, eventID string, data any, emitLocal func() error) error {
	for _, runner := range tr.runners {
		if runner.Mode == TunnelServer || runner.Mode == TunnelNone {
			continue
		}
		if !runner.eventIDs[eventID] {
			continue
		}
		switch runner.EventDeliveryMode {
		case DeliveryRemoteFirst:
			// remote-first delivers to the remote side only; local
			// listeners are skipped entirely (§4.10).
			if runner.Emit != nil {
				return runner.Emit(ctx, eventID, data)
			}
			return nil
		case DeliveryMirror:
			localErr := emitLocal()
			var remoteErr error
			if runner.Emit != nil {
				remoteErr = runner.Emit(ctx, eventID, data)
			}
			if localErr != nil {
				return localErr
			}
			return remoteErr
		default: // DeliveryLocalFirst
			if err := emitLocal(); err != nil {
				return err
			}
			if runner.Emit != nil {
				return runner.Emit(ctx, eventID, data)
			}
			return nil
		}
	}
	return emitLocal()
}
